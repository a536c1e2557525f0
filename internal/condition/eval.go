package condition

import (
	"time"

	"backend/internal/alarmmodel"
)

// Repository is the read-only context Eval needs beyond the entity-state
// snapshot: current alarm state and Frigate detection history. Errors from
// the underlying integration are expected to be coerced to the zero value
// by the implementation (see alarmstore), matching the source's behavior of
// treating a failed lookup as "no data" rather than propagating.
type Repository interface {
	GetAlarmState() (state string, ok bool)
	ListFrigateDetections(label string, cameras []string, since time.Time) ([]alarmmodel.Detection, error)
	FrigateIsAvailable(now time.Time) bool
}

// Context bundles everything Eval needs to resolve a node against a point
// in time.
type Context struct {
	EntityState map[string]*string
	Now         time.Time
	Repo        Repository
}

// Eval evaluates node against ctx. For is never passed directly; callers
// (the rules engine) extract (seconds, child) via ExtractFor and evaluate
// only the child.
func Eval(node Node, ctx Context) bool {
	ok, _ := evalTraced(node, ctx, false)
	return ok
}

// EvalExplain evaluates node and additionally returns a trace tree
// recording per-node ok/reason/values, for simulation and debugging.
func EvalExplain(node Node, ctx Context) (bool, Trace) {
	ok, trace := evalTraced(node, ctx, true)
	return ok, trace
}

// Trace is one node's explain-mode diagnostic record, with nested Children
// traces for composite operators.
type Trace struct {
	Op       Op             `json:"op"`
	OK       bool           `json:"ok"`
	Reason   string         `json:"reason,omitempty"`
	Values   map[string]any `json:"values,omitempty"`
	Children []Trace        `json:"children,omitempty"`
}

func evalTraced(node Node, ctx Context, explain bool) (bool, Trace) {
	if node == nil {
		return false, Trace{Reason: "nil_node"}
	}

	switch n := node.(type) {
	case All:
		if len(n.Children) == 0 {
			return false, Trace{Op: OpAll, OK: false, Reason: "empty_children"}
		}
		result := true
		var children []Trace
		for _, child := range n.Children {
			ok, t := evalTraced(child, ctx, explain)
			if explain {
				children = append(children, t)
			}
			if !ok {
				result = false
				if !explain {
					break
				}
			}
		}
		return result, Trace{Op: OpAll, OK: result, Children: children}

	case Any:
		if len(n.Children) == 0 {
			return false, Trace{Op: OpAny, OK: false, Reason: "empty_children"}
		}
		result := false
		var children []Trace
		for _, child := range n.Children {
			ok, t := evalTraced(child, ctx, explain)
			if explain {
				children = append(children, t)
			}
			if ok {
				result = true
				if !explain {
					break
				}
			}
		}
		return result, Trace{Op: OpAny, OK: result, Children: children}

	case Not:
		ok, t := evalTraced(n.Child, ctx, explain)
		result := !ok
		return result, Trace{Op: OpNot, OK: result, Children: []Trace{t}}

	case For:
		// The engine is responsible for extracting (seconds, child) and
		// never evaluates a bare For node; treat it as false defensively.
		return false, Trace{Op: OpFor, OK: false, Reason: "for_not_evaluated_directly"}

	case EntityState:
		if n.EntityID == "" || n.Equals == "" {
			return false, Trace{Op: OpEntityState, OK: false, Reason: "invalid_node"}
		}
		current := ctx.EntityState[n.EntityID]
		ok := current != nil && *current == n.Equals
		values := map[string]any{"entity_id": n.EntityID, "equals": n.Equals}
		if current != nil {
			values["current"] = *current
		}
		return ok, Trace{Op: OpEntityState, OK: ok, Values: values}

	case AlarmStateIn:
		if len(n.States) == 0 {
			return false, Trace{Op: OpAlarmStateIn, OK: false, Reason: "missing_states"}
		}
		var current string
		var have bool
		if ctx.Repo != nil {
			current, have = ctx.Repo.GetAlarmState()
		}
		ok := have && contains(n.States, current)
		return ok, Trace{Op: OpAlarmStateIn, OK: ok, Values: map[string]any{"current": current, "states": n.States}}

	case TimeInRange:
		return evalTimeInRange(n, ctx)

	case FrigatePersonDetected:
		return evalFrigate(n, ctx)

	default:
		return false, Trace{Reason: "unknown_op"}
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ExtractFor returns (seconds, child) when node is a For wrapper, or
// (0, node) otherwise — mirroring the source's extract_for helper that the
// rules engine uses to decide between immediate and delayed evaluation.
func ExtractFor(node Node) (int, Node) {
	f, ok := node.(For)
	if !ok {
		return 0, node
	}
	if f.Seconds <= 0 {
		return 0, f.Child
	}
	return f.Seconds, f.Child
}
