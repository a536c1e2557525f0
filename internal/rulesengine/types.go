// Package rulesengine implements the two-pass rule evaluation loop: a
// due-runtimes pass that fires rules whose `for`-delay has elapsed, and an
// immediate pass that evaluates every enabled rule against the current
// entity-state snapshot.
package rulesengine

import (
	"time"

	"backend/internal/alarmmodel"
	"github.com/oklog/ulid/v2"
)

// RuleRuntime pairs a rule with its (possibly freshly created) runtime
// state row.
type RuleRuntime struct {
	Rule    alarmmodel.Rule
	Runtime *alarmmodel.RuleRuntimeState
}

// Repositories is the persistence contract RunRules/EvaluateRule/
// SimulateRules need: enabled rules, entity/alarm/frigate read access, and
// runtime/audit-log writes.
type Repositories interface {
	ListEnabledRules() ([]alarmmodel.Rule, error)
	EntityStateMap() (map[string]*string, error)
	DueRuntimes(now time.Time) ([]RuleRuntime, error)
	EnsureRuntime(rule alarmmodel.Rule) (*alarmmodel.RuleRuntimeState, error)
	SaveRuntime(rt *alarmmodel.RuleRuntimeState) error
	GetAlarmState() (state string, ok bool)
	FrigateIsAvailable(now time.Time) bool
	ListFrigateDetections(label string, cameras []string, since time.Time) ([]alarmmodel.Detection, error)
	LogRuleAction(entry alarmmodel.RuleActionLog) error
}

// RunResult is the {evaluated, fired, scheduled, skipped_cooldown, errors}
// tally RunRules returns.
type RunResult struct {
	Evaluated      int
	Fired          int
	Scheduled      int
	SkippedCooldown int
	Errors         int
}

// AsMap serializes the tally for status/diagnostic surfaces.
func (r RunResult) AsMap() map[string]int {
	return map[string]int{
		"evaluated":        r.Evaluated,
		"fired":            r.Fired,
		"scheduled":        r.Scheduled,
		"skipped_cooldown": r.SkippedCooldown,
		"errors":           r.Errors,
	}
}

// TraceSource labels an audit row by what triggered the evaluation.
type TraceSource string

const (
	TraceSourceImmediate TraceSource = "immediate"
	TraceSourceTimer     TraceSource = "timer"
)

func newRuleActionLog(rule alarmmodel.Rule, now time.Time, result alarmmodel.EvaluationResult, source TraceSource, errMsg string) alarmmodel.RuleActionLog {
	return alarmmodel.RuleActionLog{
		ID:      ulid.Make(),
		RuleID:  rule.ID,
		FiredAt: now,
		Kind:    string(rule.Kind),
		Actions: rule.Definition.Then,
		Result:  result,
		Trace:   map[string]any{"source": string(source)},
		Error:   errMsg,
	}
}
