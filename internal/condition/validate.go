package condition

import "fmt"

// ValidationError is a nested, field-path-keyed validation failure, mirroring
// the source's DRF-style nested errors dict closely enough to report
// exactly which node/field was invalid.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("condition: %s: %v", e.Path, e.Errors)
}

// ValidateWhenNode validates a raw (pre-Parse) condition tree, returning nil
// when the tree is valid or empty. It enforces structural shape, positive
// `seconds`, parseable HH:MM, legal weekday strings, and the root-level
// guardrail that a tree containing only time_in_range (no triggerable
// condition) is rejected.
func ValidateWhenNode(raw map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := validateNode(raw, "when"); err != nil {
		return err
	}
	if hasTimeInRange(raw) && !hasTriggerableCondition(raw) {
		return &ValidationError{Path: "when", Errors: []string{
			"time_in_range must be combined with at least one entity/alarm/frigate condition",
		}}
	}
	return nil
}

func validateNode(raw map[string]any, path string) error {
	op, _ := raw["op"].(string)
	if op == "" {
		return &ValidationError{Path: path + ".op", Errors: []string{"missing op"}}
	}

	switch Op(op) {
	case OpAll, OpAny:
		childrenRaw, ok := raw["children"].([]any)
		if !ok || len(childrenRaw) == 0 {
			return &ValidationError{Path: path + ".children", Errors: []string{"must be a non-empty list"}}
		}
		for i, c := range childrenRaw {
			cm, ok := c.(map[string]any)
			if !ok {
				return &ValidationError{Path: fmt.Sprintf("%s.children[%d]", path, i), Errors: []string{"must be an object"}}
			}
			if err := validateNode(cm, fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
				return err
			}
		}

	case OpNot:
		child, ok := raw["child"].(map[string]any)
		if !ok {
			return &ValidationError{Path: path + ".child", Errors: []string{"required"}}
		}
		return validateNode(child, path+".child")

	case OpFor:
		seconds, ok := toInt(raw["seconds"])
		if !ok || seconds <= 0 {
			return &ValidationError{Path: path + ".seconds", Errors: []string{"must be a positive integer"}}
		}
		child, ok := raw["child"].(map[string]any)
		if !ok {
			return &ValidationError{Path: path + ".child", Errors: []string{"required"}}
		}
		return validateNode(child, path+".child")

	case OpEntityState:
		entityID, _ := raw["entity_id"].(string)
		equals, _ := raw["equals"].(string)
		if entityID == "" {
			return &ValidationError{Path: path + ".entity_id", Errors: []string{"required"}}
		}
		if equals == "" {
			return &ValidationError{Path: path + ".equals", Errors: []string{"required"}}
		}

	case OpAlarmStateIn:
		states := toStringSlice(raw["states"])
		if len(states) == 0 {
			return &ValidationError{Path: path + ".states", Errors: []string{"must be a non-empty list"}}
		}

	case OpFrigatePersonDetected:
		cameras := toStringSlice(raw["cameras"])
		if len(cameras) == 0 {
			return &ValidationError{Path: path + ".cameras", Errors: []string{"must be a non-empty list of camera strings"}}
		}
		withinSeconds, ok := toInt(raw["within_seconds"])
		if !ok || withinSeconds <= 0 {
			return &ValidationError{Path: path + ".within_seconds", Errors: []string{"must be a positive integer"}}
		}
		threshold, ok := toFloat(raw["min_confidence_pct"])
		if !ok || threshold < 0 || threshold > 100 {
			return &ValidationError{Path: path + ".min_confidence_pct", Errors: []string{"must be between 0 and 100"}}
		}
		agg := Aggregation(stringOr(raw["aggregation"], string(AggregationMax)))
		if agg == AggregationPercentile {
			if _, ok := toInt(raw["percentile"]); !ok {
				return &ValidationError{Path: path + ".percentile", Errors: []string{"required when aggregation is percentile"}}
			}
		}

	case OpTimeInRange:
		startMin, okStart := parseHHMM(stringOr(raw["start"], ""))
		endMin, okEnd := parseHHMM(stringOr(raw["end"], ""))
		if !okStart {
			return &ValidationError{Path: path + ".start", Errors: []string{"must be HH:MM (24-hour)"}}
		}
		if !okEnd {
			return &ValidationError{Path: path + ".end", Errors: []string{"must be HH:MM (24-hour)"}}
		}
		if startMin == endMin {
			return &ValidationError{Path: path + ".end", Errors: []string{"must not equal start"}}
		}
		if _, ok := normalizeDays(toStringSlice(raw["days"])); !ok {
			return &ValidationError{Path: path + ".days", Errors: []string{"must be a list of day strings (mon..sun)"}}
		}
		if _, ok := resolveLocation(stringOr(raw["tz"], "system")); !ok {
			return &ValidationError{Path: path + ".tz", Errors: []string{"invalid time zone id"}}
		}

	default:
		return &ValidationError{Path: path + ".op", Errors: []string{fmt.Sprintf("unsupported op: %s", op)}}
	}

	return nil
}

func hasTriggerableCondition(raw map[string]any) bool {
	op, _ := raw["op"].(string)
	switch Op(op) {
	case OpEntityState, OpAlarmStateIn, OpFrigatePersonDetected:
		return true
	case OpTimeInRange:
		return false
	case OpAll, OpAny:
		for _, c := range toMapSlice(raw["children"]) {
			if hasTriggerableCondition(c) {
				return true
			}
		}
		return false
	case OpNot, OpFor:
		child, ok := raw["child"].(map[string]any)
		if !ok {
			return false
		}
		return hasTriggerableCondition(child)
	default:
		return false
	}
}

func hasTimeInRange(raw map[string]any) bool {
	op, _ := raw["op"].(string)
	switch Op(op) {
	case OpTimeInRange:
		return true
	case OpAll, OpAny:
		for _, c := range toMapSlice(raw["children"]) {
			if hasTimeInRange(c) {
				return true
			}
		}
		return false
	case OpNot, OpFor:
		child, ok := raw["child"].(map[string]any)
		if !ok {
			return false
		}
		return hasTimeInRange(child)
	default:
		return false
	}
}

func toMapSlice(raw any) []map[string]any {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
