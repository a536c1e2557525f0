package rulesengine

import (
	"time"

	"backend/internal/alarmmodel"
	"backend/internal/condition"
)

// SimulatedRule is one rule's outcome in a SimulateRules dry run.
type SimulatedRule struct {
	RuleID   string
	RuleName string
	Matched  bool
	ForState string // "", "not_true", "would_schedule", "assumed_satisfied"
	Trace    condition.Trace
}

// SimulateResult is the dry-run summary SimulateRules returns.
type SimulateResult struct {
	Evaluated       int
	Matched         int
	WouldSchedule   int
	MatchedRules    []SimulatedRule
	NonMatchingRules []SimulatedRule
}

// simulateRepoAdapter layers a caller-supplied entity-state overlay and
// optional alarm-state override on top of the real repository, so a
// simulation never touches live gateways.
type simulateRepoAdapter struct {
	base       condition.Repository
	alarmState string
	hasAlarm   bool
}

func (a simulateRepoAdapter) GetAlarmState() (string, bool) {
	if a.hasAlarm {
		return a.alarmState, true
	}
	return a.base.GetAlarmState()
}
func (a simulateRepoAdapter) ListFrigateDetections(label string, cameras []string, since time.Time) ([]alarmmodel.Detection, error) {
	return a.base.ListFrigateDetections(label, cameras, since)
}
func (a simulateRepoAdapter) FrigateIsAvailable(now time.Time) bool { return a.base.FrigateIsAvailable(now) }

// SimulateRules is a dry-run evaluation used by debugging/admin surfaces:
// it never executes actions or writes audit rows. entityStates overlays the
// real entity-state map; assumeForSeconds decides whether a `for`-wrapped
// rule whose child is currently true is reported as already satisfied or
// merely pending.
func (e *Engine) SimulateRules(now time.Time, entityStates map[string]*string, assumeForSeconds int, alarmState string, hasAlarmOverride bool) (SimulateResult, error) {
	var out SimulateResult

	merged, err := e.repos.EntityStateMap()
	if err != nil {
		return out, err
	}
	if merged == nil {
		merged = map[string]*string{}
	}
	for k, v := range entityStates {
		merged[k] = v
	}

	repo := simulateRepoAdapter{base: e.repoForCondition(), alarmState: alarmState, hasAlarm: hasAlarmOverride}
	ctxEval := condition.Context{EntityState: merged, Now: now, Repo: repo}

	rules, err := e.repos.ListEnabledRules()
	if err != nil {
		return out, err
	}

	for _, rule := range rules {
		out.Evaluated++
		node, err := parseWhen(rule)
		if err != nil {
			continue
		}

		seconds, child := condition.ExtractFor(node)
		sim := SimulatedRule{RuleID: rule.ID.String(), RuleName: rule.Name}

		if seconds > 0 {
			matched, trace := condition.EvalExplain(child, ctxEval)
			sim.Trace = trace
			if !matched {
				sim.ForState = "not_true"
				sim.Matched = false
				out.NonMatchingRules = append(out.NonMatchingRules, sim)
				continue
			}
			if assumeForSeconds < seconds {
				sim.ForState = "would_schedule"
				sim.Matched = false
				out.WouldSchedule++
				out.NonMatchingRules = append(out.NonMatchingRules, sim)
				continue
			}
			sim.ForState = "assumed_satisfied"
			sim.Matched = true
			out.Matched++
			out.MatchedRules = append(out.MatchedRules, sim)
			continue
		}

		matched, trace := condition.EvalExplain(node, ctxEval)
		sim.Trace = trace
		sim.Matched = matched
		if matched {
			out.Matched++
			out.MatchedRules = append(out.MatchedRules, sim)
		} else {
			out.NonMatchingRules = append(out.NonMatchingRules, sim)
		}
	}

	return out, nil
}
