package rulesengine

import (
	"context"
	"fmt"
	"time"

	"backend/internal/alarmmodel"
	"backend/internal/breaker"
	"backend/internal/cache"
	"backend/internal/logger"
	"go.uber.org/zap"
)

// ruleLockTTL is the per-rule distributed lock's time-to-live; a worker
// holding it longer is a bug, and the TTL prevents permanent wedging.
const ruleLockTTL = 30 * time.Second

func ruleLockKey(ruleID string) string { return fmt.Sprintf("rule_lock:%s", ruleID) }

// SingleRuleOutcome is what EvaluateRule did for one rule, so a caller (the
// dispatcher) can fold it into its own running stats.
type SingleRuleOutcome struct {
	Locked    bool // false if another worker already held the rule's lock
	Allowed   bool // false if the failure handler is backing off or suspended
	Evaluated bool
	Result    RunResult
}

// EvaluateRule evaluates a single rule under a distributed, cache-backed
// lock: it acquires rule_lock:<rule_id> with add-if-absent semantics,
// returns silently on contention (another worker is already evaluating
// this rule, and will observe the current snapshot), checks
// IsRuleAllowed, then runs the same shape of logic RunRules' two passes
// use, restricted to this one rule. Panics inside evaluation are recovered
// and converted into the same failure-recording path as a returned error.
func (e *Engine) EvaluateRule(ctx context.Context, locks cache.Cache[string, bool], rule alarmmodel.Rule, snapshot map[string]*string, now time.Time) SingleRuleOutcome {
	lockKey := ruleLockKey(rule.ID.String())
	if !locks.SetIfAbsent(lockKey, true, ruleLockTTL) {
		return SingleRuleOutcome{Locked: false}
	}
	defer locks.Delete(lockKey)

	runtime, err := e.repos.EnsureRuntime(rule)
	if err != nil {
		logger.L().Error("evaluate rule: ensure runtime", zap.String("rule_id", rule.ID.String()), zap.Error(err))
		return SingleRuleOutcome{Locked: true}
	}

	allowed, reason := breaker.IsRuleAllowed(runtime, now)
	if !allowed {
		logger.L().Debug("rule not allowed", zap.String("rule_id", rule.ID.String()), zap.String("reason", reason))
		return SingleRuleOutcome{Locked: true, Allowed: false}
	}

	var result RunResult
	func() {
		defer func() {
			if p := recover(); p != nil {
				logger.L().Error("evaluate rule panicked", zap.String("rule_id", rule.ID.String()), zap.Any("panic", p))
				breaker.RecordRuleFailure(runtime, fmt.Sprintf("panic: %v", p), now)
				_ = e.repos.SaveRuntime(runtime)
				result.Errors++
			}
		}()
		e.runImmediatePass(ctx, now, rule, snapshot, &result)
	}()

	return SingleRuleOutcome{Locked: true, Allowed: true, Evaluated: true, Result: result}
}
