package rulesengine

import (
	"context"
	"fmt"
	"time"

	"backend/internal/actionexec"
	"backend/internal/alarmmodel"
	"backend/internal/breaker"
	"backend/internal/condition"
	"backend/internal/logger"
	"go.uber.org/zap"
)

// Engine ties the condition evaluator, action executor, and failure
// handler together into the two-pass run loop described by RunRules.
type Engine struct {
	repos    Repositories
	executor *actionexec.Executor
}

// NewEngine constructs an Engine against repos, executing actions through
// executor.
func NewEngine(repos Repositories, executor *actionexec.Executor) *Engine {
	return &Engine{repos: repos, executor: executor}
}

func (e *Engine) repoForCondition() condition.Repository {
	return conditionRepoAdapter{e.repos}
}

type conditionRepoAdapter struct{ repos Repositories }

func (a conditionRepoAdapter) GetAlarmState() (string, bool) { return a.repos.GetAlarmState() }
func (a conditionRepoAdapter) ListFrigateDetections(label string, cameras []string, since time.Time) ([]alarmmodel.Detection, error) {
	return a.repos.ListFrigateDetections(label, cameras, since)
}
func (a conditionRepoAdapter) FrigateIsAvailable(now time.Time) bool {
	return a.repos.FrigateIsAvailable(now)
}

// RunRules executes both passes against now and returns the aggregate
// tally. It is the scheduler tick's full sweep; the dispatcher evaluates
// single rules through EvaluateRule instead.
func (e *Engine) RunRules(ctx context.Context, now time.Time) (RunResult, error) {
	var result RunResult

	due, err := e.repos.DueRuntimes(now)
	if err != nil {
		return result, fmt.Errorf("rulesengine: due runtimes: %w", err)
	}
	for _, rr := range due {
		e.runDuePass(ctx, now, rr, &result)
	}

	rules, err := e.repos.ListEnabledRules()
	if err != nil {
		return result, fmt.Errorf("rulesengine: list enabled rules: %w", err)
	}
	snapshot, err := e.repos.EntityStateMap()
	if err != nil {
		return result, fmt.Errorf("rulesengine: entity state map: %w", err)
	}
	for _, rule := range rules {
		e.runImmediatePass(ctx, now, rule, snapshot, &result)
	}

	return result, nil
}

func (e *Engine) runDuePass(ctx context.Context, now time.Time, rr RuleRuntime, result *RunResult) {
	rule, runtime := rr.Rule, rr.Runtime

	node, err := parseWhen(rule)
	if err != nil {
		e.recordError(rule, runtime, now, err, TraceSourceTimer, result)
		return
	}

	seconds, child := condition.ExtractFor(node)
	if seconds == 0 {
		runtime.ScheduledFor = nil
		runtime.BecameTrueAt = nil
		_ = e.repos.SaveRuntime(runtime)
		return
	}

	snapshot, err := e.repos.EntityStateMap()
	if err != nil {
		e.recordError(rule, runtime, now, err, TraceSourceTimer, result)
		return
	}

	matched := condition.Eval(child, condition.Context{EntityState: snapshot, Now: now, Repo: e.repoForCondition()})
	if !matched {
		runtime.ScheduledFor = nil
		runtime.BecameTrueAt = nil
		_ = e.repos.SaveRuntime(runtime)
		return
	}

	if runtime.CooldownActive(rule.CooldownSeconds, now) {
		runtime.ScheduledFor = nil
		_ = e.repos.SaveRuntime(runtime)
		result.SkippedCooldown++
		return
	}

	e.fire(ctx, rule, runtime, now, TraceSourceTimer, result)
	runtime.ScheduledFor = nil
}

func (e *Engine) runImmediatePass(ctx context.Context, now time.Time, rule alarmmodel.Rule, snapshot map[string]*string, result *RunResult) {
	result.Evaluated++
	node, err := parseWhen(rule)
	if err != nil {
		runtime, _ := e.repos.EnsureRuntime(rule)
		e.recordError(rule, runtime, now, err, TraceSourceImmediate, result)
		return
	}

	seconds, child := condition.ExtractFor(node)
	ctxEval := condition.Context{EntityState: snapshot, Now: now, Repo: e.repoForCondition()}

	if seconds > 0 {
		matched := condition.Eval(child, ctxEval)
		runtime, err := e.repos.EnsureRuntime(rule)
		if err != nil {
			result.Errors++
			return
		}
		if !matched {
			runtime.BecameTrueAt = nil
			runtime.ScheduledFor = nil
			_ = e.repos.SaveRuntime(runtime)
			return
		}
		if runtime.BecameTrueAt == nil && runtime.ScheduledFor == nil {
			t := now
			scheduled := now.Add(time.Duration(seconds) * time.Second)
			runtime.BecameTrueAt = &t
			runtime.ScheduledFor = &scheduled
			_ = e.repos.SaveRuntime(runtime)
			result.Scheduled++
		}
		return
	}

	matched := condition.Eval(node, ctxEval)
	if !matched {
		return
	}

	runtime, err := e.repos.EnsureRuntime(rule)
	if err != nil {
		result.Errors++
		return
	}
	if runtime.CooldownActive(rule.CooldownSeconds, now) {
		result.SkippedCooldown++
		return
	}

	e.fire(ctx, rule, runtime, now, TraceSourceImmediate, result)
}

func (e *Engine) fire(ctx context.Context, rule alarmmodel.Rule, runtime *alarmmodel.RuleRuntimeState, now time.Time, source TraceSource, result *RunResult) {
	defer func() {
		if p := recover(); p != nil {
			logger.L().Error("rule evaluation panicked", zap.String("rule_id", rule.ID.String()), zap.Any("panic", p))
			result.Errors++
		}
	}()

	evalResult := e.executor.Execute(ctx, &rule, rule.Definition.Then, now, "")

	entry := newRuleActionLog(rule, now, evalResult, source, joinErrors(evalResult.Errors))
	if err := e.repos.LogRuleAction(entry); err != nil {
		logger.L().Error("failed to write rule action log", zap.String("rule_id", rule.ID.String()), zap.Error(err))
	}

	runtime.LastFiredAt = &now
	if len(evalResult.Errors) > 0 {
		breaker.RecordRuleFailure(runtime, joinErrors(evalResult.Errors), now)
		result.Errors++
	} else {
		breaker.RecordRuleSuccess(runtime)
		result.Fired++
	}
	_ = e.repos.SaveRuntime(runtime)
}

func (e *Engine) recordError(rule alarmmodel.Rule, runtime *alarmmodel.RuleRuntimeState, now time.Time, err error, source TraceSource, result *RunResult) {
	logger.L().Error("rule evaluation error", zap.String("rule_id", rule.ID.String()), zap.Error(err))
	entry := newRuleActionLog(rule, now, alarmmodel.EvaluationResult{Timestamp: now}, source, err.Error())
	_ = e.repos.LogRuleAction(entry)
	if runtime != nil {
		breaker.RecordRuleFailure(runtime, err.Error(), now)
		_ = e.repos.SaveRuntime(runtime)
	}
	result.Errors++
}

func parseWhen(rule alarmmodel.Rule) (condition.Node, error) {
	node, err := condition.Parse(rule.Definition.When)
	if err != nil {
		return nil, fmt.Errorf("rulesengine: rule %s: %w", rule.ID, err)
	}
	return node, nil
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
