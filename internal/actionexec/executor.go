package actionexec

import (
	"context"
	"fmt"
	"time"

	"backend/internal/alarmmodel"
	"backend/internal/logger"
	"go.uber.org/zap"
)

// Executor runs a rule's action list end to end, against a fixed handler
// registry built at construction time.
type Executor struct {
	gateways *Gateways
	handlers map[alarmmodel.ActionType]ActionHandler
}

// NewExecutor builds an Executor with the default handler registry.
func NewExecutor(gateways *Gateways) *Executor {
	return &Executor{gateways: gateways, handlers: DefaultRegistry()}
}

// Execute runs rule's actions in list order, never aborting on a single
// action's failure: every action gets a {ok, type, ...} result, errors
// accumulate into EvaluationResult.Errors, and an unknown action type
// yields {ok:false, error:"unsupported_action"}.
func (e *Executor) Execute(ctx context.Context, rule *alarmmodel.Rule, actions []alarmmodel.ActionSpec, now time.Time, actorUser string) alarmmodel.EvaluationResult {
	before := e.snapshotState(ctx)

	results := make([]alarmmodel.ActionResult, 0, len(actions))
	var errs []string

	for i, action := range actions {
		handler, found := e.handlers[action.Type]
		if !found {
			results = append(results, failed(action.Type, "unsupported_action"))
			errs = append(errs, "unsupported_action")
			continue
		}

		result, err := func() (res alarmmodel.ActionResult, rerr error) {
			defer func() {
				if p := recover(); p != nil {
					res = failed(action.Type, "panic during action execution")
					rerr = fmt.Errorf("panic during action execution: %v", p)
					logger.L().Error("action execution panicked",
						zap.String("rule_id", rule.ID.String()), zap.Int("action_index", i), zap.Any("panic", p))
				}
			}()
			return handler.Execute(ctx, e.gateways, rule, action, actorUser)
		}()

		results = append(results, result)
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	after := e.snapshotState(ctx)

	return alarmmodel.EvaluationResult{
		AlarmStateBefore: before,
		AlarmStateAfter:  after,
		Actions:          results,
		Errors:           errs,
		Timestamp:        now,
	}
}

func (e *Executor) snapshotState(ctx context.Context) string {
	if e.gateways == nil || e.gateways.Alarm == nil {
		return ""
	}
	snap, err := e.gateways.Alarm.GetCurrentSnapshot(ctx, true)
	if err != nil {
		return ""
	}
	return snap.CurrentState
}
