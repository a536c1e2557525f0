package events

import (
	"encoding/json"

	"github.com/oklog/ulid/v2"
)

// Event type identifiers used as Watermill topic names and as the "type"
// metadata key on published messages.
const (
	EventTypeBatchDispatched    = "dispatch.batch_dispatched"
	EventTypeRuleFired          = "rule.fired"
	EventTypeRuleSuspended      = "rule.suspended"
	EventTypeRuleActionFailed   = "rule.action_failed"
	EventTypeGatewayStatus      = "gateway.status_changed"
	EventTypeReverseIndexStale  = "reverseindex.rebuilt"
)

// BatchDispatchedEvent marks the completion of one dispatcher cycle: a
// coalesced group of entity-state changes that was debounced, deduplicated,
// and handed to the rules engine.
type BatchDispatchedEvent struct {
	BaseEvent
	BatchID        string   `json:"batchId"`
	EntityIDs      []string `json:"entityIds"`
	RulesEvaluated int      `json:"rulesEvaluated"`
	RulesFired     int      `json:"rulesFired"`
	DurationMs     int64    `json:"durationMs"`
}

func (e *BatchDispatchedEvent) Payload() ([]byte, error) { return json.Marshal(e) }

func NewBatchDispatchedEvent(batchID string, entityIDs []string, rulesEvaluated, rulesFired int, durationMs int64, source string) *BatchDispatchedEvent {
	return &BatchDispatchedEvent{
		BaseEvent:      NewBaseEvent(EventTypeBatchDispatched, PriorityNormal, source),
		BatchID:        batchID,
		EntityIDs:      entityIDs,
		RulesEvaluated: rulesEvaluated,
		RulesFired:     rulesFired,
		DurationMs:     durationMs,
	}
}

// RuleFiredEvent marks a rule whose condition evaluated true and whose
// actions were handed to the executor.
type RuleFiredEvent struct {
	BaseEvent
	RuleID          ulid.ULID `json:"ruleId"`
	RuleName        string    `json:"ruleName"`
	TriggerEntityID string    `json:"triggerEntityId"`
	ActionCount     int       `json:"actionCount"`
}

func (e *RuleFiredEvent) Payload() ([]byte, error) { return json.Marshal(e) }

func NewRuleFiredEvent(ruleID ulid.ULID, ruleName, triggerEntityID string, actionCount int, source string) *RuleFiredEvent {
	return &RuleFiredEvent{
		BaseEvent:       NewBaseEvent(EventTypeRuleFired, PriorityCritical, source),
		RuleID:          ruleID,
		RuleName:        ruleName,
		TriggerEntityID: triggerEntityID,
		ActionCount:     actionCount,
	}
}

// RuleSuspendedEvent marks a rule the failure handler has taken offline
// after exceeding its failure threshold.
type RuleSuspendedEvent struct {
	BaseEvent
	RuleID          ulid.ULID `json:"ruleId"`
	Reason          string    `json:"reason"`
	SuspendedUntil  string    `json:"suspendedUntil"`
	ConsecutiveFail int       `json:"consecutiveFailures"`
}

func (e *RuleSuspendedEvent) Payload() ([]byte, error) { return json.Marshal(e) }

func NewRuleSuspendedEvent(ruleID ulid.ULID, reason, suspendedUntil string, consecutiveFail int, source string) *RuleSuspendedEvent {
	return &RuleSuspendedEvent{
		BaseEvent:       NewBaseEvent(EventTypeRuleSuspended, PriorityCritical, source),
		RuleID:          ruleID,
		Reason:          reason,
		SuspendedUntil:  suspendedUntil,
		ConsecutiveFail: consecutiveFail,
	}
}

// RuleActionFailedEvent marks a single action within a fired rule that the
// executor could not deliver to its gateway.
type RuleActionFailedEvent struct {
	BaseEvent
	RuleID      ulid.ULID `json:"ruleId"`
	ActionIndex int       `json:"actionIndex"`
	Gateway     string    `json:"gateway"`
	ErrorMsg    string    `json:"errorMessage"`
	Recoverable bool      `json:"recoverable"`
}

func (e *RuleActionFailedEvent) Payload() ([]byte, error) { return json.Marshal(e) }

func NewRuleActionFailedEvent(ruleID ulid.ULID, actionIndex int, gateway, errMsg string, recoverable bool, source string) *RuleActionFailedEvent {
	return &RuleActionFailedEvent{
		BaseEvent:   NewBaseEvent(EventTypeRuleActionFailed, PriorityCritical, source),
		RuleID:      ruleID,
		ActionIndex: actionIndex,
		Gateway:     gateway,
		ErrorMsg:    errMsg,
		Recoverable: recoverable,
	}
}

// GatewayStatusChangedEvent marks a transition in an action gateway's
// connectivity, as tracked by the circuit breaker.
type GatewayStatusChangedEvent struct {
	BaseEvent
	Gateway        string        `json:"gateway"`
	Status         GatewayStatus `json:"status"`
	PreviousStatus GatewayStatus `json:"previousStatus"`
}

func (e *GatewayStatusChangedEvent) Payload() ([]byte, error) { return json.Marshal(e) }

func NewGatewayStatusChangedEvent(gateway string, status, previous GatewayStatus, source string) *GatewayStatusChangedEvent {
	return &GatewayStatusChangedEvent{
		BaseEvent:      NewBaseEvent(EventTypeGatewayStatus, PriorityCritical, source),
		Gateway:        gateway,
		Status:         status,
		PreviousStatus: previous,
	}
}

// ReverseIndexRebuiltEvent marks a completed rebuild of the entity-to-rule
// reverse index, published through Publisher.PublishReverseIndexRebuilt.
type ReverseIndexRebuiltEvent struct {
	BaseEvent
	EntityCount int    `json:"entityCount"`
	RuleCount   int    `json:"ruleCount"`
	Version     string `json:"version"`
}

func (e *ReverseIndexRebuiltEvent) Payload() ([]byte, error) { return json.Marshal(e) }

func NewReverseIndexRebuiltEvent(entityCount, ruleCount int, version, source string) *ReverseIndexRebuiltEvent {
	return &ReverseIndexRebuiltEvent{
		BaseEvent:   NewBaseEvent(EventTypeReverseIndexStale, PriorityLow, source),
		EntityCount: entityCount,
		RuleCount:   ruleCount,
		Version:     version,
	}
}
