package events

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Publisher provides convenient methods for publishing typed events.
type Publisher struct {
	bus    EventBus
	source string
}

// NewPublisher creates a new Publisher with the given source identifier.
func NewPublisher(bus EventBus, source string) *Publisher {
	return &Publisher{
		bus:    bus,
		source: source,
	}
}

// PublishBatchDispatched publishes the completion of a dispatcher cycle.
func (p *Publisher) PublishBatchDispatched(ctx context.Context, batchID string, entityIDs []string, rulesEvaluated, rulesFired int, durationMs int64) error {
	event := NewBatchDispatchedEvent(batchID, entityIDs, rulesEvaluated, rulesFired, durationMs, p.source)
	return p.bus.Publish(ctx, event)
}

// PublishRuleFired publishes a rule that matched and whose actions were dispatched.
func (p *Publisher) PublishRuleFired(ctx context.Context, ruleID ulid.ULID, ruleName, triggerEntityID string, actionCount int) error {
	event := NewRuleFiredEvent(ruleID, ruleName, triggerEntityID, actionCount, p.source)
	return p.bus.Publish(ctx, event)
}

// PublishRuleSuspended publishes a rule the failure handler has taken offline.
func (p *Publisher) PublishRuleSuspended(ctx context.Context, ruleID ulid.ULID, reason, suspendedUntil string, consecutiveFail int) error {
	event := NewRuleSuspendedEvent(ruleID, reason, suspendedUntil, consecutiveFail, p.source)
	return p.bus.Publish(ctx, event)
}

// PublishRuleActionFailed publishes a single action delivery failure.
func (p *Publisher) PublishRuleActionFailed(ctx context.Context, ruleID ulid.ULID, actionIndex int, gateway, errMsg string, recoverable bool) error {
	event := NewRuleActionFailedEvent(ruleID, actionIndex, gateway, errMsg, recoverable, p.source)
	return p.bus.Publish(ctx, event)
}

// PublishGatewayStatusChanged publishes a connectivity transition for an action gateway.
func (p *Publisher) PublishGatewayStatusChanged(ctx context.Context, gateway string, status, previous GatewayStatus) error {
	event := NewGatewayStatusChangedEvent(gateway, status, previous, p.source)
	return p.bus.Publish(ctx, event)
}

// PublishReverseIndexRebuilt publishes the result of a reverse-index rebuild.
func (p *Publisher) PublishReverseIndexRebuilt(ctx context.Context, entityCount, ruleCount int, version string) error {
	event := NewReverseIndexRebuiltEvent(entityCount, ruleCount, version, p.source)
	return p.bus.Publish(ctx, event)
}
