package events

import (
	"context"
)

// TypedEventHandler is a handler for a specific event type.
type TypedEventHandler[T Event] func(ctx context.Context, event T) error

// SubscribableEventBus extends EventBus with typed subscription helpers.
type SubscribableEventBus interface {
	EventBus

	// Typed subscription helpers
	OnBatchDispatched(handler func(ctx context.Context, event *BatchDispatchedEvent) error) error
	OnRuleFired(handler func(ctx context.Context, event *RuleFiredEvent) error) error
	OnRuleSuspended(handler func(ctx context.Context, event *RuleSuspendedEvent) error) error
	OnRuleActionFailed(handler func(ctx context.Context, event *RuleActionFailedEvent) error) error
	OnGatewayStatusChanged(handler func(ctx context.Context, event *GatewayStatusChangedEvent) error) error
	OnReverseIndexRebuilt(handler func(ctx context.Context, event *ReverseIndexRebuiltEvent) error) error

	// Filtered subscriptions
	OnRuleFiredFor(ruleID string, handler func(ctx context.Context, event *RuleFiredEvent) error) error
}

// subscribableEventBus wraps eventBus with typed subscription helpers.
type subscribableEventBus struct {
	*eventBus
}

// NewSubscribableEventBus creates an EventBus with typed subscription helpers.
func NewSubscribableEventBus(opts EventBusOptions) (SubscribableEventBus, error) {
	bus, err := NewEventBus(opts)
	if err != nil {
		return nil, err
	}

	eb, ok := bus.(*eventBus)
	if !ok {
		return nil, err
	}

	return &subscribableEventBus{eventBus: eb}, nil
}

// OnBatchDispatched subscribes to dispatcher-cycle completion events.
func (eb *subscribableEventBus) OnBatchDispatched(handler func(ctx context.Context, event *BatchDispatchedEvent) error) error {
	return eb.Subscribe(EventTypeBatchDispatched, func(ctx context.Context, event Event) error {
		if typed, ok := event.(*BatchDispatchedEvent); ok {
			return handler(ctx, typed)
		}
		return nil
	})
}

// OnRuleFired subscribes to rule-fired events.
func (eb *subscribableEventBus) OnRuleFired(handler func(ctx context.Context, event *RuleFiredEvent) error) error {
	return eb.Subscribe(EventTypeRuleFired, func(ctx context.Context, event Event) error {
		if typed, ok := event.(*RuleFiredEvent); ok {
			return handler(ctx, typed)
		}
		return nil
	})
}

// OnRuleSuspended subscribes to rule-suspension events.
func (eb *subscribableEventBus) OnRuleSuspended(handler func(ctx context.Context, event *RuleSuspendedEvent) error) error {
	return eb.Subscribe(EventTypeRuleSuspended, func(ctx context.Context, event Event) error {
		if typed, ok := event.(*RuleSuspendedEvent); ok {
			return handler(ctx, typed)
		}
		return nil
	})
}

// OnRuleActionFailed subscribes to action-delivery-failure events.
func (eb *subscribableEventBus) OnRuleActionFailed(handler func(ctx context.Context, event *RuleActionFailedEvent) error) error {
	return eb.Subscribe(EventTypeRuleActionFailed, func(ctx context.Context, event Event) error {
		if typed, ok := event.(*RuleActionFailedEvent); ok {
			return handler(ctx, typed)
		}
		return nil
	})
}

// OnGatewayStatusChanged subscribes to gateway connectivity transitions.
func (eb *subscribableEventBus) OnGatewayStatusChanged(handler func(ctx context.Context, event *GatewayStatusChangedEvent) error) error {
	return eb.Subscribe(EventTypeGatewayStatus, func(ctx context.Context, event Event) error {
		if typed, ok := event.(*GatewayStatusChangedEvent); ok {
			return handler(ctx, typed)
		}
		return nil
	})
}

// OnReverseIndexRebuilt subscribes to reverse-index rebuild events.
func (eb *subscribableEventBus) OnReverseIndexRebuilt(handler func(ctx context.Context, event *ReverseIndexRebuiltEvent) error) error {
	return eb.Subscribe(EventTypeReverseIndexStale, func(ctx context.Context, event Event) error {
		if typed, ok := event.(*ReverseIndexRebuiltEvent); ok {
			return handler(ctx, typed)
		}
		return nil
	})
}

// OnRuleFiredFor subscribes to rule-fired events for one specific rule ID.
func (eb *subscribableEventBus) OnRuleFiredFor(ruleID string, handler func(ctx context.Context, event *RuleFiredEvent) error) error {
	return eb.Subscribe(EventTypeRuleFired, func(ctx context.Context, event Event) error {
		if typed, ok := event.(*RuleFiredEvent); ok {
			if typed.RuleID.String() == ruleID {
				return handler(ctx, typed)
			}
		}
		return nil
	})
}
