package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BaseEvent Tests
// =============================================================================

func TestBaseEvent_Fields(t *testing.T) {
	event := NewBaseEvent("test.event", PriorityNormal, "test-source")

	assert.NotEqual(t, ulid.ULID{}, event.GetID())
	assert.Equal(t, "test.event", event.GetType())
	assert.Equal(t, PriorityNormal, event.GetPriority())
	assert.Equal(t, "test-source", event.GetSource())
	assert.WithinDuration(t, time.Now(), event.GetTimestamp(), time.Second)
}

func TestBaseEvent_Payload(t *testing.T) {
	event := NewBaseEvent("test.event", PriorityNormal, "test-source")

	payload, err := event.Payload()
	require.NoError(t, err)

	var parsed BaseEvent
	err = json.Unmarshal(payload, &parsed)
	require.NoError(t, err)

	assert.Equal(t, event.ID, parsed.ID)
	assert.Equal(t, event.Type, parsed.Type)
	assert.Equal(t, event.Source, parsed.Source)
}

func TestEventMetadata(t *testing.T) {
	metadata := EventMetadata{
		CorrelationID: "corr-123",
		CausationID:   "cause-456",
		UserID:        "user-789",
		RequestID:     "req-abc",
		Extra: map[string]string{
			"custom": "value",
		},
	}

	event := NewBaseEventWithMetadata("test.event", PriorityNormal, "test-source", metadata)

	assert.Equal(t, "corr-123", event.Metadata.CorrelationID)
	assert.Equal(t, "cause-456", event.Metadata.CausationID)
	assert.Equal(t, "user-789", event.Metadata.UserID)
	assert.Equal(t, "req-abc", event.Metadata.RequestID)
	assert.Equal(t, "value", event.Metadata.Extra["custom"])
}

// =============================================================================
// GatewayStatus Tests
// =============================================================================

func TestGatewayStatus_Values(t *testing.T) {
	assert.Equal(t, GatewayStatus("connected"), GatewayStatusConnected)
	assert.Equal(t, GatewayStatus("disconnected"), GatewayStatusDisconnected)
	assert.Equal(t, GatewayStatus("reconnecting"), GatewayStatusReconnecting)
	assert.Equal(t, GatewayStatus("error"), GatewayStatusError)
	assert.Equal(t, GatewayStatus("unknown"), GatewayStatusUnknown)
}

func TestGatewayStatusChangedEvent(t *testing.T) {
	event := NewGatewayStatusChangedEvent("mqtt", GatewayStatusConnected, GatewayStatusDisconnected, "gateway-monitor")

	assert.Equal(t, EventTypeGatewayStatus, event.GetType())
	assert.Equal(t, "mqtt", event.Gateway)
	assert.Equal(t, GatewayStatusConnected, event.Status)
	assert.Equal(t, GatewayStatusDisconnected, event.PreviousStatus)

	payload, err := event.Payload()
	require.NoError(t, err)

	var parsed GatewayStatusChangedEvent
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, event.Gateway, parsed.Gateway)
	assert.Equal(t, event.Status, parsed.Status)
}

// =============================================================================
// Rule lifecycle event tests
// =============================================================================

func TestRuleFiredEvent(t *testing.T) {
	ruleID := ulid.Make()
	event := NewRuleFiredEvent(ruleID, "front door unlocked at night", "binary_sensor.front_door", 2, "rules-engine")

	assert.Equal(t, EventTypeRuleFired, event.GetType())
	assert.Equal(t, PriorityCritical, event.GetPriority())
	assert.Equal(t, ruleID, event.RuleID)
	assert.Equal(t, 2, event.ActionCount)

	payload, err := event.Payload()
	require.NoError(t, err)

	var parsed RuleFiredEvent
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, event.RuleID, parsed.RuleID)
	assert.Equal(t, event.TriggerEntityID, parsed.TriggerEntityID)
}

func TestRuleSuspendedEvent(t *testing.T) {
	ruleID := ulid.Make()
	event := NewRuleSuspendedEvent(ruleID, "exceeded failure threshold", "2026-07-30T12:00:00Z", 10, "failure-handler")

	assert.Equal(t, EventTypeRuleSuspended, event.GetType())
	assert.Equal(t, 10, event.ConsecutiveFail)
	assert.Equal(t, "exceeded failure threshold", event.Reason)
}

func TestRuleActionFailedEvent(t *testing.T) {
	ruleID := ulid.Make()
	event := NewRuleActionFailedEvent(ruleID, 0, "home_assistant", "dial tcp: connection refused", true, "action-executor")

	assert.Equal(t, EventTypeRuleActionFailed, event.GetType())
	assert.Equal(t, "home_assistant", event.Gateway)
	assert.True(t, event.Recoverable)
}

func TestBatchDispatchedEvent(t *testing.T) {
	event := NewBatchDispatchedEvent("batch-1", []string{"binary_sensor.front_door", "alarm_panel.state"}, 5, 1, 42, "dispatcher")

	assert.Equal(t, EventTypeBatchDispatched, event.GetType())
	assert.Len(t, event.EntityIDs, 2)
	assert.Equal(t, 5, event.RulesEvaluated)
	assert.Equal(t, 1, event.RulesFired)
}

func TestReverseIndexRebuiltEvent(t *testing.T) {
	event := NewReverseIndexRebuiltEvent(120, 18, "v7", "reverseindex")

	assert.Equal(t, EventTypeReverseIndexStale, event.GetType())
	assert.Equal(t, 120, event.EntityCount)
	assert.Equal(t, 18, event.RuleCount)
	assert.Equal(t, "v7", event.Version)
}

// =============================================================================
// GenericEvent Tests
// =============================================================================

func TestGenericEvent(t *testing.T) {
	data := map[string]interface{}{"key": "value"}
	event := NewGenericEvent("custom.event", PriorityLow, "test-source", data)

	assert.Equal(t, "custom.event", event.GetType())
	assert.Equal(t, PriorityLow, event.GetPriority())
	assert.Equal(t, data, event.Data)

	payload, err := event.Payload()
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

// =============================================================================
// Priority Tests
// =============================================================================

func TestPriority_String(t *testing.T) {
	tests := []struct {
		priority Priority
		expected string
	}{
		{PriorityImmediate, "immediate"},
		{PriorityCritical, "critical"},
		{PriorityNormal, "normal"},
		{PriorityLow, "low"},
		{PriorityBackground, "background"},
		{Priority(99), "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.priority.String())
		})
	}
}

func TestPriority_TargetLatency(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, PriorityImmediate.TargetLatency())
	assert.Equal(t, time.Second, PriorityCritical.TargetLatency())
	assert.Equal(t, 5*time.Second, PriorityNormal.TargetLatency())
	assert.Equal(t, 30*time.Second, PriorityLow.TargetLatency())
	assert.Equal(t, 60*time.Second, PriorityBackground.TargetLatency())
}

func TestPriority_ShouldPersist(t *testing.T) {
	assert.True(t, PriorityImmediate.ShouldPersist())
	assert.True(t, PriorityCritical.ShouldPersist())
	assert.True(t, PriorityNormal.ShouldPersist())
	assert.False(t, PriorityLow.ShouldPersist())
	assert.False(t, PriorityBackground.ShouldPersist())
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityImmediate, ParsePriority("immediate"))
	assert.Equal(t, PriorityCritical, ParsePriority("critical"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityBackground, ParsePriority("background"))
	assert.Equal(t, PriorityNormal, ParsePriority("bogus"))
}

func TestPriority_IsValid(t *testing.T) {
	assert.True(t, PriorityNormal.IsValid())
	assert.False(t, Priority(-1).IsValid())
	assert.False(t, Priority(99).IsValid())
}
