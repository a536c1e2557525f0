package breaker

import (
	"testing"
	"time"

	"backend/internal/alarmmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBackoffSeconds(t *testing.T) {
	assert.Equal(t, 0, GetBackoffSeconds(0))
	assert.Equal(t, 60, GetBackoffSeconds(1))
	assert.Equal(t, 300, GetBackoffSeconds(2))
	assert.Equal(t, 900, GetBackoffSeconds(3))
	assert.Equal(t, 3600, GetBackoffSeconds(4))
	assert.Equal(t, 3600, GetBackoffSeconds(100), "clamped to last schedule entry")
}

func TestRecordRuleFailure_Backoff(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	rt := &alarmmodel.RuleRuntimeState{}

	RecordRuleFailure(rt, "boom", now)
	assert.Equal(t, 1, rt.ConsecutiveFailures)
	assert.False(t, rt.ErrorSuspended)
	require.NotNil(t, rt.NextAllowedAt)
	assert.Equal(t, now.Add(60*time.Second), *rt.NextAllowedAt)
}

func TestRecordRuleFailure_TruncatesLongErrors(t *testing.T) {
	now := time.Now()
	rt := &alarmmodel.RuleRuntimeState{}
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	RecordRuleFailure(rt, string(long), now)
	assert.Len(t, rt.LastError, 500)
	assert.True(t, rt.LastError[497:] == "...")
}

func TestRecordRuleFailure_SuspendsAtThreshold(t *testing.T) {
	now := time.Now()
	rt := &alarmmodel.RuleRuntimeState{}
	for i := 0; i < CircuitBreakerThreshold; i++ {
		RecordRuleFailure(rt, "boom", now)
	}
	assert.Equal(t, CircuitBreakerThreshold, rt.ConsecutiveFailures)
	assert.True(t, rt.ErrorSuspended)
	assert.Equal(t, "error_suspended", rt.Status)
	require.NotNil(t, rt.NextAllowedAt)
	assert.Equal(t, now.Add(AutoRecoverySeconds*time.Second), *rt.NextAllowedAt)
}

func TestRecordRuleSuccess_ClearsFailureState(t *testing.T) {
	now := time.Now()
	rt := &alarmmodel.RuleRuntimeState{}
	RecordRuleFailure(rt, "boom", now)
	RecordRuleSuccess(rt)
	assert.Equal(t, 0, rt.ConsecutiveFailures)
	assert.Nil(t, rt.NextAllowedAt)
	assert.Nil(t, rt.LastFailureAt)
	assert.False(t, rt.ErrorSuspended)
	assert.Empty(t, rt.LastError)
}

func TestIsRuleAllowed(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	allowed, reason := IsRuleAllowed(nil, now)
	assert.True(t, allowed)
	assert.Equal(t, "allowed", reason)

	future := now.Add(30 * time.Second)
	rt := &alarmmodel.RuleRuntimeState{NextAllowedAt: &future}
	allowed, reason = IsRuleAllowed(rt, now)
	assert.False(t, allowed)
	assert.Equal(t, "backoff:30s", reason)

	past := now.Add(-time.Second)
	rt = &alarmmodel.RuleRuntimeState{ErrorSuspended: true, NextAllowedAt: &past}
	allowed, reason = IsRuleAllowed(rt, now)
	assert.True(t, allowed)
	assert.Equal(t, "auto_recovery", reason)

	rt = &alarmmodel.RuleRuntimeState{ErrorSuspended: true, NextAllowedAt: &future}
	allowed, reason = IsRuleAllowed(rt, now)
	assert.False(t, allowed)
	assert.Equal(t, "suspended", reason)
}

func TestIsRuleAllowed_CircuitTripScenario(t *testing.T) {
	now := time.Now()
	rt := &alarmmodel.RuleRuntimeState{}
	for i := 0; i < CircuitBreakerThreshold; i++ {
		RecordRuleFailure(rt, "boom", now)
	}
	allowed, reason := IsRuleAllowed(rt, now)
	assert.False(t, allowed)
	assert.Equal(t, "suspended", reason)

	ClearSuspension(rt)
	allowed, reason = IsRuleAllowed(rt, now)
	assert.True(t, allowed)
	assert.Equal(t, "allowed", reason)
}
