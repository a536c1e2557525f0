// Package breaker implements per-rule failure suppression (exponential
// backoff escalating to a suspended circuit-open state) plus a
// gateway-level circuit breaker for outbound integration calls.
package breaker

import (
	"fmt"
	"time"

	"backend/internal/alarmmodel"
)

// BackoffScheduleSeconds is the exponential backoff table: 1min, 5min,
// 15min, 1hr. The index is consecutiveFailures-1, clamped to the last
// entry once failures exceed the table's length.
var BackoffScheduleSeconds = []int{60, 300, 900, 3600}

// CircuitBreakerThreshold is the consecutive-failure count at which a rule
// is suspended rather than merely backed off.
const CircuitBreakerThreshold = 10

// AutoRecoverySeconds is how long a suspended rule waits before it is
// allowed one more attempt.
const AutoRecoverySeconds = 3600

// maxErrorLen truncates stored errors to keep RuleActionLog/RuleRuntimeState
// rows bounded.
const maxErrorLen = 500

// GetBackoffSeconds returns the backoff delay for the given consecutive
// failure count, or 0 if consecutiveFailures < 1.
func GetBackoffSeconds(consecutiveFailures int) int {
	if consecutiveFailures < 1 {
		return 0
	}
	idx := consecutiveFailures - 1
	if idx >= len(BackoffScheduleSeconds) {
		idx = len(BackoffScheduleSeconds) - 1
	}
	return BackoffScheduleSeconds[idx]
}

// RecordRuleFailure updates runtime's failure bookkeeping in place:
// increments consecutive_failures, truncates the error, and escalates to
// error_suspended once the threshold is reached.
func RecordRuleFailure(runtime *alarmmodel.RuleRuntimeState, errMsg string, now time.Time) {
	runtime.ConsecutiveFailures++
	runtime.LastError = truncateError(errMsg)
	runtime.LastFailureAt = &now

	if runtime.ConsecutiveFailures >= CircuitBreakerThreshold {
		runtime.ErrorSuspended = true
		runtime.Status = "error_suspended"
		next := now.Add(AutoRecoverySeconds * time.Second)
		runtime.NextAllowedAt = &next
		return
	}

	next := now.Add(time.Duration(GetBackoffSeconds(runtime.ConsecutiveFailures)) * time.Second)
	runtime.NextAllowedAt = &next
}

// RecordRuleSuccess clears all failure/suspension fields on runtime.
func RecordRuleSuccess(runtime *alarmmodel.RuleRuntimeState) {
	if runtime.ConsecutiveFailures == 0 && !runtime.ErrorSuspended && runtime.NextAllowedAt == nil {
		return
	}
	runtime.ConsecutiveFailures = 0
	runtime.LastFailureAt = nil
	runtime.NextAllowedAt = nil
	runtime.ErrorSuspended = false
	runtime.LastError = ""
}

// ClearSuspension is the admin override equivalent to a success record.
func ClearSuspension(runtime *alarmmodel.RuleRuntimeState) {
	RecordRuleSuccess(runtime)
}

// IsRuleAllowed reports whether runtime is currently eligible to evaluate,
// and a machine-readable reason: "allowed", "auto_recovery", "suspended",
// or "backoff:<remaining>s".
func IsRuleAllowed(runtime *alarmmodel.RuleRuntimeState, now time.Time) (bool, string) {
	if runtime == nil {
		return true, "allowed"
	}
	if runtime.ErrorSuspended {
		if runtime.NextAllowedAt != nil && !now.Before(*runtime.NextAllowedAt) {
			return true, "auto_recovery"
		}
		return false, "suspended"
	}
	if runtime.NextAllowedAt != nil && now.Before(*runtime.NextAllowedAt) {
		remaining := runtime.NextAllowedAt.Sub(now)
		return false, fmt.Sprintf("backoff:%.0fs", remaining.Seconds())
	}
	return true, "allowed"
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen-3] + "..."
}
