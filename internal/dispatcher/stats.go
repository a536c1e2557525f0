package dispatcher

import (
	"sync"
	"time"
)

// SourceStats tracks dispatcher activity broken down by integration source.
type SourceStats struct {
	Triggered        int
	EntitiesReceived int
	Debounced        int
	LastDispatchAt   *time.Time
}

// AsMap serializes SourceStats for a status endpoint.
func (s SourceStats) AsMap() map[string]any {
	out := map[string]any{
		"triggered":         s.Triggered,
		"entities_received": s.EntitiesReceived,
		"debounced":         s.Debounced,
	}
	if s.LastDispatchAt != nil {
		out["last_dispatch_at"] = s.LastDispatchAt.Format(time.RFC3339)
	} else {
		out["last_dispatch_at"] = nil
	}
	return out
}

// Stats is the dispatcher's lifetime counters, guarded by mu so concurrent
// workers and the status endpoint never race.
type Stats struct {
	mu sync.Mutex

	Triggered      int
	Deduped        int
	Debounced      int
	RateLimited    int
	DroppedBatches int
	RulesEvaluated int
	RulesFired     int
	RulesScheduled int
	RulesErrors    int
	LastDispatchAt *time.Time

	BySource map[string]*SourceStats
}

// NewStats constructs a zeroed Stats with an initialized per-source map.
func NewStats() *Stats {
	return &Stats{BySource: map[string]*SourceStats{}}
}

func (s *Stats) sourceLocked(source string) *SourceStats {
	st, ok := s.BySource[source]
	if !ok {
		st = &SourceStats{}
		s.BySource[source] = st
	}
	return st
}

// RecordTrigger counts a flushed batch of entityCount entities from source.
func (s *Stats) RecordTrigger(source string, entityCount int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Triggered++
	s.LastDispatchAt = &now
	src := s.sourceLocked(source)
	src.Triggered++
	src.EntitiesReceived += entityCount
	src.LastDispatchAt = &now
}

// RecordDebounce counts count entities suppressed by the debounce window
// for source.
func (s *Stats) RecordDebounce(source string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Debounced += count
	s.sourceLocked(source).Debounced += count
}

// RecordDedupe counts count duplicate entity ids collapsed within a single
// notification call.
func (s *Stats) RecordDedupe(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deduped += count
}

// RecordRateLimit counts one batch dropped by the token bucket.
func (s *Stats) RecordRateLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RateLimited++
}

// RecordDroppedBatch counts one batch evicted because the pending queue was
// at capacity.
func (s *Stats) RecordDroppedBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DroppedBatches++
}

// RecordRulesResult folds one RunResult-shaped tally into the running totals.
func (s *Stats) RecordRulesResult(evaluated, fired, scheduled, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RulesEvaluated += evaluated
	s.RulesFired += fired
	s.RulesScheduled += scheduled
	s.RulesErrors += errs
}

// AsMap serializes the full stats snapshot for a status endpoint.
func (s *Stats) AsMap() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySource := make(map[string]any, len(s.BySource))
	for source, st := range s.BySource {
		bySource[source] = st.AsMap()
	}

	out := map[string]any{
		"triggered":       s.Triggered,
		"deduped":         s.Deduped,
		"debounced":       s.Debounced,
		"rate_limited":    s.RateLimited,
		"dropped_batches": s.DroppedBatches,
		"rules_evaluated": s.RulesEvaluated,
		"rules_fired":     s.RulesFired,
		"rules_scheduled": s.RulesScheduled,
		"rules_errors":    s.RulesErrors,
		"by_source":       bySource,
	}
	if s.LastDispatchAt != nil {
		out["last_dispatch_at"] = s.LastDispatchAt.Format(time.RFC3339)
	} else {
		out["last_dispatch_at"] = nil
	}
	return out
}

// Reset zeroes every counter, used by tests and admin diagnostics.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Triggered, s.Deduped, s.Debounced, s.RateLimited, s.DroppedBatches = 0, 0, 0, 0, 0
	s.RulesEvaluated, s.RulesFired, s.RulesScheduled, s.RulesErrors = 0, 0, 0, 0
	s.LastDispatchAt = nil
	s.BySource = map[string]*SourceStats{}
}
