// Package dispatcher implements the centralized entity-change dispatcher:
// integrations call NotifyEntitiesChanged, changes are debounced, deduped,
// batched, rate-limited, and handed to a worker pool that resolves impacted
// rules via the reverse index and evaluates them under the rules engine's
// per-rule lock.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"backend/internal/alarmmodel"
	"backend/internal/cache"
	"backend/internal/condition"
	"backend/internal/config"
	"backend/internal/events"
	"backend/internal/logger"
	"backend/internal/ratelimit"
	"backend/internal/reverseindex"
	"backend/internal/rulesengine"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EntityChangeBatch is one coalesced group of entity changes handed to a
// worker for rule resolution and evaluation.
type EntityChangeBatch struct {
	Source    string
	EntityIDs []string
	ChangedAt time.Time
	BatchID   string
}

// StateProvider is the read-side persistence contract the dispatcher needs:
// the current value of every entity, restricted to a requested id set.
type StateProvider interface {
	EntityStateMap() (map[string]*string, error)
	EntityStatesByIDs(ids []string) (map[string]*string, error)
}

type pendingEntity struct {
	firstSeen time.Time
	source    string
}

// Dispatcher is the always-on singleton that owns debounce/batch state, the
// rate limiter, the worker pool, and running stats. Construct one with New
// and call NotifyEntitiesChanged from integration adapters.
type Dispatcher struct {
	mu sync.Mutex

	cfg config.DispatcherConfig

	pendingEntities map[string]pendingEntity
	pendingBatches  []EntityChangeBatch
	debounceTimer   *time.Timer

	stats       *Stats
	rateLimiter *ratelimit.TokenBucket
	debounce    cache.Cache[string, bool]
	ruleLocks   cache.Cache[string, bool]

	index   *reverseindex.Index
	engine  *rulesengine.Engine
	states  StateProvider
	bus     events.EventBus

	jobs       chan EntityChangeBatch
	workerOnce sync.Once
	workers    *errgroup.Group

	shutdownMu      sync.Mutex // guards the shutdown flag separately from the batching lock
	shutdown bool
}

// New constructs a Dispatcher. debounce and ruleLocks are typically backed
// by the same in-memory TTL cache implementation (internal/cache), kept
// separate here because they serve different keyspaces and TTLs.
func New(cfg config.DispatcherConfig, index *reverseindex.Index, engine *rulesengine.Engine, states StateProvider, bus events.EventBus, debounce, ruleLocks cache.Cache[string, bool]) (*Dispatcher, error) {
	limiter, err := ratelimit.NewTokenBucket(float64(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: rate limiter: %w", err)
	}
	return &Dispatcher{
		cfg:             cfg,
		pendingEntities: map[string]pendingEntity{},
		stats:           NewStats(),
		rateLimiter:     limiter,
		debounce:        debounce,
		ruleLocks:       ruleLocks,
		index:           index,
		engine:          engine,
		states:          states,
		bus:             bus,
		jobs:            make(chan EntityChangeBatch, cfg.QueueMaxDepth),
	}, nil
}

// NotifyEntitiesChanged is the thread-safe, non-blocking entrypoint
// integrations call when one or more entities change state. Changes are
// deduped, debounced, and merged into the pending batch; dispatch happens
// asynchronously after the debounce window (or immediately if the pending
// set reaches batch_size_limit).
func (d *Dispatcher) NotifyEntitiesChanged(source string, entityIDs []string, changedAt time.Time) {
	d.shutdownMu.Lock()
	down := d.shutdown
	d.shutdownMu.Unlock()
	if down || len(entityIDs) == 0 {
		return
	}

	if changedAt.IsZero() {
		changedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	unique := map[string]bool{}
	for _, id := range entityIDs {
		unique[id] = true
	}
	if len(unique) < len(entityIDs) {
		d.stats.RecordDedupe(len(entityIDs) - len(unique))
	}

	debounceWindow := time.Duration(d.cfg.DebounceMS) * time.Millisecond
	debouncedCount := 0
	for id := range unique {
		key := "debounce:" + id
		if !d.debounce.SetIfAbsent(key, true, debounceWindow) {
			delete(unique, id)
			debouncedCount++
		}
	}
	if debouncedCount > 0 {
		d.stats.RecordDebounce(source, debouncedCount)
	}
	if len(unique) == 0 {
		return
	}

	for id := range unique {
		if _, exists := d.pendingEntities[id]; !exists {
			d.pendingEntities[id] = pendingEntity{firstSeen: changedAt, source: source}
		}
	}

	if len(d.pendingEntities) >= d.cfg.BatchSizeLimit {
		d.flushBatchLocked(source, changedAt)
	} else {
		d.scheduleFlushLocked()
	}
}

// scheduleFlushLocked arms the debounce timer if one isn't already pending.
// Caller must hold d.mu.
func (d *Dispatcher) scheduleFlushLocked() {
	if d.debounceTimer != nil {
		return
	}
	delay := time.Duration(d.cfg.DebounceMS) * time.Millisecond
	d.debounceTimer = time.AfterFunc(delay, d.onDebounceFired)
}

func (d *Dispatcher) onDebounceFired() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.debounceTimer = nil
	if len(d.pendingEntities) == 0 {
		return
	}
	sources := map[string]bool{}
	for _, pe := range d.pendingEntities {
		sources[pe.source] = true
	}
	flushSource := "mixed"
	if len(sources) == 1 {
		for s := range sources {
			flushSource = s
		}
	}
	d.flushBatchLocked(flushSource, time.Now())
}

// flushBatchLocked converts the pending entity set into a batch, applies
// the rate limiter, and submits it to the worker pool. Caller must hold d.mu.
func (d *Dispatcher) flushBatchLocked(source string, now time.Time) {
	if len(d.pendingEntities) == 0 {
		return
	}
	for _, pe := range d.pendingEntities {
		if pe.source != source {
			source = "mixed"
			break
		}
	}

	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
		d.debounceTimer = nil
	}

	if !d.rateLimiter.Acquire(1) {
		d.stats.RecordRateLimit()
		logger.L().Debug("dispatcher rate limited, dropping batch")
		d.pendingEntities = map[string]pendingEntity{}
		return
	}

	entityIDs := make([]string, 0, len(d.pendingEntities))
	for id := range d.pendingEntities {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	batch := EntityChangeBatch{
		Source:    source,
		EntityIDs: entityIDs,
		ChangedAt: now,
		BatchID:   uuid.NewString()[:8],
	}

	if len(d.pendingBatches) >= d.cfg.QueueMaxDepth {
		d.stats.RecordDroppedBatch()
		d.pendingBatches = d.pendingBatches[1:]
		logger.L().Warn("dispatcher queue full, oldest batch dropped")
	}
	d.pendingBatches = append(d.pendingBatches, batch)
	d.pendingEntities = map[string]pendingEntity{}

	d.stats.RecordTrigger(source, len(batch.EntityIDs), now)

	d.ensureWorkerPool()
	select {
	case d.jobs <- batch:
	default:
		logger.L().Warn("dispatcher worker pool saturated, dropping batch", zap.String("batch_id", batch.BatchID))
		d.stats.RecordDroppedBatch()
	}
}

func (d *Dispatcher) ensureWorkerPool() {
	d.workerOnce.Do(func() {
		d.workers = &errgroup.Group{}
		for i := 0; i < d.cfg.WorkerConcurrency; i++ {
			d.workers.Go(d.worker)
		}
	})
}

func (d *Dispatcher) worker() error {
	for batch := range d.jobs {
		d.dispatchBatch(context.Background(), batch)
	}
	return nil
}

// dispatchBatch resolves the rules impacted by batch's entity ids, snapshots
// only the entity states those rules need, and evaluates each rule under
// its own lock.
func (d *Dispatcher) dispatchBatch(ctx context.Context, batch EntityChangeBatch) {
	defer d.removePendingBatch(batch)

	rules, err := d.index.ResolveImpactedRules(batch.EntityIDs, batch.ChangedAt)
	if err != nil {
		logger.L().Error("dispatcher: resolve impacted rules", zap.String("batch_id", batch.BatchID), zap.Error(err))
		return
	}
	if len(rules) == 0 {
		logger.L().Debug("batch: no rules reference changed entities", zap.String("batch_id", batch.BatchID))
		return
	}

	started := time.Now()
	snapshot, err := d.stateMapForRules(rules, batch.EntityIDs)
	if err != nil {
		logger.L().Error("dispatcher: entity state snapshot", zap.String("batch_id", batch.BatchID), zap.Error(err))
		return
	}
	queryDuration := time.Since(started)
	evalStarted := time.Now()

	evaluated, fired, scheduled, errs := 0, 0, 0, 0
	for _, rule := range rules {
		outcome := d.engine.EvaluateRule(ctx, d.ruleLocks, rule, snapshot, batch.ChangedAt)
		if !outcome.Evaluated {
			continue
		}
		evaluated++
		fired += outcome.Result.Fired
		scheduled += outcome.Result.Scheduled
		errs += outcome.Result.Errors
	}
	d.stats.RecordRulesResult(evaluated, fired, scheduled, errs)
	logger.L().Debug("batch dispatched",
		zap.String("batch_id", batch.BatchID),
		zap.Int("snapshot_size", len(snapshot)),
		zap.Duration("query_duration", queryDuration),
		zap.Duration("evaluation_duration", time.Since(evalStarted)))

	if d.bus != nil {
		evt := events.NewBatchDispatchedEvent(batch.BatchID, batch.EntityIDs, evaluated, fired, time.Since(started).Milliseconds(), batch.Source)
		if err := d.bus.Publish(ctx, evt); err != nil {
			logger.L().Warn("dispatcher: publish batch event", zap.Error(err))
		}
	}
}

// stateMapForRules builds an entity-state snapshot covering batch.EntityIDs
// plus every entity each impacted rule's condition tree references, so a
// rule whose trigger entity didn't change this cycle still evaluates
// against a consistent view of its other dependencies.
func (d *Dispatcher) stateMapForRules(rules []alarmmodel.Rule, changedEntityIDs []string) (map[string]*string, error) {
	required := map[string]bool{}
	for _, id := range changedEntityIDs {
		required[id] = true
	}
	for _, rule := range rules {
		node, err := condition.Parse(rule.Definition.When)
		if err != nil {
			continue
		}
		for _, id := range condition.ExtractEntityIds(node) {
			required[id] = true
		}
	}
	if len(required) == 0 {
		return map[string]*string{}, nil
	}
	ids := make([]string, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	return d.states.EntityStatesByIDs(ids)
}

func (d *Dispatcher) removePendingBatch(batch EntityChangeBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range d.pendingBatches {
		if b.BatchID == batch.BatchID {
			d.pendingBatches = append(d.pendingBatches[:i], d.pendingBatches[i+1:]...)
			break
		}
	}
}

// GetStatus reports whether the dispatcher is enabled (always true), its
// effective configuration, pending queue depths, and lifetime stats.
func (d *Dispatcher) GetStatus() map[string]any {
	d.mu.Lock()
	pendingEntities := len(d.pendingEntities)
	pendingBatches := len(d.pendingBatches)
	cfg := d.cfg
	d.mu.Unlock()

	return map[string]any{
		"enabled": true,
		"config": map[string]any{
			"debounce_ms":         cfg.DebounceMS,
			"batch_size_limit":    cfg.BatchSizeLimit,
			"rate_limit_per_sec":  cfg.RateLimitPerSec,
			"worker_concurrency":  cfg.WorkerConcurrency,
		},
		"pending_entities": pendingEntities,
		"pending_batches":  pendingBatches,
		"stats":            d.stats.AsMap(),
	}
}

// ReloadConfig swaps in a freshly normalized configuration and rebuilds the
// rate limiter against its new rate/burst.
func (d *Dispatcher) ReloadConfig(cfg config.DispatcherConfig) error {
	cfg = config.NormalizeDispatcherConfig(cfg)
	limiter, err := ratelimit.NewTokenBucket(float64(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	if err != nil {
		return fmt.Errorf("dispatcher: reload config: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.rateLimiter = limiter
	return nil
}

// Shutdown stops accepting new notifications, cancels any pending debounce
// timer, and drains the worker pool.
func (d *Dispatcher) Shutdown() {
	d.shutdownMu.Lock()
	d.shutdown = true
	d.shutdownMu.Unlock()

	d.mu.Lock()
	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
		d.debounceTimer = nil
	}
	workers := d.workers
	d.mu.Unlock()

	close(d.jobs)
	if workers != nil {
		_ = workers.Wait()
	}
}
