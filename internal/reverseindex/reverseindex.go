// Package reverseindex maintains the in-memory entity_id -> set<rule_id>
// cache the dispatcher uses to avoid scanning every rule on each entity
// change notification.
package reverseindex

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"backend/internal/alarmmodel"
	"github.com/oklog/ulid/v2"
)

// Store is the persistence contract the reverse index rebuilds itself from:
// the current entity-ref rows for enabled rules, a shared version token
// bumped on any rule write/delete, and a lookup of full Rule rows by id.
type Store interface {
	EntityRuleRefs() ([]alarmmodel.RuleEntityRef, error)
	Version() (string, error)
	RulesByIDs(ids []ulid.ULID) ([]alarmmodel.Rule, error)
}

// DefaultTTL is the cache rebuild interval used absent an explicit override.
const DefaultTTL = 60 * time.Second

// Index is the process-global reverse-index cache. Writers (a rebuild) take
// an exclusive lock and fully replace the map; readers acquire the same
// lock for the duration of their lookup.
type Index struct {
	store Store
	ttl   time.Duration

	mu           sync.RWMutex
	entityToRule map[string]map[ulid.ULID]bool
	version      string
	builtAt      time.Time
}

// New constructs a reverse index against store, using ttl as the rebuild
// interval (DefaultTTL if ttl <= 0).
func New(store Store, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Index{store: store, ttl: ttl, entityToRule: map[string]map[ulid.ULID]bool{}}
}

func (idx *Index) stale(now time.Time) (bool, error) {
	idx.mu.RLock()
	expired := now.Sub(idx.builtAt) >= idx.ttl
	cachedVersion := idx.version
	idx.mu.RUnlock()

	if expired {
		return true, nil
	}
	current, err := idx.store.Version()
	if err != nil {
		return false, err
	}
	return current != cachedVersion, nil
}

// Refresh unconditionally rebuilds the cache from the store.
func (idx *Index) Refresh(now time.Time) error {
	refs, err := idx.store.EntityRuleRefs()
	if err != nil {
		return fmt.Errorf("reverseindex: refresh: %w", err)
	}
	version, err := idx.store.Version()
	if err != nil {
		return fmt.Errorf("reverseindex: refresh: %w", err)
	}

	built := make(map[string]map[ulid.ULID]bool, len(refs))
	for _, ref := range refs {
		set, ok := built[ref.EntityID]
		if !ok {
			set = map[ulid.ULID]bool{}
			built[ref.EntityID] = set
		}
		set[ref.RuleID] = true
	}

	idx.mu.Lock()
	idx.entityToRule = built
	idx.version = version
	idx.builtAt = now
	idx.mu.Unlock()
	return nil
}

func (idx *Index) ruleIDsForLocked(entityIDs []string) map[ulid.ULID]bool {
	out := map[ulid.ULID]bool{}
	for _, id := range entityIDs {
		for ruleID := range idx.entityToRule[id] {
			out[ruleID] = true
		}
	}
	return out
}

// ResolveImpactedRules returns the enabled rules referencing any of
// entityIDs, ordered priority DESC, id ASC, refreshing the cache first if
// it is stale (TTL-expired or version-mismatched).
func (idx *Index) ResolveImpactedRules(entityIDs []string, now time.Time) ([]alarmmodel.Rule, error) {
	stale, err := idx.stale(now)
	if err != nil {
		return nil, err
	}
	if stale {
		if err := idx.Refresh(now); err != nil {
			return nil, err
		}
	}

	idx.mu.RLock()
	ruleIDSet := idx.ruleIDsForLocked(entityIDs)
	idx.mu.RUnlock()

	return idx.rulesByIDSet(ruleIDSet)
}

func (idx *Index) rulesByIDSet(set map[ulid.ULID]bool) ([]alarmmodel.Rule, error) {
	if len(set) == 0 {
		return nil, nil
	}
	ids := make([]ulid.ULID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	rules, err := idx.store.RulesByIDs(ids)
	if err != nil {
		return nil, err
	}
	sortRules(rules)
	return rules, nil
}

// ResolveImpactedRulesUncached recomputes the impacted-rule set directly
// from storage, bypassing the cache entirely. It is never called from the
// dispatch hot path; it exists as an explicit, separately-tested fallback
// wired to VerifyReverseIndex.
func (idx *Index) ResolveImpactedRulesUncached(entityIDs []string) ([]alarmmodel.Rule, error) {
	refs, err := idx.store.EntityRuleRefs()
	if err != nil {
		return nil, fmt.Errorf("reverseindex: uncached resolve: %w", err)
	}
	want := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = true
	}
	set := map[ulid.ULID]bool{}
	for _, ref := range refs {
		if want[ref.EntityID] {
			set[ref.RuleID] = true
		}
	}
	return idx.rulesByIDSet(set)
}

// VerifyResult is the diagnostic outcome of comparing the cached resolution
// against the uncached one for the same entity ids.
type VerifyResult struct {
	Match        bool
	CachedIDs    []ulid.ULID
	UncachedIDs  []ulid.ULID
	OnlyInCached []ulid.ULID
	OnlyInUncached []ulid.ULID
}

// VerifyReverseIndex recomputes impacted rules both ways and reports any
// divergence, for use when cache corruption is suspected.
func (idx *Index) VerifyReverseIndex(entityIDs []string, now time.Time) (VerifyResult, error) {
	cached, err := idx.ResolveImpactedRules(entityIDs, now)
	if err != nil {
		return VerifyResult{}, err
	}
	uncached, err := idx.ResolveImpactedRulesUncached(entityIDs)
	if err != nil {
		return VerifyResult{}, err
	}

	cachedIDs := ruleIDs(cached)
	uncachedIDs := ruleIDs(uncached)
	cachedSet := toSet(cachedIDs)
	uncachedSet := toSet(uncachedIDs)

	var onlyCached, onlyUncached []ulid.ULID
	for id := range cachedSet {
		if !uncachedSet[id] {
			onlyCached = append(onlyCached, id)
		}
	}
	for id := range uncachedSet {
		if !cachedSet[id] {
			onlyUncached = append(onlyUncached, id)
		}
	}

	return VerifyResult{
		Match:          len(onlyCached) == 0 && len(onlyUncached) == 0,
		CachedIDs:      cachedIDs,
		UncachedIDs:    uncachedIDs,
		OnlyInCached:   onlyCached,
		OnlyInUncached: onlyUncached,
	}, nil
}

func ruleIDs(rules []alarmmodel.Rule) []ulid.ULID {
	out := make([]ulid.ULID, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func toSet(ids []ulid.ULID) map[ulid.ULID]bool {
	out := make(map[ulid.ULID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func sortRules(rules []alarmmodel.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID.String() < rules[j].ID.String()
	})
}
