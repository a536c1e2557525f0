package reverseindex

import (
	"testing"
	"time"

	"backend/internal/alarmmodel"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	refs    []alarmmodel.RuleEntityRef
	rules   map[ulid.ULID]alarmmodel.Rule
	version string
}

func (s *fakeStore) EntityRuleRefs() ([]alarmmodel.RuleEntityRef, error) { return s.refs, nil }
func (s *fakeStore) Version() (string, error)                           { return s.version, nil }
func (s *fakeStore) RulesByIDs(ids []ulid.ULID) ([]alarmmodel.Rule, error) {
	out := make([]alarmmodel.Rule, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.rules[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestResolveImpactedRules_BuildsAndOrders(t *testing.T) {
	ruleA := ulid.Make()
	ruleB := ulid.Make()
	store := &fakeStore{
		refs: []alarmmodel.RuleEntityRef{
			{RuleID: ruleA, EntityID: "binary_sensor.front_door"},
			{RuleID: ruleB, EntityID: "binary_sensor.front_door"},
		},
		rules: map[ulid.ULID]alarmmodel.Rule{
			ruleA: {ID: ruleA, Priority: 1},
			ruleB: {ID: ruleB, Priority: 5},
		},
		version: "v1",
	}

	idx := New(store, time.Minute)
	rules, err := idx.ResolveImpactedRules([]string{"binary_sensor.front_door"}, time.Now())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, ruleB, rules[0].ID, "higher priority first")
}

func TestResolveImpactedRules_RefreshesOnVersionChange(t *testing.T) {
	ruleA := ulid.Make()
	store := &fakeStore{
		refs:    []alarmmodel.RuleEntityRef{{RuleID: ruleA, EntityID: "a"}},
		rules:   map[ulid.ULID]alarmmodel.Rule{ruleA: {ID: ruleA}},
		version: "v1",
	}
	idx := New(store, time.Hour)
	now := time.Now()

	rules, err := idx.ResolveImpactedRules([]string{"a"}, now)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	// Simulate an external rule write: new ref for a new entity, version bumped.
	ruleB := ulid.Make()
	store.refs = append(store.refs, alarmmodel.RuleEntityRef{RuleID: ruleB, EntityID: "b"})
	store.rules[ruleB] = alarmmodel.Rule{ID: ruleB}
	store.version = "v2"

	rules, err = idx.ResolveImpactedRules([]string{"b"}, now)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, ruleB, rules[0].ID)
}

func TestResolveImpactedRulesUncached_MatchesCached(t *testing.T) {
	ruleA := ulid.Make()
	store := &fakeStore{
		refs:    []alarmmodel.RuleEntityRef{{RuleID: ruleA, EntityID: "a"}},
		rules:   map[ulid.ULID]alarmmodel.Rule{ruleA: {ID: ruleA}},
		version: "v1",
	}
	idx := New(store, time.Hour)
	now := time.Now()

	result, err := idx.VerifyReverseIndex([]string{"a"}, now)
	require.NoError(t, err)
	assert.True(t, result.Match)
}

func TestResolveImpactedRules_NoResultsForUnknownEntity(t *testing.T) {
	store := &fakeStore{version: "v1"}
	idx := New(store, time.Hour)
	rules, err := idx.ResolveImpactedRules([]string{"nonexistent"}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, rules)
}
