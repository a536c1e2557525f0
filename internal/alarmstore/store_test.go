package alarmstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"backend/internal/alarmmodel"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alarm.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func doorRule() alarmmodel.Rule {
	return alarmmodel.Rule{
		ID:      ulid.Make(),
		Name:    "front door opens while armed away",
		Kind:    alarmmodel.RuleKindTrigger,
		Enabled: true,
		Definition: alarmmodel.RuleDefinition{
			When: map[string]any{
				"op": "all",
				"children": []any{
					map[string]any{"op": "entity_state", "entity_id": "front_door", "equals": "open"},
					map[string]any{"op": "alarm_state_in", "states": []any{"armed_away"}},
				},
			},
			Then: []alarmmodel.ActionSpec{{Type: alarmmodel.ActionAlarmTrigger}},
		},
	}
}

func TestSaveRule_DerivesEntityRefsAndBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.Version()
	require.NoError(t, err)

	rule := doorRule()
	require.NoError(t, s.SaveRule(ctx, rule))

	v2, err := s.Version()
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)

	refs, err := s.EntityRuleRefs()
	require.NoError(t, err)
	entityIDs := map[string]bool{}
	for _, r := range refs {
		require.Equal(t, rule.ID, r.RuleID)
		entityIDs[r.EntityID] = true
	}
	require.True(t, entityIDs["front_door"])
	require.True(t, entityIDs[alarmmodel.AlarmStateEntityID])
}

func TestSaveRule_UpdateReplacesRefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := doorRule()
	require.NoError(t, s.SaveRule(ctx, rule))

	rule.Definition.When = map[string]any{"op": "entity_state", "entity_id": "back_door", "equals": "open"}
	require.NoError(t, s.SaveRule(ctx, rule))

	refs, err := s.EntityRuleRefs()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "back_door", refs[0].EntityID)
}

func TestListEnabledRules_OrdersByPriorityDescThenID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := doorRule()
	low.Priority = 1
	high := doorRule()
	high.Priority = 10
	disabled := doorRule()
	disabled.Enabled = false

	require.NoError(t, s.SaveRule(ctx, low))
	require.NoError(t, s.SaveRule(ctx, high))
	require.NoError(t, s.SaveRule(ctx, disabled))

	rules, err := s.ListEnabledRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, high.ID, rules[0].ID)
	require.Equal(t, low.ID, rules[1].ID)
}

func TestDeleteRule_RemovesRefsAndRuntime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := doorRule()
	require.NoError(t, s.SaveRule(ctx, rule))
	_, err := s.EnsureRuntime(rule)
	require.NoError(t, err)

	require.NoError(t, s.DeleteRule(ctx, rule.ID))

	_, err = s.GetRule(rule.ID)
	require.Error(t, err)

	refs, err := s.EntityRuleRefs()
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestEnsureRuntime_CreatesPendingRowOnce(t *testing.T) {
	s := newTestStore(t)
	rule := doorRule()
	require.NoError(t, s.SaveRule(context.Background(), rule))

	rt1, err := s.EnsureRuntime(rule)
	require.NoError(t, err)
	require.Equal(t, "pending", rt1.Status)

	rt1.Status = "armed"
	rt1.ConsecutiveFailures = 3
	require.NoError(t, s.SaveRuntime(rt1))

	rt2, err := s.EnsureRuntime(rule)
	require.NoError(t, err)
	require.Equal(t, "armed", rt2.Status)
	require.Equal(t, 3, rt2.ConsecutiveFailures)
}

func TestSaveRuntime_RoundTripsTimestampsAndFailureState(t *testing.T) {
	s := newTestStore(t)
	rule := doorRule()
	require.NoError(t, s.SaveRule(context.Background(), rule))

	now := time.Now().UTC().Truncate(time.Second)
	rt, err := s.EnsureRuntime(rule)
	require.NoError(t, err)
	rt.ScheduledFor = &now
	rt.LastError = "gateway timeout"
	rt.ErrorSuspended = true
	require.NoError(t, s.SaveRuntime(rt))

	reloaded, err := s.EnsureRuntime(rule)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ScheduledFor)
	require.True(t, reloaded.ScheduledFor.Equal(now))
	require.Equal(t, "gateway timeout", reloaded.LastError)
	require.True(t, reloaded.ErrorSuspended)
}

func TestDueRuntimes_OnlyReturnsElapsedEnabledRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := doorRule()
	notYetDue := doorRule()
	require.NoError(t, s.SaveRule(ctx, due))
	require.NoError(t, s.SaveRule(ctx, notYetDue))

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	rt1, err := s.EnsureRuntime(due)
	require.NoError(t, err)
	rt1.ScheduledFor = &past
	require.NoError(t, s.SaveRuntime(rt1))

	rt2, err := s.EnsureRuntime(notYetDue)
	require.NoError(t, err)
	rt2.ScheduledFor = &future
	require.NoError(t, s.SaveRuntime(rt2))

	results, err := s.DueRuntimes(time.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, due.ID, results[0].Rule.ID)
}

func TestEntityStateMap_ReflectsNullAndSetStates(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.Exec(`INSERT INTO entities (entity_id, source, last_state) VALUES (?, ?, ?), (?, ?, NULL)`,
		"front_door", "home_assistant", "open", "back_door", "home_assistant")
	require.NoError(t, err)

	states, err := s.EntityStateMap()
	require.NoError(t, err)
	require.NotNil(t, states["front_door"])
	require.Equal(t, "open", *states["front_door"])
	require.Nil(t, states["back_door"])

	restricted, err := s.EntityStatesByIDs([]string{"front_door"})
	require.NoError(t, err)
	require.Len(t, restricted, 1)
}

func TestLogRuleAction_PersistsEvaluationResult(t *testing.T) {
	s := newTestStore(t)
	rule := doorRule()
	require.NoError(t, s.SaveRule(context.Background(), rule))

	entry := alarmmodel.RuleActionLog{
		ID: ulid.Make(), RuleID: rule.ID, FiredAt: time.Now(), Kind: "trigger",
		Actions: rule.Definition.Then,
		Result: alarmmodel.EvaluationResult{
			AlarmStateBefore: "armed_away", AlarmStateAfter: "triggered",
			Actions: []alarmmodel.ActionResult{{OK: true, Type: "alarm_trigger"}},
		},
		Trace: map[string]any{"matched": true},
	}
	require.NoError(t, s.LogRuleAction(entry))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM rule_action_log WHERE rule_id = ?`, rule.ID.String()).Scan(&count))
	require.Equal(t, 1, count)
}

func TestFrigateIsAvailable_FalseWithoutRecentDetection(t *testing.T) {
	s := newTestStore(t)
	require.False(t, s.FrigateIsAvailable(time.Now()))

	_, err := s.db.Exec(`INSERT INTO frigate_detections (provider, event_id, label, camera, zones_json, confidence_pct, observed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, "frigate", "evt1", "person", "front_yard", "[]", 92.5, time.Now().UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)

	require.True(t, s.FrigateIsAvailable(time.Now()))
}

func TestListFrigateDetections_FiltersByLabelCameraAndWindow(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	recent := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.Exec(`INSERT INTO frigate_detections (provider, event_id, label, camera, zones_json, confidence_pct, observed_at)
VALUES (?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?)`,
		"frigate", "evt-old", "person", "front_yard", "[]", 80.0, old,
		"frigate", "evt-new", "person", "front_yard", `["porch"]`, 95.0, recent)
	require.NoError(t, err)

	detections, err := s.ListFrigateDetections("person", []string{"front_yard"}, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, detections, 1)
	require.Equal(t, "evt-new", detections[0].EventID)
	require.Equal(t, []string{"porch"}, detections[0].Zones)
}
