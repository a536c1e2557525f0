package rulesengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"backend/internal/actionexec"
	"backend/internal/alarmmodel"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlarm struct{ state string }

func (f *fakeAlarm) GetCurrentSnapshot(ctx context.Context, processTimers bool) (actionexec.AlarmSnapshot, error) {
	return actionexec.AlarmSnapshot{CurrentState: f.state}, nil
}
func (f *fakeAlarm) Arm(ctx context.Context, targetState, actorUser, reason string) error {
	f.state = targetState
	return nil
}
func (f *fakeAlarm) Disarm(ctx context.Context, actorUser, reason string) error {
	f.state = "disarmed"
	return nil
}
func (f *fakeAlarm) Trigger(ctx context.Context, actorUser, reason string) error {
	f.state = "triggered"
	return nil
}

type fakeRepos struct {
	mu       sync.Mutex
	rules    []alarmmodel.Rule
	runtimes map[ulid.ULID]*alarmmodel.RuleRuntimeState
	entities map[string]*string
	alarm    string
	logs     []alarmmodel.RuleActionLog
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{runtimes: map[ulid.ULID]*alarmmodel.RuleRuntimeState{}, entities: map[string]*string{}}
}

func (f *fakeRepos) ListEnabledRules() ([]alarmmodel.Rule, error) { return f.rules, nil }
func (f *fakeRepos) EntityStateMap() (map[string]*string, error) {
	out := map[string]*string{}
	for k, v := range f.entities {
		out[k] = v
	}
	return out, nil
}
func (f *fakeRepos) DueRuntimes(now time.Time) ([]RuleRuntime, error) { return nil, nil }
func (f *fakeRepos) EnsureRuntime(rule alarmmodel.Rule) (*alarmmodel.RuleRuntimeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.runtimes[rule.ID]
	if !ok {
		rt = &alarmmodel.RuleRuntimeState{RuleID: rule.ID, NodeID: "when", Status: "pending"}
		f.runtimes[rule.ID] = rt
	}
	return rt, nil
}
func (f *fakeRepos) SaveRuntime(rt *alarmmodel.RuleRuntimeState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runtimes[rt.RuleID] = rt
	return nil
}
func (f *fakeRepos) GetAlarmState() (string, bool) { return f.alarm, f.alarm != "" }
func (f *fakeRepos) FrigateIsAvailable(now time.Time) bool { return false }
func (f *fakeRepos) ListFrigateDetections(label string, cameras []string, since time.Time) ([]alarmmodel.Detection, error) {
	return nil, nil
}
func (f *fakeRepos) LogRuleAction(entry alarmmodel.RuleActionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func strp(s string) *string { return &s }

func TestRunRules_ImmediateMatchFires(t *testing.T) {
	repos := newFakeRepos()
	repos.entities["front_door"] = strp("open")
	rule := alarmmodel.Rule{
		ID: ulid.Make(), Name: "door_open_triggers_alarm", Enabled: true, Kind: alarmmodel.RuleKindTrigger,
		Definition: alarmmodel.RuleDefinition{
			When: map[string]any{"op": "entity_state", "entity_id": "front_door", "equals": "open"},
			Then: []alarmmodel.ActionSpec{{Type: alarmmodel.ActionAlarmTrigger}},
		},
	}
	repos.rules = []alarmmodel.Rule{rule}

	alarm := &fakeAlarm{state: "armed_away"}
	engine := NewEngine(repos, actionexec.NewExecutor(&actionexec.Gateways{Alarm: alarm}))

	result, err := engine.RunRules(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fired)
	assert.Equal(t, "triggered", alarm.state)
	assert.Len(t, repos.logs, 1)
}

func TestRunRules_ForWrappedRuleSchedulesInsteadOfFiring(t *testing.T) {
	repos := newFakeRepos()
	repos.entities["motion"] = strp("detected")
	rule := alarmmodel.Rule{
		ID: ulid.Make(), Name: "motion_for_30s", Enabled: true, Kind: alarmmodel.RuleKindTrigger,
		Definition: alarmmodel.RuleDefinition{
			When: map[string]any{"op": "for", "seconds": 30, "child": map[string]any{
				"op": "entity_state", "entity_id": "motion", "equals": "detected",
			}},
			Then: []alarmmodel.ActionSpec{{Type: alarmmodel.ActionAlarmTrigger}},
		},
	}
	repos.rules = []alarmmodel.Rule{rule}

	engine := NewEngine(repos, actionexec.NewExecutor(&actionexec.Gateways{Alarm: &fakeAlarm{}}))
	result, err := engine.RunRules(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scheduled)
	assert.Equal(t, 0, result.Fired)

	rt := repos.runtimes[rule.ID]
	require.NotNil(t, rt.BecameTrueAt)
	require.NotNil(t, rt.ScheduledFor)
}

func TestRunRules_CooldownSkipsFire(t *testing.T) {
	repos := newFakeRepos()
	repos.entities["front_door"] = strp("open")
	rule := alarmmodel.Rule{
		ID: ulid.Make(), Name: "r", Enabled: true, CooldownSeconds: 300,
		Definition: alarmmodel.RuleDefinition{
			When: map[string]any{"op": "entity_state", "entity_id": "front_door", "equals": "open"},
			Then: []alarmmodel.ActionSpec{{Type: alarmmodel.ActionAlarmTrigger}},
		},
	}
	repos.rules = []alarmmodel.Rule{rule}
	now := time.Now()
	lastFired := now.Add(-10 * time.Second)
	repos.runtimes[rule.ID] = &alarmmodel.RuleRuntimeState{RuleID: rule.ID, LastFiredAt: &lastFired}

	engine := NewEngine(repos, actionexec.NewExecutor(&actionexec.Gateways{Alarm: &fakeAlarm{}}))
	result, err := engine.RunRules(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedCooldown)
	assert.Equal(t, 0, result.Fired)
}

func TestSimulateRules_DoesNotWriteAuditLogs(t *testing.T) {
	repos := newFakeRepos()
	rule := alarmmodel.Rule{
		ID: ulid.Make(), Name: "r", Enabled: true,
		Definition: alarmmodel.RuleDefinition{
			When: map[string]any{"op": "entity_state", "entity_id": "front_door", "equals": "open"},
			Then: []alarmmodel.ActionSpec{{Type: alarmmodel.ActionAlarmTrigger}},
		},
	}
	repos.rules = []alarmmodel.Rule{rule}

	engine := NewEngine(repos, actionexec.NewExecutor(&actionexec.Gateways{Alarm: &fakeAlarm{}}))
	overlay := map[string]*string{"front_door": strp("open")}

	result, err := engine.SimulateRules(time.Now(), overlay, 0, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Len(t, repos.logs, 0)
}

func TestSimulateRules_ForWrappedReportsWouldSchedule(t *testing.T) {
	repos := newFakeRepos()
	rule := alarmmodel.Rule{
		ID: ulid.Make(), Name: "r", Enabled: true,
		Definition: alarmmodel.RuleDefinition{
			When: map[string]any{"op": "for", "seconds": 60, "child": map[string]any{
				"op": "entity_state", "entity_id": "motion", "equals": "detected",
			}},
			Then: []alarmmodel.ActionSpec{{Type: alarmmodel.ActionAlarmTrigger}},
		},
	}
	repos.rules = []alarmmodel.Rule{rule}

	engine := NewEngine(repos, actionexec.NewExecutor(&actionexec.Gateways{Alarm: &fakeAlarm{}}))
	overlay := map[string]*string{"motion": strp("detected")}

	result, err := engine.SimulateRules(time.Now(), overlay, 0, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.WouldSchedule)
	assert.Equal(t, 0, result.Matched)
}
