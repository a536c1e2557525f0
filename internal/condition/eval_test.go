package condition

import (
	"testing"
	"time"

	"backend/internal/alarmmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestEval_EntityState(t *testing.T) {
	node := EntityState{EntityID: "binary_sensor.front_door", Equals: "on"}

	ctx := Context{EntityState: map[string]*string{"binary_sensor.front_door": strp("on")}}
	assert.True(t, Eval(node, ctx))

	ctx = Context{EntityState: map[string]*string{"binary_sensor.front_door": strp("off")}}
	assert.False(t, Eval(node, ctx))

	ctx = Context{EntityState: map[string]*string{}}
	assert.False(t, Eval(node, ctx))
}

func TestEval_AllAny(t *testing.T) {
	a := EntityState{EntityID: "a", Equals: "on"}
	b := EntityState{EntityID: "b", Equals: "on"}
	ctx := Context{EntityState: map[string]*string{"a": strp("on"), "b": strp("off")}}

	assert.False(t, Eval(All{Children: []Node{a, b}}, ctx))
	assert.True(t, Eval(Any{Children: []Node{a, b}}, ctx))
	assert.False(t, Eval(All{}, ctx), "empty children is false")
	assert.False(t, Eval(Any{}, ctx), "empty children is false")
}

func TestEval_Not(t *testing.T) {
	ctx := Context{EntityState: map[string]*string{"a": strp("on")}}
	assert.False(t, Eval(Not{Child: EntityState{EntityID: "a", Equals: "on"}}, ctx))
	assert.True(t, Eval(Not{Child: EntityState{EntityID: "a", Equals: "off"}}, ctx))
}

func TestEval_AlarmStateIn(t *testing.T) {
	node := AlarmStateIn{States: []string{"armed_away", "armed_home"}}

	ctx := Context{Repo: fakeRepo{alarmState: "armed_away", alarmStateOK: true}}
	assert.True(t, Eval(node, ctx))

	ctx = Context{Repo: fakeRepo{alarmState: "disarmed", alarmStateOK: true}}
	assert.False(t, Eval(node, ctx))

	ctx = Context{Repo: nil}
	assert.False(t, Eval(node, ctx))
}

func TestEval_TimeInRange_MidnightWrap(t *testing.T) {
	node := TimeInRange{Start: "22:00", End: "06:00", TZ: "UTC"}

	at := func(hh, mm int) Context {
		return Context{Now: time.Date(2026, 7, 30, hh, mm, 0, 0, time.UTC)}
	}

	assert.True(t, Eval(node, at(23, 30)))
	assert.False(t, Eval(node, at(6, 0)))
	assert.True(t, Eval(node, at(5, 59)))
}

func TestEval_TimeInRange_NormalRange(t *testing.T) {
	node := TimeInRange{Start: "08:00", End: "17:00", TZ: "UTC"}
	assert.True(t, Eval(node, Context{Now: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)}))
	assert.False(t, Eval(node, Context{Now: time.Date(2026, 7, 30, 18, 0, 0, 0, time.UTC)}))
}

func TestEval_TimeInRange_StartEqualsEnd(t *testing.T) {
	node := TimeInRange{Start: "08:00", End: "08:00", TZ: "UTC"}
	assert.False(t, Eval(node, Context{Now: time.Now()}))
}

func TestEval_TimeInRange_WrongWeekday(t *testing.T) {
	node := TimeInRange{Start: "00:00", End: "23:59", Days: []string{"mon"}, TZ: "UTC"}
	// 2026-07-30 is a Thursday.
	assert.False(t, Eval(node, Context{Now: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)}))
}

func TestNearestRankPercentile(t *testing.T) {
	scores := []float64{10, 20, 30, 40, 50}
	v, ok := nearestRankPercentile(scores, 60)
	require.True(t, ok)
	assert.Equal(t, float64(30), v)
}

func TestEval_FrigatePersonDetected_Percentile(t *testing.T) {
	node := FrigatePersonDetected{
		Cameras: []string{"driveway"}, WithinSeconds: 30, MinConfidencePct: 25,
		Aggregation: AggregationPercentile, Percentile: 60,
	}
	repo := fakeRepo{detections: []alarmmodel.Detection{
		{ConfidencePct: 10, ObservedAt: time.Now()},
		{ConfidencePct: 20, ObservedAt: time.Now()},
		{ConfidencePct: 30, ObservedAt: time.Now()},
		{ConfidencePct: 40, ObservedAt: time.Now()},
		{ConfidencePct: 50, ObservedAt: time.Now()},
	}}
	assert.True(t, Eval(node, Context{Repo: repo}))
}

func TestEval_FrigatePersonDetected_OnUnavailable(t *testing.T) {
	node := FrigatePersonDetected{
		Cameras: []string{"driveway"}, WithinSeconds: 30, MinConfidencePct: 80,
		OnUnavailable: OnUnavailableMatch,
	}
	unavailable := fakeRepo{available: false}
	assert.True(t, Eval(node, Context{Repo: unavailable}))

	node.OnUnavailable = OnUnavailableNoMatch
	assert.False(t, Eval(node, Context{Repo: unavailable}))
}

func TestValidateWhenNode_TimeOnlyRejected(t *testing.T) {
	raw := map[string]any{"op": "time_in_range", "start": "22:00", "end": "06:00"}
	err := ValidateWhenNode(raw)
	require.Error(t, err)
}

func TestValidateWhenNode_PercentileMissingPercentile(t *testing.T) {
	raw := map[string]any{
		"op": "frigate_person_detected", "cameras": []any{"driveway"},
		"within_seconds": 30, "min_confidence_pct": 50.0, "aggregation": "percentile",
	}
	err := ValidateWhenNode(raw)
	require.Error(t, err)
}

func TestValidateWhenNode_ValidCombined(t *testing.T) {
	raw := map[string]any{
		"op": "all",
		"children": []any{
			map[string]any{"op": "entity_state", "entity_id": "binary_sensor.front_door", "equals": "on"},
			map[string]any{"op": "time_in_range", "start": "22:00", "end": "06:00"},
		},
	}
	assert.NoError(t, ValidateWhenNode(raw))
}

func TestExtractEntityIds_IncludesSyntheticAlarmState(t *testing.T) {
	node := All{Children: []Node{
		EntityState{EntityID: "binary_sensor.front_door", Equals: "on"},
		AlarmStateIn{States: []string{"armed_away"}},
	}}
	ids := ExtractEntityIds(node)
	assert.ElementsMatch(t, []string{"binary_sensor.front_door", alarmmodel.AlarmStateEntityID}, ids)
}

func TestExtractFor(t *testing.T) {
	child := EntityState{EntityID: "a", Equals: "on"}
	seconds, c := ExtractFor(For{Seconds: 60, Child: child})
	assert.Equal(t, 60, seconds)
	assert.Equal(t, child, c)

	seconds, c = ExtractFor(child)
	assert.Equal(t, 0, seconds)
	assert.Equal(t, child, c)
}

type fakeRepo struct {
	alarmState   string
	alarmStateOK bool
	detections   []alarmmodel.Detection
	available    bool
}

func (f fakeRepo) GetAlarmState() (string, bool) { return f.alarmState, f.alarmStateOK }
func (f fakeRepo) ListFrigateDetections(label string, cameras []string, since time.Time) ([]alarmmodel.Detection, error) {
	return f.detections, nil
}
func (f fakeRepo) FrigateIsAvailable(now time.Time) bool { return f.available }
