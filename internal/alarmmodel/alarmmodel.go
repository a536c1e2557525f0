// Package alarmmodel holds the shared data-model types for rules, entities,
// and runtime/audit state that every other alarm-engine package operates on.
package alarmmodel

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// RuleKind distinguishes what a rule's action list is expected to do, used
// only for admin-facing display; evaluation treats all kinds identically.
type RuleKind string

const (
	RuleKindTrigger RuleKind = "trigger"
	RuleKindArm     RuleKind = "arm"
	RuleKindDisarm  RuleKind = "disarm"
)

// EntitySource identifies which integration last reported an entity's state.
type EntitySource string

const (
	EntitySourceHomeAssistant EntitySource = "home_assistant"
	EntitySourceZigbee2MQTT   EntitySource = "zigbee2mqtt"
	EntitySourceZWaveJS       EntitySource = "zwavejs"
	EntitySourceAlarmState    EntitySource = "alarm_state"
)

// AlarmStateEntityID is the synthetic entity id that alarm_state_in
// conditions resolve to in ExtractEntityIds, so alarm-state transitions
// flow through the dispatcher like any other entity change.
const AlarmStateEntityID = "alarm_state"

// ActionType enumerates the closed set of action-list entries. Five of
// these are admin-only and must be rejected at rule-save time for
// non-admin authors: ActionAlarmArm, ActionAlarmDisarm, ActionZwavejsSetValue,
// ActionZigbee2mqttSetValue, ActionHACallService.
type ActionType string

const (
	ActionAlarmTrigger        ActionType = "alarm_trigger"
	ActionAlarmDisarm         ActionType = "alarm_disarm"
	ActionAlarmArm            ActionType = "alarm_arm"
	ActionHACallService       ActionType = "ha_call_service"
	ActionZwavejsSetValue     ActionType = "zwavejs_set_value"
	ActionZigbee2mqttSetValue ActionType = "zigbee2mqtt_set_value"
	ActionZigbee2mqttSwitch   ActionType = "zigbee2mqtt_switch"
	ActionZigbee2mqttLight    ActionType = "zigbee2mqtt_light"
	ActionSendNotification    ActionType = "send_notification"
)

// AdminOnlyActionTypes lists the actions non-admin rule authors may not save.
var AdminOnlyActionTypes = map[ActionType]bool{
	ActionAlarmArm:            true,
	ActionAlarmDisarm:         true,
	ActionZwavejsSetValue:     true,
	ActionZigbee2mqttSetValue: true,
	ActionHACallService:       true,
}

// ActionSpec is one entry of a rule's action list. Params holds the
// type-specific fields (mode, action, target, node_id, value_id, value,
// entity_id, state, brightness, provider_id, message, title, data) keyed
// exactly as they appear in the on-disk JSON, mirroring the loosely typed
// shape the condition tree also uses at its JSON boundary.
type ActionSpec struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"-"`
}

// MarshalJSON flattens Params alongside "type" so the on-disk shape matches
// what rule authors write: {"type": "...", "mode": "...", ...}.
func (a ActionSpec) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(a.Params)+1)
	for k, v := range a.Params {
		flat[k] = v
	}
	flat["type"] = string(a.Type)
	return json.Marshal(flat)
}

// UnmarshalJSON splits the flat {"type": ..., ...} shape back into Type
// and Params.
func (a *ActionSpec) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	t, _ := flat["type"].(string)
	delete(flat, "type")
	a.Type = ActionType(t)
	a.Params = flat
	return nil
}

// RuleDefinition is the (when, then) pair a rule is authored with.
type RuleDefinition struct {
	When          map[string]any `json:"when"`
	Then          []ActionSpec   `json:"then"`
	SchemaVersion int            `json:"schema_version"`
}

// Rule is a user-authored automation.
type Rule struct {
	ID              ulid.ULID
	Name            string
	Kind            RuleKind
	Enabled         bool
	Priority        int
	CooldownSeconds int
	Definition      RuleDefinition
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RuleEntityRef is one row of the entity_id -> rule_id reverse index,
// rebuilt whenever a rule's definition changes.
type RuleEntityRef struct {
	RuleID   ulid.ULID
	EntityID string
}

// Entity is the latest known value of an externally tracked sensor.
type Entity struct {
	EntityID    string
	Source      EntitySource
	LastState   *string
	LastChanged time.Time
	LastSeen    time.Time
	Attributes  map[string]any
}

// RuleRuntimeState tracks per-rule scheduling and failure bookkeeping.
// There is exactly one row per rule, keyed by NodeID="when".
type RuleRuntimeState struct {
	RuleID              ulid.ULID
	NodeID              string
	ScheduledFor        *time.Time
	BecameTrueAt        *time.Time
	LastFiredAt         *time.Time
	ConsecutiveFailures int
	LastFailureAt       *time.Time
	LastError           string
	NextAllowedAt       *time.Time
	ErrorSuspended      bool
	Status              string
}

// CooldownActive reports whether rule r is still within its cooldown
// window given this runtime's last firing time.
func (rt *RuleRuntimeState) CooldownActive(cooldownSeconds int, now time.Time) bool {
	if cooldownSeconds <= 0 {
		return false
	}
	if rt == nil || rt.LastFiredAt == nil {
		return false
	}
	return now.Sub(*rt.LastFiredAt) < time.Duration(cooldownSeconds)*time.Second
}

// ActionResult is the per-action outcome recorded in a RuleActionLog.
type ActionResult struct {
	OK    bool           `json:"ok"`
	Type  string         `json:"type"`
	Error string         `json:"error,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// EvaluationResult is the {alarm_state_before, alarm_state_after, actions,
// errors, timestamp} result produced by one action-list execution.
type EvaluationResult struct {
	AlarmStateBefore string         `json:"alarm_state_before"`
	AlarmStateAfter  string         `json:"alarm_state_after"`
	Actions          []ActionResult `json:"actions"`
	Errors           []string       `json:"errors"`
	Timestamp        time.Time      `json:"timestamp"`
}

// RuleActionLog is an immutable audit row written at most once per
// successful evaluation pass of a rule.
type RuleActionLog struct {
	ID        ulid.ULID
	RuleID    ulid.ULID
	FiredAt   time.Time
	Kind      string
	Actions   []ActionSpec
	Result    EvaluationResult
	Trace     map[string]any
	Error     string
}

// Detection is a normalized snapshot of a vision-system person detection,
// produced by the Frigate adapter and consulted read-only.
type Detection struct {
	Provider      string
	EventID       string
	Label         string
	Camera        string
	Zones         []string
	ConfidencePct float64
	ObservedAt    time.Time
}
