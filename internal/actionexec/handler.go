package actionexec

import (
	"context"
	"fmt"
	"strings"

	"backend/internal/alarmmodel"
)

// ActionHandler executes one action-list entry against the provided
// gateways, directly replacing the source's isinstance-based dispatch with
// a registry lookup keyed by ActionType.
type ActionHandler interface {
	Execute(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error)
}

// HandlerFunc adapts a plain function to ActionHandler.
type HandlerFunc func(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error)

func (f HandlerFunc) Execute(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	return f(ctx, gw, rule, action, actorUser)
}

// DefaultRegistry builds the closed-set handler registry for every action
// type named in the rule action-list schema.
func DefaultRegistry() map[alarmmodel.ActionType]ActionHandler {
	return map[alarmmodel.ActionType]ActionHandler{
		alarmmodel.ActionAlarmDisarm:         HandlerFunc(handleAlarmDisarm),
		alarmmodel.ActionAlarmArm:            HandlerFunc(handleAlarmArm),
		alarmmodel.ActionAlarmTrigger:        HandlerFunc(handleAlarmTrigger),
		alarmmodel.ActionHACallService:       HandlerFunc(handleHACallService),
		alarmmodel.ActionZwavejsSetValue:     HandlerFunc(handleZwavejsSetValue),
		alarmmodel.ActionZigbee2mqttSetValue: HandlerFunc(handleZigbee2mqttSetValue),
		alarmmodel.ActionZigbee2mqttSwitch:   HandlerFunc(handleZigbee2mqttSwitch),
		alarmmodel.ActionZigbee2mqttLight:    HandlerFunc(handleZigbee2mqttLight),
		alarmmodel.ActionSendNotification:    HandlerFunc(handleSendNotification),
	}
}

func ok(actionType alarmmodel.ActionType) alarmmodel.ActionResult {
	return alarmmodel.ActionResult{OK: true, Type: string(actionType)}
}

func failed(actionType alarmmodel.ActionType, reason string) alarmmodel.ActionResult {
	return alarmmodel.ActionResult{OK: false, Type: string(actionType), Error: reason}
}

func handleAlarmDisarm(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	if gw.Alarm == nil {
		return failed(action.Type, "alarm services not configured"), fmt.Errorf("alarm services not configured")
	}
	reason := fmt.Sprintf("rule:%s", rule.ID)
	if err := gw.Alarm.Disarm(ctx, actorUser, reason); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func handleAlarmArm(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	mode, _ := action.Params["mode"].(string)
	if mode == "" {
		err := fmt.Errorf("alarm_arm requires a mode")
		return failed(action.Type, err.Error()), err
	}
	if gw.Alarm == nil {
		return failed(action.Type, "alarm services not configured"), fmt.Errorf("alarm services not configured")
	}
	reason := fmt.Sprintf("rule:%s", rule.ID)
	if err := gw.Alarm.Arm(ctx, mode, actorUser, reason); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func handleAlarmTrigger(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	if gw.Alarm == nil {
		return failed(action.Type, "alarm services not configured"), fmt.Errorf("alarm services not configured")
	}
	reason := fmt.Sprintf("rule:%s", rule.ID)
	if err := gw.Alarm.Trigger(ctx, actorUser, reason); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func handleHACallService(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	full, _ := action.Params["action"].(string)
	parts := strings.SplitN(full, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		err := fmt.Errorf("ha_call_service requires action as \"domain.service\"")
		return failed(action.Type, err.Error()), err
	}
	target, _ := action.Params["target"].(map[string]any)
	data, _ := action.Params["data"].(map[string]any)
	if gw.HomeAssistant == nil {
		return failed(action.Type, "home assistant gateway not configured"), fmt.Errorf("home assistant gateway not configured")
	}
	if err := gw.HomeAssistant.CallService(ctx, parts[0], parts[1], target, data); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func handleZwavejsSetValue(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	nodeID, ok1 := toInt(action.Params["node_id"])
	valueIDRaw, ok2 := action.Params["value_id"].(map[string]any)
	value, hasValue := action.Params["value"]
	if !ok1 || !ok2 || !hasValue {
		err := fmt.Errorf("zwavejs_set_value requires node_id, value_id, and value")
		return failed(action.Type, err.Error()), err
	}
	commandClass, _ := toInt(valueIDRaw["commandClass"])
	endpoint, hasEndpoint := toInt(valueIDRaw["endpoint"])
	if !hasEndpoint {
		endpoint = 0
	}
	property, _ := valueIDRaw["property"].(string)
	propertyKey := valueIDRaw["propertyKey"]

	if gw.Zwavejs == nil {
		return failed(action.Type, "zwavejs gateway not configured"), fmt.Errorf("zwavejs gateway not configured")
	}
	vid := ValueID{CommandClass: commandClass, Endpoint: endpoint, Property: property, PropertyKey: propertyKey}
	if err := gw.Zwavejs.SetValue(ctx, nodeID, vid, value); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func handleZigbee2mqttSetValue(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	entityID, _ := action.Params["entity_id"].(string)
	value, hasValue := action.Params["value"]
	if entityID == "" || !hasValue {
		err := fmt.Errorf("zigbee2mqtt_set_value requires entity_id and value")
		return failed(action.Type, err.Error()), err
	}
	if gw.Zigbee2mqtt == nil {
		return failed(action.Type, "zigbee2mqtt gateway not configured"), fmt.Errorf("zigbee2mqtt gateway not configured")
	}
	payload, ok := value.(map[string]any)
	if !ok {
		payload = map[string]any{"value": value}
	}
	if err := gw.Zigbee2mqtt.SetEntityValue(ctx, entityID, payload); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func handleZigbee2mqttSwitch(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	entityID, _ := action.Params["entity_id"].(string)
	state, _ := action.Params["state"].(string)
	if entityID == "" || (state != "on" && state != "off") {
		err := fmt.Errorf("zigbee2mqtt_switch requires entity_id and state in {on, off}")
		return failed(action.Type, err.Error()), err
	}
	if gw.Zigbee2mqtt == nil {
		return failed(action.Type, "zigbee2mqtt gateway not configured"), fmt.Errorf("zigbee2mqtt gateway not configured")
	}
	if err := gw.Zigbee2mqtt.SetEntityValue(ctx, entityID, map[string]any{"state": state == "on"}); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func handleZigbee2mqttLight(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	entityID, _ := action.Params["entity_id"].(string)
	state, _ := action.Params["state"].(string)
	if entityID == "" || (state != "on" && state != "off") {
		err := fmt.Errorf("zigbee2mqtt_light requires entity_id and state in {on, off}")
		return failed(action.Type, err.Error()), err
	}
	payload := map[string]any{"state": state == "on"}
	if brightness, has := toInt(action.Params["brightness"]); has {
		payload["brightness"] = brightness
	}
	if gw.Zigbee2mqtt == nil {
		return failed(action.Type, "zigbee2mqtt gateway not configured"), fmt.Errorf("zigbee2mqtt gateway not configured")
	}
	if err := gw.Zigbee2mqtt.SetEntityValue(ctx, entityID, payload); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func handleSendNotification(ctx context.Context, gw *Gateways, rule *alarmmodel.Rule, action alarmmodel.ActionSpec, actorUser string) (alarmmodel.ActionResult, error) {
	providerID, _ := action.Params["provider_id"].(string)
	message, _ := action.Params["message"].(string)
	if providerID == "" || message == "" {
		err := fmt.Errorf("send_notification requires provider_id and message")
		return failed(action.Type, err.Error()), err
	}
	title, _ := action.Params["title"].(string)
	data, _ := action.Params["data"].(map[string]any)

	if gw.Notifications == nil {
		return failed(action.Type, "notification dispatcher not configured"), fmt.Errorf("notification dispatcher not configured")
	}
	if _, err := gw.Notifications.Enqueue(ctx, providerID, message, title, data, rule.Name); err != nil {
		return failed(action.Type, err.Error()), err
	}
	return ok(action.Type), nil
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
