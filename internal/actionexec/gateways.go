// Package actionexec implements the action-executor contract: given a
// rule's action list and a set of gateway interfaces, execute each action
// in order and produce a per-action result plus a before/after alarm-state
// snapshot. Concrete gateway implementations live under internal/gateway;
// this package only depends on the interfaces.
package actionexec

import "context"

// AlarmSnapshot is the alarm-state information the executor captures
// immediately before and after running an action list.
type AlarmSnapshot struct {
	CurrentState string
}

// AlarmServices is the alarm-domain control surface actions dispatch to.
type AlarmServices interface {
	GetCurrentSnapshot(ctx context.Context, processTimers bool) (AlarmSnapshot, error)
	Arm(ctx context.Context, targetState, actorUser, reason string) error
	Disarm(ctx context.Context, actorUser, reason string) error
	Trigger(ctx context.Context, actorUser, reason string) error
}

// HomeAssistantGateway calls a Home Assistant service, e.g.
// CallService(ctx, "light", "turn_on", target, data).
type HomeAssistantGateway interface {
	CallService(ctx context.Context, domain, service string, target, data map[string]any) error
}

// ValueID identifies a single Z-Wave JS value within a node.
type ValueID struct {
	CommandClass int
	Endpoint     int
	Property     string
	PropertyKey  any
}

// ZwavejsGateway sets a single value on a Z-Wave JS node.
type ZwavejsGateway interface {
	SetValue(ctx context.Context, nodeID int, valueID ValueID, value any) error
}

// Zigbee2mqttGateway sets one or more properties on a Zigbee2MQTT entity.
type Zigbee2mqttGateway interface {
	SetEntityValue(ctx context.Context, entityID string, value map[string]any) error
}

// NotificationDispatcher enqueues a user-facing notification.
type NotificationDispatcher interface {
	Enqueue(ctx context.Context, providerID, message, title string, data map[string]any, ruleName string) (deliveryID string, err error)
}

// Gateways bundles every outbound collaborator the action handlers need.
// Any field may be nil in tests that don't exercise that action type.
type Gateways struct {
	Alarm          AlarmServices
	HomeAssistant  HomeAssistantGateway
	Zwavejs        ZwavejsGateway
	Zigbee2mqtt    Zigbee2mqttGateway
	Notifications  NotificationDispatcher
}
