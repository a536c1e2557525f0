package mqtt

import (
	"testing"

	"backend/internal/actionexec"
	"github.com/stretchr/testify/assert"
)

func TestZigbee2mqttTopic_UsesConfiguredPrefix(t *testing.T) {
	assert.Equal(t, "zigbee2mqtt/front_door_lock/set", zigbee2mqttTopic("zigbee2mqtt", "front_door_lock"))
}

func TestZwavejsTopic_EncodesCommandClassEndpointAndProperty(t *testing.T) {
	valueID := actionexec.ValueID{CommandClass: 37, Endpoint: 0, Property: "targetValue"}
	assert.Equal(t, "zwave/12/37/0/targetValue/set", zwavejsTopic("zwave", 12, valueID))
}

func TestDefaultConfig_SetsExpectedDefaults(t *testing.T) {
	cfg := DefaultConfig("tcp://broker:1883", "alarmd")
	assert.Equal(t, "zigbee2mqtt", cfg.Zigbee2mqttPrefix)
	assert.Equal(t, "zwave", cfg.ZwavejsPrefix)
	assert.Equal(t, byte(1), cfg.PublishQoS)
}
