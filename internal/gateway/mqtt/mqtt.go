// Package mqtt implements MqttGateway, Zigbee2mqttGateway, and
// ZwavejsGateway over a single paho MQTT connection, matching how
// Zigbee2MQTT and Z-Wave JS are bridged to home automation in practice:
// both integrations are themselves MQTT clients, so "set a Zigbee2MQTT
// entity value" and "set a Z-Wave JS value" both reduce to publishing a
// JSON payload to the right topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/actionexec"
	"backend/internal/gatewayerr"
	"backend/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Config holds the broker connection settings.
type Config struct {
	BrokerURL         string
	ClientID          string
	Username          string
	Password          string
	ConnectTimeout    time.Duration
	Zigbee2mqttPrefix string // default "zigbee2mqtt"
	ZwavejsPrefix     string // default "zwave"
	PublishQoS        byte
}

// DefaultConfig returns sane defaults for the optional fields.
func DefaultConfig(brokerURL, clientID string) Config {
	return Config{
		BrokerURL:         brokerURL,
		ClientID:          clientID,
		ConnectTimeout:    10 * time.Second,
		Zigbee2mqttPrefix: "zigbee2mqtt",
		ZwavejsPrefix:     "zwave",
		PublishQoS:        1,
	}
}

// Gateway is a paho-backed MQTT connection shared by the Zigbee2MQTT and
// Z-Wave JS action handlers.
type Gateway struct {
	cfg    Config
	client paho.Client
}

// Connect dials the broker with an exponential backoff retry, matching the
// teacher's general retry-on-connect idiom for outbound integrations.
func Connect(cfg Config) (*Gateway, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.L().Warn("mqtt gateway: connection lost", zap.Error(err))
	})

	client := paho.NewClient(opts)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		token := client.Connect()
		if !token.WaitTimeout(cfg.ConnectTimeout) {
			return fmt.Errorf("mqtt gateway: connect timed out")
		}
		return token.Error()
	}, policy)
	if err != nil {
		return nil, gatewayerr.NotReachable("mqtt", "connect to broker", err)
	}

	return &Gateway{cfg: cfg, client: client}, nil
}

// Close disconnects from the broker.
func (g *Gateway) Close() { g.client.Disconnect(250) }

// Publish sends payload to topic, failing fast if the client is not
// currently connected rather than buffering indefinitely.
func (g *Gateway) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if !g.client.IsConnected() {
		return gatewayerr.NotReachable("mqtt", "publish while disconnected: "+topic, nil)
	}
	token := g.client.Publish(topic, qos, retain, payload)
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		if !token.WaitTimeout(time.Until(deadline)) {
			return gatewayerr.Timeout("mqtt", "publish "+topic, nil)
		}
	} else {
		token.Wait()
	}
	if err := token.Error(); err != nil {
		return gatewayerr.Other("mqtt", "publish "+topic, err)
	}
	return nil
}

// zigbee2mqttTopic builds the <prefix>/<entity_id>/set topic Zigbee2MQTT's
// z2m bridge listens on.
func zigbee2mqttTopic(prefix, entityID string) string {
	return fmt.Sprintf("%s/%s/set", prefix, entityID)
}

// zwavejsTopic builds the zwave-js-ui MQTT value-set topic convention:
// <prefix>/<nodeID>/<commandClass>/<endpoint>/<property>/set.
func zwavejsTopic(prefix string, nodeID int, valueID actionexec.ValueID) string {
	return fmt.Sprintf("%s/%d/%d/%d/%s/set", prefix, nodeID, valueID.CommandClass, valueID.Endpoint, valueID.Property)
}

// SetEntityValue satisfies actionexec.Zigbee2mqttGateway by publishing the
// value map as a JSON object to zigbee2mqttTopic.
func (g *Gateway) SetEntityValue(ctx context.Context, entityID string, value map[string]any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return gatewayerr.Validation("zigbee2mqtt", "marshal value for "+entityID)
	}
	return g.Publish(ctx, zigbee2mqttTopic(g.cfg.Zigbee2mqttPrefix, entityID), payload, g.cfg.PublishQoS, false)
}

// SetValue satisfies actionexec.ZwavejsGateway by publishing {"value": ...}
// to zwavejsTopic.
func (g *Gateway) SetValue(ctx context.Context, nodeID int, valueID actionexec.ValueID, value any) error {
	payload, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return gatewayerr.Validation("zwavejs", "marshal value for node "+fmt.Sprint(nodeID))
	}
	return g.Publish(ctx, zwavejsTopic(g.cfg.ZwavejsPrefix, nodeID, valueID), payload, g.cfg.PublishQoS, false)
}
