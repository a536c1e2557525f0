// Package config loads and normalizes the alarm engine's YAML configuration:
// dispatcher tuning, per-integration overrides, and circuit-breaker knobs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DispatcherConfig controls debouncing, batching, rate limiting, and worker
// concurrency for the entity-change dispatcher.
type DispatcherConfig struct {
	DebounceMS        int `yaml:"debounce_ms"`
	BatchSizeLimit    int `yaml:"batch_size_limit"`
	RateLimitPerSec   int `yaml:"rate_limit_per_sec"`
	RateLimitBurst    int `yaml:"rate_limit_burst"`
	WorkerConcurrency int `yaml:"worker_concurrency"`
	QueueMaxDepth     int `yaml:"queue_max_depth"`
}

// DefaultDispatcherConfig mirrors the always-enabled dispatcher's defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DebounceMS:        200,
		BatchSizeLimit:    100,
		RateLimitPerSec:   10,
		RateLimitBurst:    50,
		WorkerConcurrency: 4,
		QueueMaxDepth:     1000,
	}
}

// IntegrationOverride lets a single integration source (e.g. "zigbee2mqtt")
// tighten or loosen debounce/rate-limit behavior relative to the global
// DispatcherConfig.
type IntegrationOverride struct {
	DebounceMS      *int `yaml:"debounce_ms"`
	RateLimitPerSec *int `yaml:"rate_limit_per_sec"`
}

// BreakerConfig holds trip settings for the per-gateway circuit breaker
// wrapping outbound action calls, independent of the per-rule
// failure/backoff bookkeeping. Its defaults equal the values
// breaker.GatewayBreaker uses; GatewayBreaker takes no configuration, so
// loaded values are not applied to it.
type BreakerConfig struct {
	ConsecutiveFailureThreshold uint32 `yaml:"consecutive_failure_threshold"`
	OpenTimeoutSeconds          int    `yaml:"open_timeout_seconds"`
}

// DefaultBreakerConfig returns the gateway breaker's default trip settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailureThreshold: 5, OpenTimeoutSeconds: 30}
}

// Config is the top-level, on-disk configuration document.
type Config struct {
	Dispatcher           DispatcherConfig               `yaml:"dispatcher"`
	IntegrationOverrides map[string]IntegrationOverride `yaml:"integration_overrides"`
	Breaker              BreakerConfig                  `yaml:"breaker"`
	ReverseIndexTTLSec   int                             `yaml:"reverse_index_ttl_seconds"`
	Logging              LoggingConfig                   `yaml:"logging"`
	Server               ServerConfig                    `yaml:"server"`
}

// ServerConfig holds cmd/alarmd's connection and listener settings: where
// the database file lives, which address the status HTTP route binds to,
// and how to reach the outbound gateways.
type ServerConfig struct {
	DatabasePath      string `yaml:"database_path"`
	HTTPListenAddr    string `yaml:"http_listen_addr"`
	SchedulerCronSpec string `yaml:"scheduler_cron_spec"`

	HomeAssistantBaseURL string `yaml:"home_assistant_base_url"`
	HomeAssistantToken   string `yaml:"home_assistant_token"`

	MqttBrokerURL string `yaml:"mqtt_broker_url"`
	MqttClientID  string `yaml:"mqtt_client_id"`
	MqttUsername  string `yaml:"mqtt_username"`
	MqttPassword  string `yaml:"mqtt_password"`
}

// DefaultServerConfig returns the always-safe-to-start-with connection
// defaults: a local SQLite file, loopback HTTP, and a scheduler tick every
// two seconds.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		DatabasePath:      "alarm.db",
		HTTPListenAddr:    "127.0.0.1:8090",
		SchedulerCronSpec: "@every 2s",
		MqttClientID:      "alarmd",
	}
}

// LoggingConfig selects the zap logger's verbosity and output shape.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	JSONOutput  bool   `yaml:"json_output"`
}

// Default returns a fully populated Config using every subsystem's defaults.
func Default() Config {
	return Config{
		Dispatcher:         DefaultDispatcherConfig(),
		Breaker:            DefaultBreakerConfig(),
		ReverseIndexTTLSec: 60,
		Logging:            LoggingConfig{Level: "info", JSONOutput: true},
		Server:             DefaultServerConfig(),
	}
}

// Load reads and parses a YAML config file at path, then normalizes it.
// A missing file is not an error: Default() is returned instead, matching
// the source system's "always enabled, settings optional" dispatcher.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Dispatcher = NormalizeDispatcherConfig(cfg.Dispatcher)
	return cfg, nil
}

// NormalizeDispatcherConfig clamps every field of raw into the same valid
// ranges the source system enforces, independent of whether raw came from a
// YAML file, a reload, or a caller-constructed struct.
func NormalizeDispatcherConfig(raw DispatcherConfig) DispatcherConfig {
	out := DefaultDispatcherConfig()

	switch {
	case raw.DebounceMS == 0:
		// keep default
	case raw.DebounceMS < 50:
		out.DebounceMS = 50
	case raw.DebounceMS > 2000:
		out.DebounceMS = 2000
	default:
		out.DebounceMS = raw.DebounceMS
	}

	switch {
	case raw.BatchSizeLimit == 0:
	case raw.BatchSizeLimit < 1:
		out.BatchSizeLimit = 1
	case raw.BatchSizeLimit > 1000:
		out.BatchSizeLimit = 1000
	default:
		out.BatchSizeLimit = raw.BatchSizeLimit
	}

	switch {
	case raw.RateLimitPerSec == 0:
	case raw.RateLimitPerSec < 1:
		out.RateLimitPerSec = 1
	default:
		out.RateLimitPerSec = raw.RateLimitPerSec
	}

	switch {
	case raw.RateLimitBurst == 0:
	case raw.RateLimitBurst < 1:
		out.RateLimitBurst = 1
	default:
		out.RateLimitBurst = raw.RateLimitBurst
	}

	switch {
	case raw.WorkerConcurrency == 0:
	case raw.WorkerConcurrency < 1:
		out.WorkerConcurrency = 1
	case raw.WorkerConcurrency > 16:
		out.WorkerConcurrency = 16
	default:
		out.WorkerConcurrency = raw.WorkerConcurrency
	}

	switch {
	case raw.QueueMaxDepth == 0:
	case raw.QueueMaxDepth < 10:
		out.QueueMaxDepth = 10
	default:
		out.QueueMaxDepth = raw.QueueMaxDepth
	}

	return out
}

// ResolveForSource applies source's IntegrationOverride (if any) on top of
// base, returning an effective DispatcherConfig for that integration alone.
func (c Config) ResolveForSource(source string) DispatcherConfig {
	effective := c.Dispatcher
	override, ok := c.IntegrationOverrides[source]
	if !ok {
		return effective
	}
	if override.DebounceMS != nil {
		effective.DebounceMS = *override.DebounceMS
	}
	if override.RateLimitPerSec != nil {
		effective.RateLimitPerSec = *override.RateLimitPerSec
	}
	return NormalizeDispatcherConfig(effective)
}
