// Command alarmd is the alarm rule-evaluation and dispatch daemon: it
// loads configuration, opens the SQLite rule store, and wires the reverse
// index, rules engine, action executor, gateways, and dispatcher together
// behind a scheduler tick and a read-only status HTTP route.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend/internal/actionexec"
	"backend/internal/alarmstore"
	"backend/internal/cache"
	"backend/internal/config"
	"backend/internal/dispatcher"
	"backend/internal/events"
	"backend/internal/gateway/homeassistant"
	"backend/internal/gateway/mqtt"
	"backend/internal/httpapi"
	"backend/internal/logger"
	"backend/internal/reverseindex"
	"backend/internal/rulesengine"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "alarmd.yaml", "path to the alarm engine's YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("alarmd: load config: %v", err)
	}

	logger.Init(&logger.Config{
		Level:       cfg.Logging.Level,
		Development: !cfg.Logging.JSONOutput,
		JSONOutput:  cfg.Logging.JSONOutput,
	})
	zlog := logger.L()

	store, err := alarmstore.Open(cfg.Server.DatabasePath)
	if err != nil {
		zlog.Fatal("alarmd: open store", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	migrateErr := store.Migrate(ctx)
	cancel()
	if migrateErr != nil {
		zlog.Fatal("alarmd: migrate store", zap.Error(migrateErr))
	}

	bus, err := events.NewEventBus(events.DefaultEventBusOptions())
	if err != nil {
		zlog.Fatal("alarmd: build event bus", zap.Error(err))
	}
	defer bus.Close()

	gateways := buildGateways(cfg, zlog)

	executor := actionexec.NewExecutor(gateways)
	engine := rulesengine.NewEngine(store, executor)

	ttl := time.Duration(cfg.ReverseIndexTTLSec) * time.Second
	index := reverseindex.New(store, ttl)

	debounce := cache.NewMemoryCache[string, bool](time.Minute)
	ruleLocks := cache.NewMemoryCache[string, bool](time.Minute)

	d, err := dispatcher.New(cfg.Dispatcher, index, engine, store, bus, debounce, ruleLocks)
	if err != nil {
		zlog.Fatal("alarmd: build dispatcher", zap.Error(err))
	}
	defer d.Shutdown()

	sched := cron.New()
	schedulerID, err := sched.AddFunc(cfg.Server.SchedulerCronSpec, func() {
		runCtx, runCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer runCancel()
		result, err := engine.RunRules(runCtx, time.Now())
		if err != nil {
			zlog.Warn("alarmd: scheduled rule run failed", zap.Error(err))
			return
		}
		zlog.Debug("alarmd: scheduled rule run",
			zap.Int("evaluated", result.Evaluated), zap.Int("fired", result.Fired),
			zap.Int("scheduled", result.Scheduled), zap.Int("errors", result.Errors))
	})
	if err != nil {
		zlog.Fatal("alarmd: schedule rule run", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()
	zlog.Info("alarmd: scheduler started", zap.String("spec", cfg.Server.SchedulerCronSpec), zap.Int("entry_id", int(schedulerID)))

	server := httpapi.NewServer(d)
	go func() {
		if err := server.Start(cfg.Server.HTTPListenAddr); err != nil && err != http.ErrServerClosed {
			zlog.Warn("alarmd: http server stopped", zap.Error(err))
		}
	}()

	zlog.Info("alarmd: ready", zap.String("listen_addr", cfg.Server.HTTPListenAddr), zap.String("database", cfg.Server.DatabasePath))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("alarmd: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("alarmd: http shutdown", zap.Error(err))
	}
}

// buildGateways constructs every outbound adapter configuration allows,
// logging (rather than failing startup on) integrations left unconfigured
// so the engine still runs with the gateways it has.
func buildGateways(cfg config.Config, zlog *zap.Logger) *actionexec.Gateways {
	gateways := &actionexec.Gateways{}

	if cfg.Server.HomeAssistantBaseURL != "" {
		ha, err := homeassistant.New(homeassistant.DefaultConfig(cfg.Server.HomeAssistantBaseURL, cfg.Server.HomeAssistantToken))
		if err != nil {
			zlog.Warn("alarmd: home assistant gateway disabled", zap.Error(err))
		} else {
			gateways.HomeAssistant = ha
		}
	}

	if cfg.Server.MqttBrokerURL != "" {
		mqttCfg := mqtt.DefaultConfig(cfg.Server.MqttBrokerURL, cfg.Server.MqttClientID)
		mqttCfg.Username = cfg.Server.MqttUsername
		mqttCfg.Password = cfg.Server.MqttPassword
		gw, err := mqtt.Connect(mqttCfg)
		if err != nil {
			zlog.Warn("alarmd: mqtt gateway disabled", zap.Error(err))
		} else {
			gateways.Zigbee2mqtt = gw
			gateways.Zwavejs = gw
		}
	}

	return gateways
}
