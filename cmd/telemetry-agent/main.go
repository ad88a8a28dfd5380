package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"injest/telemetry-agent/internal/client"
	"injest/telemetry-agent/internal/codec"
	"injest/telemetry-agent/internal/collector"
	"injest/telemetry-agent/internal/config"
	"injest/telemetry-agent/internal/database"
	"injest/telemetry-agent/internal/device"
	"injest/telemetry-agent/internal/handler"
	"injest/telemetry-agent/internal/logger"
	"injest/telemetry-agent/internal/platform"
	"injest/telemetry-agent/internal/policy"
	"injest/telemetry-agent/internal/producer"
	"injest/telemetry-agent/internal/repository"
	"injest/telemetry-agent/internal/router"
	"injest/telemetry-agent/internal/server"
	"injest/telemetry-agent/internal/service"
	"injest/telemetry-agent/internal/tracker"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// stopper is anything main shuts down in reverse start order
type stopper struct {
	name string
	stop func()
}

func main() {
	configPath := pflag.StringP("config", "c", "config/local.yaml", "Path to configuration file")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting telemetry agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	if dir := filepath.Dir(cfg.StoragePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create storage directory", zap.Error(err))
		}
	}
	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	platformInstance, err := platform.NewPlatform()
	if err != nil {
		log.Fatal("Failed to initialize platform", zap.Error(err))
	}
	if info, err := platformInstance.SystemInfo(); err != nil {
		log.Warn("Failed to read system info", zap.Error(err))
	} else {
		log.Info("Host detected",
			zap.String("os", info.OS),
			zap.String("os_version", info.OSVersion),
			zap.String("arch", info.Arch),
			zap.String("hostname", info.Hostname),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	identity, err := device.NewResolver(repository.NewDeviceRepository(db.DB), log.Logger).
		Resolve(ctx, cfg.Device.ID, cfg.Device.Name)
	cancel()
	if err != nil {
		log.Fatal("Failed to resolve device identity", zap.Error(err))
	}
	log.Info("Device identity resolved",
		zap.Int("device_id", identity.DeviceID),
		zap.String("machine_id", identity.MachineID),
		zap.String("name", identity.Name),
	)

	collectorURL := client.CollectorURL(cfg.Collector.Host, cfg.Collector.Port, cfg.Collector.Path)
	conn, err := client.NewConnectionManager(client.Options{
		URL:              collectorURL,
		ReconnectDelay:   cfg.Collector.ReconnectDelay,
		HandshakeTimeout: cfg.Collector.HandshakeTimeout,
		WriteTimeout:     cfg.Collector.WriteTimeout,
		OutboxSize:       cfg.Collector.OutboxSize,
		Logger:           log.Logger,
	})
	if err != nil {
		log.Fatal("Failed to create connection manager", zap.Error(err))
	}

	correlations := tracker.NewCorrelationTracker(
		cfg.Tracker.HistorySize,
		cfg.Tracker.PendingTTL,
		cfg.Tracker.SweepInterval,
		log.Logger,
	)

	responseTimes := repository.NewResponseTimeRepository(db.DB)
	var persister *service.HistoryPersister
	var historyReader handler.HistoryReader
	if cfg.History.Enabled {
		persister = service.NewHistoryPersister(responseTimes, cfg.History.FlushInterval, cfg.History.Retain, log.Logger)
		correlations.OnRecord(persister.Record)
		historyReader = responseTimes
	}

	var batcher *collector.SensorBatcher
	if cfg.Batching.Enabled {
		batcher = collector.NewSensorBatcher(cfg.Batching.Threshold, cfg.Batching.FlushInterval, log.Logger)
	}

	gate := policy.NewSendGate(policy.Settings{
		SendDataEver:        cfg.Policy.SendDataEver,
		OnlySendWhenPlugged: cfg.Policy.OnlySendWhenPlugged,
		Categories:          cfg.Policy.Categories.ByType(),
	})

	telemetryService := service.NewTelemetryService(
		conn,
		codec.New(identity.DeviceID),
		correlations,
		batcher,
		gate,
		log.Logger,
	)

	var stoppers []stopper

	if persister != nil {
		persister.Start()
		stoppers = append(stoppers, stopper{"history persister", persister.Stop})
	}

	telemetryService.Start()
	stoppers = append(stoppers, stopper{"telemetry service", telemetryService.Stop})

	heartbeat := client.NewHeartbeatChecker(
		client.HeartbeatURL(cfg.Collector.Host, cfg.Collector.Port, cfg.Collector.HeartbeatPath),
		cfg.Collector.HeartbeatInterval,
		cfg.Collector.HeartbeatTimeout,
		log.Logger,
	)
	heartbeat.Start(telemetryService.SetConnectivity)
	stoppers = append(stoppers, stopper{"heartbeat", heartbeat.Stop})

	if cfg.Server.Enabled {
		h := handler.NewTelemetryHandler(telemetryService, historyReader, identity, log.Logger)
		statusServer := server.NewStatusServer(cfg.Server.Port, router.New(h, log.Logger), log.Logger)
		if err := statusServer.Start(); err != nil {
			log.Error("Status server unavailable", zap.Error(err))
		} else {
			stoppers = append(stoppers, stopper{"status server", func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := statusServer.Shutdown(ctx); err != nil {
					log.Warn("Status server shutdown error", zap.Error(err))
				}
			}})
		}
	} else {
		log.Info("Status server disabled in configuration")
	}

	if cfg.Power.Enabled {
		powerMonitor := producer.NewPowerMonitor(platformInstance, telemetryService, cfg.Power.PollInterval, log.Logger)
		powerMonitor.Start()
		stoppers = append(stoppers, stopper{"power monitor", powerMonitor.Stop})
	}

	if cfg.SystemStats.Enabled {
		statsProducer := producer.NewSystemStatsProducer(telemetryService, cfg.SystemStats.Interval, diskRoot(cfg.StoragePath), log.Logger)
		statsProducer.Start()
		stoppers = append(stoppers, stopper{"system stats producer", statsProducer.Stop})
	}

	if cfg.AppUsage.Enabled {
		appMonitor := producer.NewAppUsageMonitor(platformInstance, telemetryService, cfg.AppUsage.PollInterval, log.Logger)
		appMonitor.Start()
		stoppers = append(stoppers, stopper{"app usage monitor", appMonitor.Stop})
	}

	if cfg.MQTT.Enabled {
		bridge := producer.NewMQTTSensorBridge(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, telemetryService, log.Logger)
		bridge.Start()
		stoppers = append(stoppers, stopper{"mqtt sensor bridge", bridge.Stop})
	}

	log.Info("Telemetry agent started",
		zap.Int("device_id", identity.DeviceID),
		zap.String("collector_url", collectorURL),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(stoppers) - 1; i >= 0; i-- {
			log.Debug("Stopping component", zap.String("component", stoppers[i].name))
			stoppers[i].stop()
		}
	}()

	select {
	case <-done:
		log.Info("Telemetry agent stopped")
	case <-time.After(2 * shutdownTimeout):
		log.Warn("Shutdown timeout reached, forcing exit")
		os.Exit(1)
	}
}

// diskRoot picks the volume that holds the agent's storage
func diskRoot(storagePath string) string {
	abs, err := filepath.Abs(storagePath)
	if err != nil {
		return string(filepath.Separator)
	}
	if vol := filepath.VolumeName(abs); vol != "" {
		return vol + string(filepath.Separator)
	}
	return string(filepath.Separator)
}
