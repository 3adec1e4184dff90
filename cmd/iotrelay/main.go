// iotrelay - WebSocket relay for IoT devices and their controllers.
//
// Devices and controllers connect over WebSocket, authenticate against the
// device store with a register message, and exchange directed commands and
// telemetry through the relay. MQTT and InfluxDB integrations are optional.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/iot-relay/internal/api"
	"github.com/nerrad567/iot-relay/internal/audit"
	"github.com/nerrad567/iot-relay/internal/auth"
	"github.com/nerrad567/iot-relay/internal/device"
	"github.com/nerrad567/iot-relay/internal/infrastructure/config"
	"github.com/nerrad567/iot-relay/internal/infrastructure/database"
	"github.com/nerrad567/iot-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
	"github.com/nerrad567/iot-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-relay/internal/relay"
	"github.com/nerrad567/iot-relay/internal/telemetry"
	"github.com/nerrad567/iot-relay/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting iotrelay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	devices := device.NewSQLiteRepository(db.DB)
	events := audit.NewSQLiteRepository(db.DB)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := relay.NewMetrics(reg)
	rl := relay.New(devices, log, metrics)
	rl.AddPresenceObserver(relay.NewLastSeenRecorder(devices))
	rl.AddPresenceObserver(audit.NewPresenceLog(events))

	optional := make(map[string]api.HealthChecker)

	if cfg.MQTT.Enabled {
		mqttClient, bridge, mirror, mqttErr := startMQTT(cfg.MQTT, rl, log, metrics)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			mirror.Close()
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("error stopping command bridge", "error", stopErr)
			}
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		optional["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		rl.AddTelemetrySink(telemetry.NewInfluxRecorder(influxClient))
		optional["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	tokens := auth.NewTokenIssuer(cfg.Security.JWT.Secret,
		time.Duration(cfg.Security.JWT.PresenceTokenTTL)*time.Minute)

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log,
		Relay:    rl,
		Devices:  devices,
		Tokens:   tokens,
		Events:   events,
		Database: db,
		Optional: optional,
		Gatherer: reg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"websocket_path", cfg.WebSocket.Path,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// mirrorQueueSize is how many telemetry messages may wait for the MQTT
// mirror before new ones are dropped.
const mirrorQueueSize = 1024

// startMQTT connects to the broker and attaches the telemetry mirror,
// presence publisher and command bridge to the relay. The mirror publishes
// from its own queue and must be closed before the client.
func startMQTT(cfg config.MQTTConfig, rl *relay.Relay, log *logging.Logger, metrics *relay.Metrics) (*mqtt.Client, *telemetry.CommandBridge, *relay.QueuedSink, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	topics := client.Topics()
	qos := client.QoS()

	bridge := telemetry.NewCommandBridge(client, client, rl, topics, qos, log)
	if err := bridge.Start(); err != nil {
		client.Close()
		return nil, nil, nil, err
	}

	mirror := relay.NewQueuedSink("mqtt_mirror",
		telemetry.NewMQTTMirror(client, topics, qos), mirrorQueueSize, log, metrics)
	rl.AddTelemetrySink(mirror)
	rl.AddPresenceObserver(telemetry.NewPresencePublisher(client, topics, qos))

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"topic_prefix", topics.Prefix(),
	)
	return client, bridge, mirror, nil
}

// getConfigPath returns the config file path from IOTRELAY_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("IOTRELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
