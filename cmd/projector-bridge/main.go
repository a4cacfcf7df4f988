// Gray Logic Projector Bridge
//
// Owns the control link to one Optoma projector and exposes its power state
// over MQTT, HomeKit and a local HTTP API. The projector session is the only
// writer to the device; every other surface goes through it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-projector/internal/accessory"
	"github.com/nerrad567/gray-logic-projector/internal/api"
	"github.com/nerrad567/gray-logic-projector/internal/bridge"
	"github.com/nerrad567/gray-logic-projector/internal/history"
	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-projector/internal/metrics"
	"github.com/nerrad567/gray-logic-projector/internal/projector"
	"github.com/nerrad567/gray-logic-projector/migrations"
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

// run is the application logic, separated from main for testability.
// Components are torn down in reverse order of construction by deferred
// calls.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear start-up wiring
	log := logging.Default()
	log.Info("starting Gray Logic Projector Bridge",
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
	defer log.Close() //nolint:errcheck // nothing left to report to
	if projector.Verbosity(cfg.Projector.LogVerbosity) == projector.VerbosityDebug && log.Level() > slog.LevelDebug {
		// Session debug output would be filtered out otherwise.
		log.SetLevel(slog.LevelDebug)
	}
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"projector", cfg.Projector.ID,
	)

	// Observers attached to the session. Order does not matter; each is
	// called on the session loop and must not block.
	var observers projector.Observers

	reg := metrics.NewRegistry()
	if cfg.Metrics.Enabled {
		observers = append(observers, metrics.NewSessionMetrics(reg, cfg.Projector.ID))
	}

	// Event journal
	var journal history.Repository
	if cfg.History.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
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
		log.Info("database ready", "path", cfg.Database.Path)

		repo := history.NewSQLiteRepository(db.DB)
		journal = repo

		recorder := history.NewRecorder(repo, cfg.Projector.ID, log.With("component", "history"))
		defer func() {
			if closeErr := recorder.Close(); closeErr != nil {
				log.Warn("history recorder close", "error", closeErr)
			}
		}()
		observers = append(observers, recorder)

		go history.RunPruner(ctx, repo, cfg.History.Retention, cfg.History.PruneInterval, log.With("component", "history"))
	} else {
		log.Info("history disabled")
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
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
		observers = append(observers, influxdb.NewTelemetry(influxClient, cfg.Projector.ID))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Projector session
	session, err := projector.New(cfg.Projector.SessionConfig(), projector.Options{
		Dialer:   cfg.Projector.Dialer(),
		Logger:   log.With("component", "projector", "device_id", cfg.Projector.ID),
		Observer: observers,
	})
	if err != nil {
		return fmt.Errorf("creating projector session: %w", err)
	}
	defer func() {
		log.Info("closing projector session")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing projector session", "error", closeErr)
		}
	}()

	address := linkAddress(cfg.Projector)

	// MQTT bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var mqttBridge *bridge.Bridge
		mqttClient, mqttBridge, err = startMQTTBridge(ctx, cfg, session, address, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			mqttBridge.Stop()
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// HomeKit accessory (optional)
	if cfg.HomeKit.Enabled {
		acc, accErr := accessory.New(accessory.Config{
			Name:         cfg.Projector.Name,
			Model:        cfg.Projector.Model,
			SerialNumber: cfg.Projector.SerialNumber,
			Pin:          cfg.HomeKit.Pin,
			Port:         cfg.HomeKit.Port,
			StoragePath:  cfg.HomeKit.StoragePath,
		}, session, log.With("component", "homekit"))
		if accErr != nil {
			return fmt.Errorf("creating HomeKit accessory: %w", accErr)
		}
		if startErr := acc.Start(ctx); startErr != nil {
			return fmt.Errorf("starting HomeKit accessory: %w", startErr)
		}
		defer acc.Stop()
	} else {
		log.Info("HomeKit disabled")
	}

	// HTTP API
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:         cfg.API,
			WS:             cfg.WebSocket,
			Metrics:        cfg.Metrics,
			Logger:         log.With("component", "api"),
			DeviceID:       cfg.Projector.ID,
			Address:        address,
			Session:        session,
			MetricsHandler: metrics.Handler(reg),
			Version:        version,
		}
		if journal != nil {
			deps.History = journal
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}

		srv, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Every listener is registered; start talking to the projector.
	session.Start()
	log.Info("projector session started", "address", address)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// startMQTTBridge connects to the broker and starts the command bridge.
func startMQTTBridge(ctx context.Context, cfg *config.Config, session *projector.Session, address string, log *logging.Logger) (*mqtt.Client, *bridge.Bridge, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	b, err := bridge.New(bridge.Options{
		DeviceID:       cfg.Projector.ID,
		Session:        session,
		MQTT:           client,
		Address:        address,
		Version:        version,
		CommandRate:    cfg.MQTT.CommandRate,
		CommandBurst:   cfg.MQTT.CommandBurst,
		HealthInterval: cfg.MQTT.HealthInterval,
		Logger:         log.With("component", "bridge"),
	})
	if err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		b.Stop()
		client.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	return client, b, nil
}

// linkAddress describes the projector link for health and stats output.
func linkAddress(p config.ProjectorConfig) string {
	if p.Transport == config.TransportSerial {
		return p.SerialDevice
	}
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
