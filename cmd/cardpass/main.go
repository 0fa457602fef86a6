// CardPass Core - access-control reader connection service
//
// This is the main entry point for CardPass Core. It keeps one TCP
// connection per enabled card reader host, mirrors their state to the REST
// API, WebSocket clients, MQTT and InfluxDB, and picks up reader changes made
// by other instances sharing the same database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/cardpass-core/migrations"

	"github.com/nerrad567/cardpass-core/internal/api"
	"github.com/nerrad567/cardpass-core/internal/audit"
	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/connection"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/config"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/database"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/logging"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/cardpass-core/internal/reader"
	"github.com/nerrad567/cardpass-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting CardPass Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // best effort flush of the log file
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := reader.NewSQLiteRepository(db.DB)
	settings := reader.NewSettingsStore(db.DB)
	eventLog := reader.NewEventLog(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Connection manager: one driver per enabled reader
	manager := connection.NewManager(repo, settings, connection.LMPIFactory(log), managerConfig(cfg.Readers))
	manager.SetLogger(log)

	// Telemetry sinks subscribe before Start so the initial connect attempts
	// are published too.
	checks := map[string]api.HealthChecker{"database": db}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	var broadcast *lmpi.BroadcastClient
	if cfg.Broadcast.Enabled {
		broadcast = lmpi.NewBroadcastClient(cfg.Broadcast.Network, cfg.Broadcast.Port)
		broadcast.SetLogger(log)
		defer func() {
			if closeErr := broadcast.Close(); closeErr != nil {
				log.Error("error closing broadcast client", "error", closeErr)
			}
		}()
		log.Info("broadcast client ready", "target", broadcast.Target().String())
	} else {
		log.Info("broadcast disabled")
	}

	var mqttClient *mqtt.Client
	if cfg.Telemetry.MQTTEnabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.Topics{})
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT telemetry disabled")
	}

	publisher := telemetry.NewPublisher(publisherConfig(cfg.Telemetry, mqttClient, influxClient, eventLog))
	publisher.SetLogger(log)
	publisher.Start(ctx, manager)
	defer publisher.Stop()

	// Start connections. Drivers are closed before the sinks above.
	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting connection manager: %w", startErr)
	}
	defer func() {
		log.Info("stopping connection manager")
		manager.Stop()
	}()

	if mqttClient != nil {
		stop, mqttErr := startMQTTServices(ctx, cfg, mqttClient, manager, broadcast, auditRepo, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer stop()
	}

	if cfg.Sync.Enabled {
		synchronizer := connection.NewSynchronizer(manager, repo, config.Seconds(cfg.Sync.PollIntervalSeconds))
		synchronizer.SetLogger(log)
		synchronizer.Start(ctx)
		defer func() {
			log.Info("stopping synchronizer")
			synchronizer.Stop()
		}()
		log.Info("synchronizer started", "interval_seconds", cfg.Sync.PollIntervalSeconds)
	}

	// REST API + WebSocket
	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Manager: manager,
		Events:  eventLog,
		Audit:   auditRepo,
		Checks:  checks,
		Version: version,
	}
	if broadcast != nil {
		deps.Broadcast = broadcast
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	select {
	case <-manager.Ready():
		log.Info("initialisation complete, waiting for shutdown signal",
			"readers", manager.Stats().Readers,
		)
	case <-ctx.Done():
	}

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, synchronizer, MQTT services, manager, publisher, MQTT,
	// broadcast, InfluxDB, database.

	log.Info("CardPass Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CARDPASS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CARDPASS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// managerConfig converts the readers section into manager tuning.
func managerConfig(rc config.ReadersConfig) connection.Config {
	return connection.Config{
		StartConcurrency:      rc.StartConcurrency,
		RetryInterval:         config.Seconds(rc.RetryIntervalSeconds),
		MaxBackoff:            config.Seconds(rc.MaxBackoffSeconds),
		ConnectReaderInterval: config.Seconds(rc.ConnectReaderIntervalSeconds),
		DialTimeout:           config.Seconds(rc.DialTimeoutSeconds),
		WriteQueueSize:        rc.WriteQueueSize,
	}
}

// publisherConfig selects the telemetry sinks. Nil clients stay out of the
// interfaces so the publisher sees them as absent.
func publisherConfig(tc config.TelemetryConfig, mqttClient *mqtt.Client, influxClient *influxdb.Client, events *reader.EventLog) telemetry.PublisherConfig {
	var pc telemetry.PublisherConfig
	if mqttClient != nil {
		pc.MQTT = mqttClient
	}
	if influxClient != nil {
		pc.Metrics = influxClient
	}
	if tc.RecordEvents && events != nil {
		pc.Events = events
	}
	return pc
}

// startMQTTServices starts the health reporter and subscribes the command
// handler.
//
// Returns:
//   - func(): Stops both services
//   - error: If the command subscriptions fail
func startMQTTServices(
	ctx context.Context,
	cfg *config.Config,
	client *mqtt.Client,
	manager *connection.Manager,
	broadcast *lmpi.BroadcastClient,
	auditRepo *audit.SQLiteRepository,
	log *logging.Logger,
) (func(), error) {
	health := telemetry.NewHealthReporter(telemetry.HealthReporterConfig{
		SiteID:    cfg.Site.ID,
		Version:   version,
		Interval:  config.Seconds(cfg.Telemetry.HealthIntervalSeconds),
		Publisher: client,
		Source:    manager,
	})
	health.SetLogger(log)

	handlerCfg := telemetry.CommandHandlerConfig{
		Controller: manager,
		Publisher:  client,
		Audit:      auditRepo,
	}
	if broadcast != nil {
		handlerCfg.Broadcast = broadcast
	}
	commands := telemetry.NewCommandHandler(handlerCfg)
	commands.SetLogger(log)
	if err := commands.Subscribe(client); err != nil {
		return nil, fmt.Errorf("subscribing MQTT commands: %w", err)
	}

	health.Start(ctx)
	log.Info("MQTT telemetry started", "health_interval_seconds", cfg.Telemetry.HealthIntervalSeconds)

	return func() {
		log.Info("stopping MQTT telemetry")
		commands.Unsubscribe(client)
		health.Stop()
	}, nil
}
