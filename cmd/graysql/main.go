// graysql serves embedded SQLite databases to other processes.
//
// Callers load a database by URL, then run statements and queries against
// it over HTTP or MQTT. Pending schema migrations are applied the first
// time a database is loaded.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"github.com/nerrad567/graysql/internal/api"
	"github.com/nerrad567/graysql/internal/command"
	"github.com/nerrad567/graysql/internal/infrastructure/config"
	"github.com/nerrad567/graysql/internal/infrastructure/database"
	"github.com/nerrad567/graysql/internal/infrastructure/database/hooks"
	"github.com/nerrad567/graysql/internal/infrastructure/influxdb"
	"github.com/nerrad567/graysql/internal/infrastructure/logging"
	"github.com/nerrad567/graysql/internal/infrastructure/mqtt"
	"github.com/nerrad567/graysql/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when GRAYSQL_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// tracerName identifies graysql spans.
	tracerName = "github.com/nerrad567/graysql"

	// poolStatsInterval is how often pool statistics are written to InfluxDB.
	poolStatsInterval = 30 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts every component and blocks until ctx is cancelled. Components
// are torn down in reverse start order by the deferred closers.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting graysql",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "storage_dir", cfg.Storage.Dir)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	metricsRegistry := prometheus.NewRegistry()
	queryHooks, err := buildHooks(cfg, log, metricsRegistry, influxClient)
	if err != nil {
		return fmt.Errorf("building query hooks: %w", err)
	}

	migrationSet := database.NewMigrationSet()
	if cfg.Databases.DefaultURL != "" {
		if regErr := migrations.Register(migrationSet, cfg.Databases.DefaultURL); regErr != nil {
			return regErr
		}
	}

	registry := database.NewRegistry(database.RegistryConfig{
		StorageDir: cfg.Storage.Dir,
		Pool:       poolConfig(cfg.Database),
		Migrations: migrationSet,
		Hooks:      queryHooks,
	})
	registry.SetLogger(log.With("component", "registry"))
	defer func() {
		log.Info("closing databases")
		registry.Shutdown()
	}()

	if preloadErr := registry.Preload(ctx, cfg.Databases.Preload); preloadErr != nil {
		return preloadErr
	}
	log.Info("databases preloaded", "count", len(cfg.Databases.Preload))

	dispatcher := command.NewDispatcher(registry)
	checks := map[string]api.HealthChecker{}
	if influxClient != nil {
		checks["influxdb"] = influxClient
		go writePoolStats(ctx, registry, influxClient)
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(ctx, cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttLog := log.With("component", "mqtt")
		mqttClient.SetLogger(mqttLog)
		mqttClient.SetOnConnect(func() { mqttLog.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { mqttLog.Warn("MQTT disconnected", "error", err) })
		checks["mqtt"] = mqttClient

		mqttServer := command.NewMQTTServer(dispatcher, mqttClient)
		mqttServer.SetLogger(mqttLog)
		if startErr := mqttServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT command server: %w", startErr)
		}
		defer mqttServer.Stop()
		log.Info("MQTT command server started",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"requests", mqtt.Topics{}.AllRequests(),
		)
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			Security:   cfg.Security,
			Logger:     log.With("component", "api"),
			Dispatcher: dispatcher,
			Checks:     checks,
			Version:    version,
		}
		if cfg.Metrics.Enabled {
			deps.Gatherer = metricsRegistry
		}

		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns GRAYSQL_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYSQL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults; a missing file named by GRAYSQL_CONFIG is an error.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if os.Getenv("GRAYSQL_CONFIG") == "" && errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if validErr := cfg.Validate(); validErr != nil {
			return nil, "", validErr
		}
		return cfg, "defaults", nil
	}
	return nil, "", err
}

// poolConfig converts the database config section into pool settings.
func poolConfig(cfg config.DatabaseConfig) database.PoolConfig {
	return database.PoolConfig{
		WALMode:           cfg.WALMode,
		BusyTimeout:       cfg.BusyTimeout,
		MaxOpenConns:      cfg.MaxOpenConns,
		MaxIdleConns:      cfg.MaxIdleConns,
		ConnMaxLifetime:   time.Duration(cfg.ConnMaxLifetime) * time.Second,
		BindIntegersExact: cfg.BindIntegersExact,
	}
}

// buildHooks assembles the query hooks enabled by cfg, in the order they
// observe each query: logging, metrics, tracing, then InfluxDB.
func buildHooks(cfg *config.Config, log *logging.Logger, reg *prometheus.Registry, influxClient *influxdb.Client) ([]database.QueryHook, error) {
	var queryHooks []database.QueryHook

	slow := time.Duration(cfg.Database.SlowQueryMS) * time.Millisecond
	if cfg.Database.LogQueries || slow > 0 {
		queryHooks = append(queryHooks, hooks.NewLoggerHook(log.With("component", "query").Slog(), cfg.Database.LogQueries, slow))
	}

	if cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metricsHook, err := hooks.NewMetricsHook(reg, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		queryHooks = append(queryHooks, metricsHook)
	}

	if cfg.Tracing.Enabled {
		queryHooks = append(queryHooks, hooks.NewTracingHook(otel.Tracer(tracerName)))
	}

	if influxClient != nil {
		queryHooks = append(queryHooks, influxClient.QueryHook())
	}

	return queryHooks, nil
}

// writePoolStats periodically records connection pool statistics for every
// loaded database until ctx is cancelled.
func writePoolStats(ctx context.Context, registry *database.Registry, client *influxdb.Client) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range registry.Loaded() {
				//nolint:errcheck // A database closed since Loaded() is simply skipped
				registry.Inspect(id, func(p *database.Pool) error {
					client.WritePoolStats(id, p.Stats())
					return nil
				})
			}
		}
	}
}
