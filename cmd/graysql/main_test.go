package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/graysql/internal/infrastructure/config"
	"github.com/nerrad567/graysql/internal/infrastructure/influxdb"
	"github.com/nerrad567/graysql/internal/infrastructure/logging"
)

// writeConfig writes content to a temp config file and points GRAYSQL_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYSQL_CONFIG", path)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYSQL_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}

	t.Setenv("GRAYSQL_CONFIG", "/custom/path/config.yaml")
	if path := getConfigPath(); path != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", path)
	}
}

func TestRun_InvalidConfigPath(t *testing.T) {
	t.Setenv("GRAYSQL_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a missing explicit config file")
	}
}

func TestLoadConfig_DefaultFallback(t *testing.T) {
	t.Setenv("GRAYSQL_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if path != "defaults" {
		t.Errorf("path = %q, want defaults", path)
	}
	if cfg.Databases.DefaultURL == "" {
		t.Error("default config has no default database URL")
	}
}

func TestRun_InvalidPreload(t *testing.T) {
	writeConfig(t, `
storage:
  dir: "`+t.TempDir()+`"
databases:
  preload: ["sqlite:../escape.db"]
api:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when a preload URL escapes the storage dir")
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	storage := t.TempDir()
	writeConfig(t, `
storage:
  dir: "`+storage+`"
databases:
  default_url: "sqlite:graysql.db"
  preload: ["sqlite:graysql.db", "sqlite:cache.db"]
api:
  enabled: true
  host: "127.0.0.1"
  port: 18089
metrics:
  enabled: true
  namespace: graysql_test
tracing:
  enabled: true
logging:
  level: error
  format: text
  output: stderr
`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	for _, name := range []string{"graysql.db", "cache.db"} {
		if _, err := os.Stat(filepath.Join(storage, name)); err != nil {
			t.Errorf("preloaded database %s not created: %v", name, err)
		}
	}
}

func TestPoolConfig(t *testing.T) {
	got := poolConfig(config.DatabaseConfig{
		WALMode:           true,
		BusyTimeout:       7,
		MaxOpenConns:      3,
		MaxIdleConns:      1,
		ConnMaxLifetime:   60,
		BindIntegersExact: true,
	})

	if !got.WALMode || got.BusyTimeout != 7 || got.MaxOpenConns != 3 || got.MaxIdleConns != 1 {
		t.Errorf("poolConfig() = %+v", got)
	}
	if got.ConnMaxLifetime != time.Minute || !got.BindIntegersExact {
		t.Errorf("poolConfig() = %+v", got)
	}
}

func TestBuildHooks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		influx *influxdb.Client
		want   int
	}{
		{"none", func(c *config.Config) { c.Metrics.Enabled = false }, nil, 0},
		{"logging only", func(c *config.Config) {
			c.Metrics.Enabled = false
			c.Database.SlowQueryMS = 100
		}, nil, 1},
		{"all", func(c *config.Config) {
			c.Database.LogQueries = true
			c.Tracing.Enabled = true
		}, &influxdb.Client{}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			got, err := buildHooks(cfg, logging.Discard(), prometheus.NewRegistry(), tt.influx)
			if err != nil {
				t.Fatalf("buildHooks() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len(hooks) = %d, want %d", len(got), tt.want)
			}
		})
	}
}
