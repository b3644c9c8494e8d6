// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

subscriptions:
  retention: "48h"
  sweep_interval: "10m"
  sweep_timeout: "5s"
  auto_subscribe_timeout: "250ms"

notifications:
  send_timeout: "2s"
  max_concurrency: 4
  subject_prefix: "lab.forge"

kafka:
  enabled: true
  brokers:
    - "kafka-1:9092"
    - "kafka-2:9092"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverSQLite)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Subscriptions.Retention != 48*time.Hour {
		t.Errorf("Subscriptions.Retention = %v, want %v", cfg.Subscriptions.Retention, 48*time.Hour)
	}
	if cfg.Subscriptions.SweepInterval != 10*time.Minute {
		t.Errorf("Subscriptions.SweepInterval = %v, want %v", cfg.Subscriptions.SweepInterval, 10*time.Minute)
	}
	if cfg.Subscriptions.SweepTimeout != 5*time.Second {
		t.Errorf("Subscriptions.SweepTimeout = %v, want %v", cfg.Subscriptions.SweepTimeout, 5*time.Second)
	}
	if cfg.Subscriptions.AutoSubscribeTimeout != 250*time.Millisecond {
		t.Errorf("Subscriptions.AutoSubscribeTimeout = %v, want %v", cfg.Subscriptions.AutoSubscribeTimeout, 250*time.Millisecond)
	}

	if cfg.Notifications.SendTimeout != 2*time.Second {
		t.Errorf("Notifications.SendTimeout = %v, want %v", cfg.Notifications.SendTimeout, 2*time.Second)
	}
	if cfg.Notifications.MaxConcurrency != 4 {
		t.Errorf("Notifications.MaxConcurrency = %d, want 4", cfg.Notifications.MaxConcurrency)
	}
	if cfg.Notifications.SubjectPrefix != "lab.forge" {
		t.Errorf("Notifications.SubjectPrefix = %q, want %q", cfg.Notifications.SubjectPrefix, "lab.forge")
	}

	if !cfg.Kafka.Enabled {
		t.Error("Kafka.Enabled = false, want true")
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers len = %d, want 2", len(cfg.Kafka.Brokers))
	}
	if cfg.Kafka.ClientID != "prompt-forge" {
		t.Errorf("Kafka.ClientID = %q, want default", cfg.Kafka.ClientID)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	configPath := writeConfig(t, "config.yaml", "")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":8080")
	}
	if cfg.Database.Path != filepath.Join("/data", "prompt-forge", "prompt-forge.db") {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Subscriptions.Retention != 7*24*time.Hour {
		t.Errorf("Subscriptions.Retention = %v, want 7 days", cfg.Subscriptions.Retention)
	}
	if cfg.Subscriptions.SweepInterval != time.Hour {
		t.Errorf("Subscriptions.SweepInterval = %v, want 1h", cfg.Subscriptions.SweepInterval)
	}
	if cfg.Subscriptions.AutoSubscribeTimeout != 500*time.Millisecond {
		t.Errorf("Subscriptions.AutoSubscribeTimeout = %v, want 500ms", cfg.Subscriptions.AutoSubscribeTimeout)
	}
	if cfg.Notifications.SubjectPrefix != "swarm.forge.agent" {
		t.Errorf("Notifications.SubjectPrefix = %q", cfg.Notifications.SubjectPrefix)
	}
	if cfg.Idempotency.TTL != 10*time.Minute {
		t.Errorf("Idempotency.TTL = %v, want 10m", cfg.Idempotency.TTL)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[server]
http_addr = ":9000"

[database]
driver = "postgres"
url = "postgres://forge@localhost/forge"

[subscriptions]
retention = "72h"

[kafka]
enabled = true
brokers = ["localhost:9092"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":9000")
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverPostgres)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty for postgres", cfg.Database.Path)
	}
	if cfg.Subscriptions.Retention != 72*time.Hour {
		t.Errorf("Subscriptions.Retention = %v, want 72h", cfg.Subscriptions.Retention)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_FORGE_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TEST_FORGE_DB", "/tmp/forge.db")

	configPath := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_FORGE_DB}"
auth:
  jwt_secret: "${TEST_FORGE_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/forge.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/forge.db")
	}
	if cfg.Auth.JWTSecret != "0123456789abcdef0123456789abcdef" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROMPTFORGE_SERVER_HTTP_ADDR", ":7070")
	t.Setenv("PROMPTFORGE_DATABASE_PATH", "/override/forge.db")
	t.Setenv("PROMPTFORGE_KAFKA_ENABLED", "true")
	t.Setenv("PROMPTFORGE_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("PROMPTFORGE_LOGGING_LEVEL", "warn")

	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./file.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != ":7070" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":7070")
	}
	if cfg.Database.Path != "/override/forge.db" {
		t.Errorf("Database.Path = %q, want override", cfg.Database.Path)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka = %+v, want enabled with 2 brokers", cfg.Kafka)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
subscriptions:
  retention: "a week"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "subscriptions.retention") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "server: [unterminated")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.url"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"no listener", func(c *Config) { c.Server.HTTPAddr = "" }, "http_addr"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"negative retention", func(c *Config) { c.Subscriptions.Retention = -time.Hour }, "durations"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FORGE_A", "alpha")

	got := expandEnvVars("x=${FORGE_A} y=${FORGE_UNSET_VAR}")
	if got != "x=alpha y=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("PROMPTFORGE_CONFIG", "/etc/forge.toml")
	if got := DefaultPath(); got != "/etc/forge.toml" {
		t.Errorf("DefaultPath() = %q, want explicit path", got)
	}

	t.Setenv("PROMPTFORGE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "prompt-forge", "config.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}
