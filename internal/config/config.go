// ABOUTME: Configuration loading and parsing for prompt-forge
// ABOUTME: Supports YAML or TOML files with env var expansion, env overlays and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the complete prompt-forge configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions" toml:"subscriptions"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Kafka         KafkaConfig         `yaml:"kafka" toml:"kafka"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency" toml:"idempotency"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" envconfig:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve HTTPS on :443 with Tailscale certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" envconfig:"driver"`
	Path   string `yaml:"path" toml:"path" envconfig:"path"`
	URL    string `yaml:"url" toml:"url" envconfig:"url"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" envconfig:"jwt_secret"`
}

// SubscriptionsConfig holds subscription lifecycle timing
type SubscriptionsConfig struct {
	Retention            time.Duration `yaml:"-" toml:"-"`
	SweepInterval        time.Duration `yaml:"-" toml:"-"`
	SweepTimeout         time.Duration `yaml:"-" toml:"-"`
	AutoSubscribeTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RetentionRaw            string `yaml:"retention" toml:"retention"`
	SweepIntervalRaw        string `yaml:"sweep_interval" toml:"sweep_interval"`
	SweepTimeoutRaw         string `yaml:"sweep_timeout" toml:"sweep_timeout"`
	AutoSubscribeTimeoutRaw string `yaml:"auto_subscribe_timeout" toml:"auto_subscribe_timeout"`
}

// NotificationsConfig holds change notification fan-out settings
type NotificationsConfig struct {
	SendTimeout    time.Duration `yaml:"-" toml:"-"`
	SendTimeoutRaw string        `yaml:"send_timeout" toml:"send_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency" toml:"max_concurrency"`
	SubjectPrefix  string        `yaml:"subject_prefix" toml:"subject_prefix"`
}

// KafkaConfig holds the Kafka transport configuration
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled" toml:"enabled" envconfig:"enabled"`
	Brokers  []string `yaml:"brokers" toml:"brokers" envconfig:"brokers"`
	ClientID string   `yaml:"client_id" toml:"client_id" envconfig:"client_id"`
}

// IdempotencyConfig holds the Idempotency-Key replay window
type IdempotencyConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	TTLRaw     string        `yaml:"ttl" toml:"ttl"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" envconfig:"level"`
	Format string `yaml:"format" toml:"format" envconfig:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, PROMPTFORGE_*
// variables override file values, and duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location: $PROMPTFORGE_CONFIG, then
// $XDG_CONFIG_HOME/prompt-forge/config.yaml, then ~/.config/prompt-forge/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("PROMPTFORGE_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "prompt-forge", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "prompt-forge", "config.yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides overlays PROMPTFORGE_<SECTION>_<KEY> environment variables.
func applyEnvOverrides(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{"PROMPTFORGE_SERVER", &cfg.Server},
		{"PROMPTFORGE_DATABASE", &cfg.Database},
		{"PROMPTFORGE_AUTH", &cfg.Auth},
		{"PROMPTFORGE_KAFKA", &cfg.Kafka},
		{"PROMPTFORGE_LOGGING", &cfg.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return fmt.Errorf("%s: %w", s.prefix, err)
		}
	}
	return nil
}

// applyDefaults fills every unset field with its default.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath()
	}
	if c.Subscriptions.Retention == 0 {
		c.Subscriptions.Retention = 7 * 24 * time.Hour
	}
	if c.Subscriptions.SweepInterval == 0 {
		c.Subscriptions.SweepInterval = time.Hour
	}
	if c.Subscriptions.SweepTimeout == 0 {
		c.Subscriptions.SweepTimeout = 30 * time.Second
	}
	if c.Subscriptions.AutoSubscribeTimeout == 0 {
		c.Subscriptions.AutoSubscribeTimeout = 500 * time.Millisecond
	}
	if c.Notifications.SendTimeout == 0 {
		c.Notifications.SendTimeout = 5 * time.Second
	}
	if c.Notifications.MaxConcurrency == 0 {
		c.Notifications.MaxConcurrency = 16
	}
	if c.Notifications.SubjectPrefix == "" {
		c.Notifications.SubjectPrefix = "swarm.forge.agent"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "prompt-forge"
	}
	if c.Idempotency.TTL == 0 {
		c.Idempotency.TTL = 10 * time.Minute
	}
	if c.Idempotency.MaxEntries == 0 {
		c.Idempotency.MaxEntries = 10_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func defaultDatabasePath() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "prompt-forge", "prompt-forge.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "prompt-forge.db"
	}
	return filepath.Join(home, ".local", "share", "prompt-forge", "prompt-forge.db")
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}

	if c.Subscriptions.Retention < 0 || c.Subscriptions.SweepInterval < 0 ||
		c.Subscriptions.SweepTimeout < 0 || c.Subscriptions.AutoSubscribeTimeout < 0 {
		return fmt.Errorf("subscription durations must be positive")
	}

	if c.Notifications.MaxConcurrency < 0 {
		return fmt.Errorf("notifications.max_concurrency must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"subscriptions.retention", cfg.Subscriptions.RetentionRaw, &cfg.Subscriptions.Retention},
		{"subscriptions.sweep_interval", cfg.Subscriptions.SweepIntervalRaw, &cfg.Subscriptions.SweepInterval},
		{"subscriptions.sweep_timeout", cfg.Subscriptions.SweepTimeoutRaw, &cfg.Subscriptions.SweepTimeout},
		{"subscriptions.auto_subscribe_timeout", cfg.Subscriptions.AutoSubscribeTimeoutRaw, &cfg.Subscriptions.AutoSubscribeTimeout},
		{"notifications.send_timeout", cfg.Notifications.SendTimeoutRaw, &cfg.Notifications.SendTimeout},
		{"idempotency.ttl", cfg.Idempotency.TTLRaw, &cfg.Idempotency.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
