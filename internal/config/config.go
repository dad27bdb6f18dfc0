// Package config loads the reactive query server's runtime configuration
// from an optional YAML file, with most fields overridable by an
// environment variable and sensible defaults applied for a bare `go run`.
// The watched file paths and the Postgres reconnect interval are read from
// the YAML file only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every externally tunable setting the server reads at
// startup. Nothing downstream reads os.Getenv directly; everything flows
// through here so the full set of knobs is visible in one place.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Cache     CacheConfig     `yaml:"cache"`
	Notifiers NotifiersConfig `yaml:"notifiers"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	LogLevel  string          `yaml:"log_level"`
	LogPretty bool            `yaml:"log_pretty"`
}

// HTTPConfig controls the gin-based gateway.
type HTTPConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig controls the optional Redis-backed computation cache.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NotifiersConfig controls which external change-source adapters start.
type NotifiersConfig struct {
	Postgres PostgresNotifierConfig `yaml:"postgres"`
	File     FileNotifierConfig     `yaml:"file"`
	NATS     NATSNotifierConfig     `yaml:"nats"`
}

// PostgresNotifierConfig configures the LISTEN/NOTIFY adapter.
type PostgresNotifierConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ConnString        string        `yaml:"conn_string"`
	Channel           string        `yaml:"channel"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// FileNotifierConfig configures the fsnotify-backed file watch adapter.
type FileNotifierConfig struct {
	Enabled bool     `yaml:"enabled"`
	Paths   []string `yaml:"paths"`
}

// NATSNotifierConfig configures the cross-replica notify bridge.
type NATSNotifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// JanitorConfig controls the periodic TTL-cache sweep backstop.
type JanitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Load reads path (if non-empty and present) as YAML, then lets each field
// that has a matching environment variable be overridden by it, then fills in
// defaults for anything still unset. An absent or empty path is not an
// error: the server runs entirely off environment variables and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		c.HTTP.Port = v
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = v == "true"
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Cache.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Cache.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Cache.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.DB = n
		}
	}
	if v := os.Getenv("POSTGRES_NOTIFIER_ENABLED"); v != "" {
		c.Notifiers.Postgres.Enabled = v == "true"
	}
	if v := os.Getenv("POSTGRES_NOTIFIER_CONN_STRING"); v != "" {
		c.Notifiers.Postgres.ConnString = v
	}
	if v := os.Getenv("POSTGRES_NOTIFIER_CHANNEL"); v != "" {
		c.Notifiers.Postgres.Channel = v
	}
	if v := os.Getenv("FILE_NOTIFIER_ENABLED"); v != "" {
		c.Notifiers.File.Enabled = v == "true"
	}
	if v := os.Getenv("NATS_NOTIFIER_ENABLED"); v != "" {
		c.Notifiers.NATS.Enabled = v == "true"
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Notifiers.NATS.URL = v
	}
	if v := os.Getenv("NATS_SUBJECT"); v != "" {
		c.Notifiers.NATS.Subject = v
	}
	if v := os.Getenv("JANITOR_ENABLED"); v != "" {
		c.Janitor.Enabled = v == "true"
	}
	if v := os.Getenv("JANITOR_SCHEDULE"); v != "" {
		c.Janitor.Schedule = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		c.LogPretty = v == "true"
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == "" {
		c.HTTP.Port = "8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if c.Cache.Host == "" {
		c.Cache.Host = "localhost"
	}
	if c.Cache.Port == "" {
		c.Cache.Port = "6379"
	}
	if c.Notifiers.Postgres.Channel == "" {
		c.Notifiers.Postgres.Channel = "reactive_updates"
	}
	if c.Notifiers.Postgres.ReconnectInterval == 0 {
		c.Notifiers.Postgres.ReconnectInterval = 10 * time.Second
	}
	if c.Notifiers.NATS.URL == "" {
		c.Notifiers.NATS.URL = "nats://localhost:4222"
	}
	if c.Notifiers.NATS.Subject == "" {
		c.Notifiers.NATS.Subject = "reactive.notify"
	}
	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = "@every 1m"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration is internally consistent. It runs
// after defaults are applied, so it can assume every field is populated.
func (c *Config) Validate() error {
	if c.Notifiers.Postgres.Enabled && c.Notifiers.Postgres.ConnString == "" {
		return fmt.Errorf("notifiers.postgres.conn_string required when postgres notifier is enabled")
	}
	if c.Notifiers.File.Enabled && len(c.Notifiers.File.Paths) == 0 {
		return fmt.Errorf("notifiers.file.paths required when file notifier is enabled")
	}
	return nil
}
