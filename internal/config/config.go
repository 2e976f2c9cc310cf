// Package config loads exporter configuration from an optional YAML file
// with SIEM_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/edgegate/siem-exporter/internal/destination"
)

// Config holds all configuration for the exporter service.
type Config struct {
	Server       ServerConfig              `mapstructure:"server"`
	Service      ServiceConfig             `mapstructure:"service"`
	Exporter     ExporterConfig            `mapstructure:"exporter"`
	Redis        RedisConfig               `mapstructure:"redis"`
	Destinations []destination.Destination `mapstructure:"destinations"`
}

// ServerConfig holds HTTP server configuration for /healthz and /metrics.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ServiceConfig identifies the producing service in every envelope.
type ServiceConfig struct {
	Name       string `mapstructure:"name"`
	Version    string `mapstructure:"version"`
	InstanceID string `mapstructure:"instance_id"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
}

// ExporterConfig holds pipeline tuning.
type ExporterConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	BatchSize          int           `mapstructure:"batch_size"`
	FlushInterval      time.Duration `mapstructure:"flush_interval"`
	QueueMaxSize       int           `mapstructure:"queue_max_size"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	BackpressurePolicy string        `mapstructure:"backpressure_policy"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
	EventSources       []string      `mapstructure:"event_sources"`
	URLAllowlist       []string      `mapstructure:"url_allowlist"`
	RedactFields       []string      `mapstructure:"redact_fields"`
}

// RedisConfig holds the durable queue backend settings. An empty URL keeps
// the exporter on the in-process queue.
type RedisConfig struct {
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	ConsumerGroup string `mapstructure:"consumer_group"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8098)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("service.name", "edgegate")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.instance_id", "")
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.log_format", "json")

	v.SetDefault("exporter.enabled", false)
	v.SetDefault("exporter.batch_size", 100)
	v.SetDefault("exporter.flush_interval", "5s")
	v.SetDefault("exporter.queue_max_size", 10000)
	v.SetDefault("exporter.max_retries", 3)
	v.SetDefault("exporter.backoff_max", "60s")
	v.SetDefault("exporter.backpressure_policy", "drop_oldest")
	v.SetDefault("exporter.send_timeout", "30s")
	v.SetDefault("exporter.event_sources", []string{"security", "audit"})
	v.SetDefault("exporter.redact_fields", []string{"user_email", "authorization", "token", "password", "secret", "api_key"})

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.stream", "siem:export:events")
	v.SetDefault("redis.consumer_group", "siem-exporters")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("SIEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Exporter.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c ExporterConfig) validate() error {
	switch c.BackpressurePolicy {
	case "drop_oldest", "block_producer":
	default:
		return fmt.Errorf("invalid backpressure_policy %q (want drop_oldest or block_producer)", c.BackpressurePolicy)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.QueueMaxSize <= 0 {
		return fmt.Errorf("queue_max_size must be positive, got %d", c.QueueMaxSize)
	}
	return nil
}
