// Package config loads the drip engine configuration from a YAML file
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the drip engine binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Perform  PerformConfig  `yaml:"perform"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP endpoint settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the optional Redis settings used for the asynchronous
// delivery queue and the perform lock. When disabled, delivery is
// synchronous and locking falls back to PostgreSQL advisory locks.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PerformConfig tunes the perform worker.
type PerformConfig struct {
	// IntervalSeconds is how often the worker runs a perform cycle.
	IntervalSeconds int `yaml:"interval_seconds"`
	// BatchSize bounds one due-work batch.
	BatchSize int `yaml:"batch_size"`
	// ClaimLeaseSeconds is the per-mailing delivery lease. Zero disables
	// claiming; keep it enabled with more than one worker.
	ClaimLeaseSeconds int `yaml:"claim_lease_seconds"`
	// LockTTLSeconds is the distributed perform-lock TTL.
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
	// EnabledCampaigns restricts PerformAll to the named slugs; empty
	// performs every registered campaign.
	EnabledCampaigns []string `yaml:"enabled_campaigns"`
	// EndedReason and UnsubscribeReason are the defaults recorded by the
	// automatic transitions.
	EndedReason       string `yaml:"ended_reason"`
	UnsubscribeReason string `yaml:"unsubscribe_reason"`
}

// Interval returns the perform interval as a duration.
func (c PerformConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ClaimLease returns the claim lease as a duration.
func (c PerformConfig) ClaimLease() time.Duration {
	return time.Duration(c.ClaimLeaseSeconds) * time.Second
}

// LockTTL returns the perform-lock TTL as a duration.
func (c PerformConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// DeliveryConfig selects synchronous or queued delivery and configures the
// email transport.
type DeliveryConfig struct {
	// Async enqueues deliveries to Redis instead of sending inline.
	Async    bool      `yaml:"async"`
	QueueKey string    `yaml:"queue_key"`
	SES      SESConfig `yaml:"ses"`
}

// SESConfig holds AWS SES credentials for the email sender.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads the YAML file at path when it exists, applies defaults, and
// then environment overrides. A missing file is not an error; env-only
// deployments are supported.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Perform.IntervalSeconds == 0 {
		cfg.Perform.IntervalSeconds = 30
	}
	if cfg.Perform.BatchSize == 0 {
		cfg.Perform.BatchSize = 100
	}
	if cfg.Perform.ClaimLeaseSeconds == 0 {
		cfg.Perform.ClaimLeaseSeconds = 300
	}
	if cfg.Perform.LockTTLSeconds == 0 {
		cfg.Perform.LockTTLSeconds = 600
	}
	if cfg.Perform.EndedReason == "" {
		cfg.Perform.EndedReason = "completed"
	}
	if cfg.Perform.UnsubscribeReason == "" {
		cfg.Perform.UnsubscribeReason = "unsubscribed"
	}
	if cfg.Delivery.SES.Region == "" {
		cfg.Delivery.SES.Region = "us-east-1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PERFORM_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Perform.BatchSize = n
		}
	}
	if v := os.Getenv("PERFORM_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Perform.IntervalSeconds = n
		}
	}
	if v := os.Getenv("DELIVERY_ASYNC"); v != "" {
		cfg.Delivery.Async = v == "true" || v == "1"
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Delivery.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Delivery.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Delivery.SES.Region = v
	}
}
