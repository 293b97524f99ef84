// Package config loads the layered configuration spec.md §6 prescribes:
// embedded defaults, overridden by config/default.toml, overridden by
// config/local.toml (if present), overridden by environment variables
// prefixed APP__ with __ as the nesting separator (e.g.
// APP__DATABASE__MAX_CONNECTIONS).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL                  string `mapstructure:"url"`
	MaxConnections       int    `mapstructure:"max_connections"`
	MinConnections       int    `mapstructure:"min_connections"`
	ConnectTimeoutSeconds int   `mapstructure:"connect_timeout_seconds"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NatsConfig struct {
	URL          string `mapstructure:"url"`
	StreamName   string `mapstructure:"stream_name"`
	ConsumerName string `mapstructure:"consumer_name"`
}

type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type SchedulerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	LockTTLSeconds      int `mapstructure:"lock_ttl_seconds"`
}

type WorkerConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	MaxRetries     int `mapstructure:"max_retries"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret          string `mapstructure:"jwt_secret"`
	JWTIssuer          string `mapstructure:"jwt_issuer"`
	Enabled            bool   `mapstructure:"enabled"`
}

// Config is the fully-merged configuration for any of the three services;
// each binary only reads the sections it needs.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Nats        NatsConfig        `mapstructure:"nats"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Auth        AuthConfig        `mapstructure:"auth"`
	LogLevel    string            `mapstructure:"log_level"`
}

// Load builds the layered configuration: embedded defaults, then
// config/default.toml, then config/local.toml (optional), then
// APP__-prefixed environment variables with __ as the section separator.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("default")
	v.SetConfigType("toml")
	v.AddConfigPath("config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config/default.toml: %w", err)
		}
	}

	local := viper.New()
	local.SetConfigName("local")
	local.SetConfigType("toml")
	local.AddConfigPath("config")
	if err := local.ReadInConfig(); err == nil {
		if err := v.MergeConfigMap(local.AllSettings()); err != nil {
			return nil, fmt.Errorf("config: merging config/local.toml: %w", err)
		}
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return nil, fmt.Errorf("config: reading config/local.toml: %w", err)
	}

	v.SetEnvPrefix("APP_")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.max_connections", 50)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.connect_timeout_seconds", 10)

	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.stream_name", "JOBS")
	v.SetDefault("nats.consumer_name", "jobctl-worker")

	v.SetDefault("object_store.region", "us-east-1")
	v.SetDefault("object_store.use_ssl", false)

	v.SetDefault("scheduler.poll_interval_seconds", 10)
	v.SetDefault("scheduler.lock_ttl_seconds", 30)

	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.max_retries", 10)
	v.SetDefault("worker.timeout_seconds", 3600)

	v.SetDefault("auth.jwt_issuer", "jobctl")
	v.SetDefault("auth.enabled", false)

	v.SetDefault("log_level", "info")
}

// validate enforces the one cross-field invariant spec.md §6 calls out
// explicitly: the per-bucket lock must outlive a full poll cycle, or a
// slow poll could let a second instance acquire the same bucket's lock
// before the first finishes dispatching it.
func (c *Config) validate() error {
	if c.Scheduler.LockTTLSeconds <= c.Scheduler.PollIntervalSeconds {
		return fmt.Errorf(
			"config: scheduler.lock_ttl_seconds (%d) must exceed scheduler.poll_interval_seconds (%d)",
			c.Scheduler.LockTTLSeconds, c.Scheduler.PollIntervalSeconds,
		)
	}
	return nil
}

func (c *SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c *WorkerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
