// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Capture CaptureConfig `mapstructure:"capture"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CaptureConfig governs the browser capture pipeline.
type CaptureConfig struct {
	PageTimeoutSeconds int    `mapstructure:"page_timeout_seconds"`
	MaxBatch           int    `mapstructure:"max_batch"`
	UserAgent          string `mapstructure:"user_agent"`
	ChromePath         string `mapstructure:"chrome_path"`
	Headless           bool   `mapstructure:"headless"`
}

// WorkerConfig sizes the capture worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// QueueConfig sizes the in-process task queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// StorageConfig selects the job store backend and artifact locations.
type StorageConfig struct {
	// Provider is "memory" or "postgres".
	Provider  string `mapstructure:"provider"`
	DataDir   string `mapstructure:"data_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational job store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for job-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POSTSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("capture.page_timeout_seconds", 45)
	v.SetDefault("capture.max_batch", 200)
	v.SetDefault("capture.user_agent", "")
	v.SetDefault("capture.chrome_path", "")
	v.SetDefault("capture.headless", true)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 2)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.data_dir", "data/jobs")
	v.SetDefault("storage.gcs_bucket", "")
	// Viper only binds env vars for keys it knows about, so every key needs
	// a default even when that default is empty.
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Capture.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("capture.page_timeout_seconds must be > 0")
	}
	if c.Capture.MaxBatch <= 0 {
		return fmt.Errorf("capture.max_batch must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	switch c.Storage.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.provider is postgres")
		}
	default:
		return fmt.Errorf("storage.provider must be memory or postgres")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// PageTimeout converts the capture timeout into a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Capture.PageTimeoutSeconds) * time.Second
}

// RequestTimeout converts the HTTP request timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
