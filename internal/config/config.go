// Package config handles configuration loading for the detection engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"threatsense/internal/consumer"
	"threatsense/internal/detect"
	"threatsense/internal/enrich"
	"threatsense/internal/kafka"
	"threatsense/internal/secrets"
	"threatsense/internal/session"
	"threatsense/internal/storage"
)

// Config holds the complete application configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Logging       LoggingConfig            `yaml:"logging"`
	Auth          AuthConfig               `yaml:"auth"`
	RateLimit     RateLimitConfig          `yaml:"rate_limit"`
	Queue         QueueConfig              `yaml:"queue"`
	Consumer      consumer.Config          `yaml:"consumer"`
	ClickHouse    storage.ClickHouseConfig `yaml:"clickhouse"`
	Sessions      SessionsConfig           `yaml:"sessions"`
	Geo           enrich.GeoConfig         `yaml:"geo"`
	Detection     detect.Params            `yaml:"detection"`
	Kafka         kafka.Config             `yaml:"kafka"`
	Notifications NotificationsConfig      `yaml:"notifications"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	Environment     string        `yaml:"environment"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Production reports whether the server runs in production mode.
// Production mode redacts internal error detail from API responses.
func (s ServerConfig) Production() bool {
	return s.Environment == "production"
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig holds API key authentication settings.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []APIKey `yaml:"api_keys"`
}

// APIKey is one configured caller credential. Hash is a bcrypt hash of
// the plaintext key.
type APIKey struct {
	ID   string `yaml:"id"`
	Hash string `yaml:"hash"`
}

// RateLimitConfig holds rate limiting settings. TrustProxy controls
// whether forwarded-for headers are honored when resolving the client
// address; leave it off unless a trusted reverse proxy fronts the
// service.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TrustProxy    bool          `yaml:"trust_proxy"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
}

// QueueConfig holds async ingestion buffer settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// SessionsConfig selects the session origin store backend.
type SessionsConfig struct {
	// Backend is "redis" or "memory".
	Backend string              `yaml:"backend"`
	Redis   session.RedisConfig `yaml:"redis"`
}

// NotificationsConfig holds alert notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Slack   SlackConfig   `yaml:"slack"`
}

// WebhookConfig configures the generic webhook channel.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			Environment:     "development",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 300,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health"},
		},
		Queue: QueueConfig{
			Size: 10000,
		},
		Consumer:   consumer.DefaultConfig(),
		ClickHouse: storage.DefaultClickHouseConfig(),
		Sessions: SessionsConfig{
			Backend: "memory",
			Redis:   session.DefaultRedisConfig(),
		},
		Geo:       enrich.DefaultGeoConfig(),
		Detection: detect.DefaultParams(),
		Kafka:     kafka.DefaultConfig(),
	}
}

// Load loads configuration from a file, falling back to defaults, then
// applies environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("THREATSENSE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets overlays credentials from mounted secret files and the
// environment. File-based secrets take precedence so rotated mounts win
// over stale environment values.
func (c *Config) resolveSecrets() error {
	dir := os.Getenv("THREATSENSE_SECRETS_DIR")
	if dir == "" {
		dir = "/run/secrets"
	}
	chain := secrets.NewChain(secrets.NewFileProvider(dir), secrets.EnvProvider{})

	targets := map[string]*string{
		"clickhouse_password": &c.ClickHouse.Password,
		"redis_password":      &c.Sessions.Redis.Password,
		"slack_webhook_url":   &c.Notifications.Slack.WebhookURL,
	}
	for key, dst := range targets {
		if err := chain.Resolve(key, dst); err != nil {
			return fmt.Errorf("resolve secret %q: %w", key, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("THREATSENSE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.HTTPPort = p
		}
	}
	if level := os.Getenv("THREATSENSE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if env := os.Getenv("THREATSENSE_ENV"); env != "" {
		c.Server.Environment = env
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.ClickHouse.Hosts = strings.Split(host, ",")
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.ClickHouse.Username = user
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Sessions.Backend = "redis"
		c.Sessions.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if enabled := os.Getenv("THREATSENSE_RATELIMIT_ENABLED"); enabled == "false" {
		c.RateLimit.Enabled = false
	}
	if url := os.Getenv("THREATSENSE_SLACK_WEBHOOK"); url != "" {
		c.Notifications.Slack.Enabled = true
		c.Notifications.Slack.WebhookURL = url
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Consumer.Workers <= 0 {
		return fmt.Errorf("consumer workers must be positive")
	}
	switch c.Sessions.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth enabled but no api keys configured")
	}
	if err := c.Detection.Validate(); err != nil {
		return fmt.Errorf("detection params: %w", err)
	}
	if err := c.Kafka.Validate(); err != nil {
		return err
	}
	return nil
}
