// Package config handles configuration loading for secmon.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"secmon/internal/anomaly"
	"secmon/internal/api"
	"secmon/internal/engine"
	"secmon/internal/history"
	"secmon/internal/ingest"
	"secmon/internal/notify"
	"secmon/internal/session"
	"secmon/internal/storage"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Rules    RulesConfig    `yaml:"rules"`
	Notify   NotifyConfig   `yaml:"notify"`
	Auth     api.AuthConfig `yaml:"auth"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Storage  StorageConfig  `yaml:"storage"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig holds evaluation engine tuning.
type EngineConfig struct {
	HistoryCapacity   int     `yaml:"history_capacity"`
	AnomalyMinSamples int     `yaml:"anomaly_min_samples"`
	AnomalyZThreshold float64 `yaml:"anomaly_z_threshold"`
}

// RulesConfig holds rule loading settings. An empty file path means the
// built-in default rule set.
type RulesConfig struct {
	File string `yaml:"file"`
}

// NotifyConfig holds delivery retry settings and per-channel sender
// configuration. Disabled channels get no registered sender; alerts
// routed to them are reported as delivery failures.
type NotifyConfig struct {
	Retry     notify.RetryConfig     `yaml:"retry"`
	Webhook   WebhookChannelConfig   `yaml:"webhook"`
	Chat      ChatChannelConfig      `yaml:"chat"`
	Email     EmailChannelConfig     `yaml:"email"`
	Syslog    SyslogChannelConfig    `yaml:"syslog"`
	Dashboard DashboardChannelConfig `yaml:"dashboard"`
}

// WebhookChannelConfig holds generic webhook sender settings.
type WebhookChannelConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// ChatChannelConfig holds chat webhook sender settings.
type ChatChannelConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Room       string `yaml:"room"`
	Username   string `yaml:"username"`
}

// EmailChannelConfig holds SMTP sender settings.
type EmailChannelConfig struct {
	Enabled            bool `yaml:"enabled"`
	notify.EmailConfig `yaml:",inline"`
}

// SyslogChannelConfig holds syslog sender settings.
type SyslogChannelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Tag     string `yaml:"tag"`
}

// DashboardChannelConfig holds in-memory dashboard feed settings.
type DashboardChannelConfig struct {
	Enabled  bool `yaml:"enabled"`
	Capacity int  `yaml:"capacity"`
}

// KafkaConfig holds snapshot consumer settings.
type KafkaConfig struct {
	Enabled            bool `yaml:"enabled"`
	ingest.KafkaConfig `yaml:",inline"`
}

// StorageConfig holds ClickHouse archival settings.
type StorageConfig struct {
	Enabled      bool                       `yaml:"enabled"`
	ClickHouse   storage.ClickHouseConfig   `yaml:"clickhouse"`
	SampleWriter storage.SampleWriterConfig `yaml:"sample_writer"`
}

// SessionsConfig holds session persistence settings.
type SessionsConfig struct {
	RedisEnabled bool                `yaml:"redis_enabled"`
	Redis        session.RedisConfig `yaml:"redis"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			HistoryCapacity:   history.DefaultCapacity,
			AnomalyMinSamples: anomaly.DefaultMinSamples,
			AnomalyZThreshold: anomaly.DefaultZThreshold,
		},
		Notify: NotifyConfig{
			Retry: notify.DefaultRetryConfig(),
			Dashboard: DashboardChannelConfig{
				Enabled:  true,
				Capacity: 100,
			},
		},
		Auth: api.DefaultAuthConfig(),
		Kafka: KafkaConfig{
			Enabled:     false,
			KafkaConfig: *ingest.DefaultKafkaConfig(),
		},
		Storage: StorageConfig{
			Enabled:      false,
			ClickHouse:   storage.DefaultClickHouseConfig(),
			SampleWriter: storage.DefaultSampleWriterConfig(),
		},
		Sessions: SessionsConfig{
			RedisEnabled: false,
			Redis:        session.DefaultRedisConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// EngineConfig converts the engine section into the engine package's
// config type.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		HistoryCapacity: c.Engine.HistoryCapacity,
		Anomaly: anomaly.Config{
			MinSamples: c.Engine.AnomalyMinSamples,
			ZThreshold: c.Engine.AnomalyZThreshold,
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SECMON_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SECMON_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("SECMON_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if apiKey := os.Getenv("SECMON_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if file := os.Getenv("SECMON_RULES_FILE"); file != "" {
		c.Rules.File = file
	}

	if url := os.Getenv("SECMON_WEBHOOK_URL"); url != "" {
		c.Notify.Webhook.URL = url
		c.Notify.Webhook.Enabled = true
	}

	if enabled := os.Getenv("SECMON_KAFKA_ENABLED"); enabled == "true" {
		c.Kafka.Enabled = true
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers)
	}

	if enabled := os.Getenv("SECMON_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if enabled := os.Getenv("SECMON_REDIS_ENABLED"); enabled == "true" {
		c.Sessions.RedisEnabled = true
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Sessions.Redis.Addr = addr
	}

	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Sessions.Redis.Password = pass
	}
}

func splitAndTrim(s string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Engine.HistoryCapacity <= 0 {
		return fmt.Errorf("history_capacity must be positive")
	}

	if c.Engine.AnomalyMinSamples < 2 {
		return fmt.Errorf("anomaly_min_samples must be at least 2")
	}

	if c.Engine.AnomalyZThreshold <= 0 {
		return fmt.Errorf("anomaly_z_threshold must be positive")
	}

	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url is required when the webhook channel is enabled")
	}

	if c.Notify.Chat.Enabled && c.Notify.Chat.WebhookURL == "" {
		return fmt.Errorf("notify.chat.webhook_url is required when the chat channel is enabled")
	}

	if c.Notify.Email.Enabled {
		if c.Notify.Email.Host == "" {
			return fmt.Errorf("notify.email.host is required when the email channel is enabled")
		}
		if c.Notify.Email.From == "" || len(c.Notify.Email.To) == 0 {
			return fmt.Errorf("notify.email.from and notify.email.to are required when the email channel is enabled")
		}
	}

	if c.Notify.Syslog.Enabled && c.Notify.Syslog.Address == "" {
		return fmt.Errorf("notify.syslog.address is required when the syslog channel is enabled")
	}

	if c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	}

	if c.Storage.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage.clickhouse.hosts is required when storage is enabled")
	}

	if c.Sessions.RedisEnabled && c.Sessions.Redis.Addr == "" {
		return fmt.Errorf("sessions.redis.addr is required when redis persistence is enabled")
	}

	return nil
}
