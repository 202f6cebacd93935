package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Defaults and loading
// ---------------------------------------------------------------------------

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Engine.HistoryCapacity != 100 {
		t.Errorf("history capacity = %d", cfg.Engine.HistoryCapacity)
	}
	if cfg.Kafka.Enabled || cfg.Storage.Enabled || cfg.Sessions.RedisEnabled {
		t.Error("optional backends should default to disabled")
	}
	if cfg.Kafka.Topic != "secmon-snapshots" || len(cfg.Kafka.Brokers) != 1 {
		t.Errorf("kafka defaults not populated: %+v", cfg.Kafka.KafkaConfig)
	}
	if len(cfg.Storage.ClickHouse.Hosts) != 1 {
		t.Errorf("clickhouse defaults not populated: %+v", cfg.Storage.ClickHouse)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SECMON_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http port = %d, want default", cfg.Server.HTTPPort)
	}
}

func TestLoadParsesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  http_port: 9090
  read_timeout: 15s
engine:
  history_capacity: 50
notify:
  webhook:
    enabled: true
    url: https://hooks.example.com/secmon
kafka:
  enabled: true
  brokers:
    - broker-1:9092
  topic: snapshots
  consumer_group: monitors
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SECMON_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http port = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("read timeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Engine.HistoryCapacity != 50 {
		t.Errorf("history capacity = %d", cfg.Engine.HistoryCapacity)
	}
	if !cfg.Notify.Webhook.Enabled || cfg.Notify.Webhook.URL != "https://hooks.example.com/secmon" {
		t.Errorf("webhook = %+v", cfg.Notify.Webhook)
	}
	if !cfg.Kafka.Enabled || cfg.Kafka.Topic != "snapshots" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SECMON_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SECMON_HTTP_PORT", "9191")
	t.Setenv("SECMON_LOG_LEVEL", "warn")
	t.Setenv("SECMON_API_KEY", "k-123")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("CLICKHOUSE_HOST", "ch-1:9000")
	t.Setenv("REDIS_ADDR", "redis-1:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9191 {
		t.Errorf("http port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
	if !cfg.Auth.Enabled || len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0] != "k-123" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if len(cfg.Storage.ClickHouse.Hosts) != 1 || cfg.Storage.ClickHouse.Hosts[0] != "ch-1:9000" {
		t.Errorf("clickhouse hosts = %v", cfg.Storage.ClickHouse.Hosts)
	}
	if cfg.Sessions.Redis.Addr != "redis-1:6379" {
		t.Errorf("redis addr = %s", cfg.Sessions.Redis.Addr)
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: "http_port",
		},
		{
			name:    "zero history capacity",
			mutate:  func(c *Config) { c.Engine.HistoryCapacity = 0 },
			wantErr: "history_capacity",
		},
		{
			name:    "min samples too small",
			mutate:  func(c *Config) { c.Engine.AnomalyMinSamples = 1 },
			wantErr: "anomaly_min_samples",
		},
		{
			name:    "webhook enabled without url",
			mutate:  func(c *Config) { c.Notify.Webhook.Enabled = true },
			wantErr: "notify.webhook.url",
		},
		{
			name: "email enabled without host",
			mutate: func(c *Config) {
				c.Notify.Email.Enabled = true
				c.Notify.Email.From = "secmon@example.com"
				c.Notify.Email.To = []string{"secops@example.com"}
			},
			wantErr: "notify.email.host",
		},
		{
			name: "kafka enabled without brokers",
			mutate: func(c *Config) {
				c.Kafka.Enabled = true
				c.Kafka.Brokers = nil
			},
			wantErr: "kafka",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestEngineConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.HistoryCapacity = 42
	cfg.Engine.AnomalyZThreshold = 2.5

	ec := cfg.EngineConfig()
	if ec.HistoryCapacity != 42 {
		t.Errorf("history capacity = %d", ec.HistoryCapacity)
	}
	if ec.Anomaly.ZThreshold != 2.5 {
		t.Errorf("z threshold = %v", ec.Anomaly.ZThreshold)
	}
}
