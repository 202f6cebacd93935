// Command secmon runs the security metric monitoring service: threshold
// rule evaluation, anomaly detection, alert lifecycle management, and
// the HTTP control API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"secmon/internal/alerting"
	"secmon/internal/api"
	"secmon/internal/compliance"
	"secmon/internal/config"
	"secmon/internal/engine"
	"secmon/internal/ingest"
	"secmon/internal/logging"
	"secmon/internal/notify"
	"secmon/internal/rules"
	"secmon/internal/session"
	"secmon/internal/storage"
)

func main() {
	logger := logging.New(os.Stdout, os.Getenv("SECMON_LOG_LEVEL"), "json")
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Reconfigure logging from the resolved config.
	logger = logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_enabled", cfg.Auth.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"redis_enabled", cfg.Sessions.RedisEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session tracking, optionally persisted to Redis.
	tracker := session.NewTracker()
	var redisStore *session.RedisStore
	if cfg.Sessions.RedisEnabled {
		redisStore, err = session.NewRedisStore(cfg.Sessions.Redis)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		tracker.WithStore(redisStore)
		slog.Info("session persistence enabled", "addr", cfg.Sessions.Redis.Addr)
	}

	manager := alerting.NewManager()
	dispatcher := buildDispatcher(&cfg.Notify)

	var eng *engine.Engine
	if dispatcher != nil {
		slog.Info("notification channels configured", "channels", dispatcher.Channels())
		eng = engine.New(cfg.EngineConfig(), manager, tracker, dispatcher)
	} else {
		slog.Warn("no notification channels configured, alerts will not be delivered")
		eng = engine.New(cfg.EngineConfig(), manager, tracker, nil)
	}

	if err := loadRules(eng, cfg.Rules.File); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rules loaded", "count", len(eng.Rules()))

	// Optional ClickHouse archival.
	var chClient *storage.ClickHouseClient
	var sampleWriter *storage.SampleWriter
	if cfg.Storage.Enabled {
		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		slog.Info("running database migrations")
		migrator := storage.NewMigrator(chClient)
		if err := migrator.Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		manager.WithArchiver(storage.NewAlertArchive(chClient))
		sampleWriter = storage.NewSampleWriter(chClient, cfg.Storage.SampleWriter)
		eng.WithSampleArchiver(sampleWriter)

		slog.Info("storage initialized successfully")
	}

	// Optional Kafka snapshot consumer.
	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = ingest.NewConsumer(&cfg.Kafka.KafkaConfig, eng, logger)
		if err != nil {
			slog.Error("failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := consumer.Start(); err != nil {
			slog.Error("failed to start Kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	// HTTP control API.
	handler := api.NewHandler(eng, manager, tracker, compliance.NewEvaluator(compliance.DefaultConfig()))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      api.WithMiddleware(mux, cfg.Auth),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting monitor server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new requests
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			slog.Error("consumer stop error", "error", err)
		}
		metrics := consumer.Metrics()
		slog.Info("consumer metrics",
			"snapshots_consumed", metrics.Consumed,
			"snapshots_invalid", metrics.Invalid,
			"errors", metrics.Errors,
		)
	}

	if sampleWriter != nil {
		if err := sampleWriter.Close(); err != nil {
			slog.Error("sample writer close error", "error", err)
		}
		metrics := sampleWriter.Metrics()
		slog.Info("storage metrics",
			"samples_written", metrics.Written,
			"samples_failed", metrics.Failed,
			"batches", metrics.Batches,
		)
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}

	slog.Info("shutdown complete", "stats", eng.Stats())
}

// buildDispatcher registers a sender for each enabled channel. Returns
// nil when no channel is enabled.
func buildDispatcher(cfg *config.NotifyConfig) *notify.Dispatcher {
	d := notify.NewDispatcher(cfg.Retry)

	if cfg.Webhook.Enabled {
		d.Register(notify.NewWebhookSender(cfg.Webhook.URL, cfg.Webhook.Headers))
		slog.Info("webhook sender registered", "url", logging.MaskURL(cfg.Webhook.URL))
	}
	if cfg.Chat.Enabled {
		d.Register(notify.NewChatSender(cfg.Chat.WebhookURL, cfg.Chat.Room, cfg.Chat.Username))
		slog.Info("chat sender registered", "room", cfg.Chat.Room)
	}
	if cfg.Email.Enabled {
		d.Register(notify.NewEmailSender(cfg.Email.EmailConfig))
		slog.Info("email sender registered", "host", cfg.Email.Host, "recipients", len(cfg.Email.To))
	}
	if cfg.Syslog.Enabled {
		d.Register(notify.NewSyslogSender(cfg.Syslog.Address, cfg.Syslog.Tag))
		slog.Info("syslog sender registered", "address", cfg.Syslog.Address)
	}
	if cfg.Dashboard.Enabled {
		d.Register(notify.NewDashboardFeed(cfg.Dashboard.Capacity))
	}

	if len(d.Channels()) == 0 {
		return nil
	}
	return d
}

// loadRules installs the rule set from the given YAML file, or the
// built-in defaults when no file is configured.
func loadRules(eng *engine.Engine, file string) error {
	var ruleSet []*rules.Rule

	if file == "" {
		ruleSet = rules.DefaultRules()
	} else {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read rules file: %w", err)
		}
		ruleSet, err = rules.ParseRules(data)
		if err != nil {
			return err
		}
	}

	for _, rule := range ruleSet {
		if err := eng.AddRule(rule); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
	}
	return nil
}
