package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"secmon/internal/alerting"
	"secmon/internal/anomaly"
	"secmon/internal/schema"
)

// Pipeline receives validated snapshots. The engine satisfies this.
type Pipeline interface {
	Submit(ctx context.Context, snap *schema.Snapshot) ([]*alerting.SecurityAlert, []anomaly.Detection)
}

// reader is the subset of kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads snapshot messages from Kafka and submits them to the
// pipeline. Malformed or invalid messages are dropped and committed so
// a poison message never wedges the partition.
type Consumer struct {
	reader    reader
	config    *KafkaConfig
	logger    *slog.Logger
	pipeline  Pipeline
	validator *schema.Validator

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	started atomic.Bool

	// Metrics (accessed atomically)
	consumed uint64
	invalid  uint64
	errors   uint64
}

// NewConsumer creates a Kafka consumer bound to the pipeline.
func NewConsumer(config *KafkaConfig, pipeline Pipeline, logger *slog.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if pipeline == nil {
		return nil, errors.New("ingest: pipeline is required")
	}

	dialer, err := config.GetDialer()
	if err != nil {
		return nil, err
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           config.Brokers,
		GroupID:           config.ConsumerGroup,
		Topic:             config.Topic,
		Dialer:            dialer,
		MinBytes:          config.MinBytes,
		MaxBytes:          config.MaxBytes,
		MaxWait:           config.MaxWait,
		CommitInterval:    config.CommitInterval,
		StartOffset:       config.StartOffset,
		HeartbeatInterval: config.HeartbeatInterval,
		SessionTimeout:    config.SessionTimeout,
		RebalanceTimeout:  config.RebalanceTimeout,
		ReadBackoffMin:    100 * time.Millisecond,
		ReadBackoffMax:    time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		reader:    r,
		config:    config,
		logger:    logger,
		pipeline:  pipeline,
		validator: schema.NewValidator(),
		ctx:       ctx,
		cancel:    cancel,
	}

	logger.Info("snapshot consumer initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group", config.ConsumerGroup,
	)

	return c, nil
}

// Start begins consuming in a goroutine. Use Stop to shut down.
func (c *Consumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("ingest: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("consumer loop exited with error", "error", err)
		}
	}()

	c.logger.Info("snapshot consumer started",
		"topic", c.config.Topic,
		"group", c.config.ConsumerGroup,
	)

	return nil
}

// consumeLoop is the main consumption loop.
func (c *Consumer) consumeLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			atomic.AddUint64(&c.errors, 1)
			c.logger.Error("failed to fetch message",
				"error", err,
				"topic", c.config.Topic,
			)

			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		c.handleMessage(msg.Value)

		if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
			c.logger.Error("failed to commit offset",
				"error", err,
				"offset", msg.Offset,
			)
		}
	}
}

// handleMessage decodes, validates and submits one snapshot payload.
func (c *Consumer) handleMessage(value []byte) {
	var snap schema.Snapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		atomic.AddUint64(&c.invalid, 1)
		c.logger.Warn("dropping undecodable snapshot", "error", err)
		return
	}

	if err := c.validator.Validate(&snap); err != nil {
		atomic.AddUint64(&c.invalid, 1)
		c.logger.Warn("dropping invalid snapshot",
			"error", err,
			"source", snap.Source,
		)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	alerts, detections := c.pipeline.Submit(ctx, &snap)
	cancel()

	atomic.AddUint64(&c.consumed, 1)
	if len(alerts) > 0 || len(detections) > 0 {
		c.logger.Info("snapshot processed",
			"metrics", len(snap.Metrics),
			"alerts", len(alerts),
			"anomalies", len(detections),
		)
	}
}

// Metrics returns consumer counters.
func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Consumed: atomic.LoadUint64(&c.consumed),
		Invalid:  atomic.LoadUint64(&c.invalid),
		Errors:   atomic.LoadUint64(&c.errors),
	}
}

// ConsumerMetrics holds consumer statistics.
type ConsumerMetrics struct {
	Consumed uint64 `json:"consumed"`
	Invalid  uint64 `json:"invalid"`
	Errors   uint64 `json:"errors"`
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.logger.Info("stopping snapshot consumer",
		"consumed", atomic.LoadUint64(&c.consumed),
		"invalid", atomic.LoadUint64(&c.invalid),
	)

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ingest: failed to close consumer: %w", err)
	}

	return nil
}
