package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is one metric observation bound for the metric_samples table.
type Sample struct {
	Metric    string
	Value     float64
	Timestamp time.Time
}

// SampleWriterConfig holds configuration for the sample writer.
type SampleWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultSampleWriterConfig returns the default sample writer configuration.
func DefaultSampleWriterConfig() SampleWriterConfig {
	return SampleWriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// SampleWriter handles batched sample inserts to ClickHouse. It
// implements the engine's sample archiver boundary.
type SampleWriter struct {
	client *ClickHouseClient
	config SampleWriterConfig

	buffer []Sample
	mu     sync.Mutex

	flushTimer *time.Timer
	done       chan struct{}
	closed     bool

	// Metrics
	totalWritten uint64
	totalFailed  uint64
	batchCount   uint64
}

// NewSampleWriter creates a new SampleWriter.
func NewSampleWriter(client *ClickHouseClient, cfg SampleWriterConfig) *SampleWriter {
	sw := &SampleWriter{
		client: client,
		config: cfg,
		buffer: make([]Sample, 0, cfg.BatchSize),
		done:   make(chan struct{}),
	}

	sw.flushTimer = time.AfterFunc(cfg.FlushInterval, sw.timerFlush)

	return sw
}

// ArchiveSample adds one sample to the batch.
func (sw *SampleWriter) ArchiveSample(ctx context.Context, metric string, value float64, ts time.Time) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrWriterClosed
	}

	sw.buffer = append(sw.buffer, Sample{Metric: metric, Value: value, Timestamp: ts})

	if len(sw.buffer) >= sw.config.BatchSize {
		return sw.flushLocked()
	}

	return nil
}

// timerFlush is called by the flush timer.
func (sw *SampleWriter) timerFlush() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return
	}

	if len(sw.buffer) > 0 {
		if err := sw.flushLocked(); err != nil {
			slog.Error("timer flush failed", "error", err)
		}
	}

	sw.flushTimer.Reset(sw.config.FlushInterval)
}

// flushLocked flushes the buffer. Caller must hold the lock.
func (sw *SampleWriter) flushLocked() error {
	if len(sw.buffer) == 0 {
		return nil
	}

	samples := sw.buffer
	sw.buffer = make([]Sample, 0, sw.config.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= sw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(sw.config.RetryDelay * time.Duration(attempt))
		}

		if err := sw.insertBatch(samples); err != nil {
			lastErr = err
			slog.Warn("sample batch insert failed, retrying",
				"attempt", attempt+1,
				"max_retries", sw.config.MaxRetries,
				"error", err,
			)
			continue
		}

		atomic.AddUint64(&sw.totalWritten, uint64(len(samples)))
		atomic.AddUint64(&sw.batchCount, 1)
		return nil
	}

	atomic.AddUint64(&sw.totalFailed, uint64(len(samples)))
	return fmt.Errorf("%w: after %d retries: %v", ErrBatchInsertFailed, sw.config.MaxRetries, lastErr)
}

// insertBatch inserts a batch of samples into ClickHouse.
func (sw *SampleWriter) insertBatch(samples []Sample) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := sw.client.PrepareBatch(ctx, `
		INSERT INTO metric_samples (metric, value, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, s := range samples {
		if err := batch.Append(s.Metric, s.Value, s.Timestamp); err != nil {
			return fmt.Errorf("failed to append sample: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	slog.Debug("sample batch inserted", "count", len(samples))
	return nil
}

// Flush forces a flush of the current buffer.
func (sw *SampleWriter) Flush() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.flushLocked()
}

// Close flushes remaining samples and shuts the writer down.
func (sw *SampleWriter) Close() error {
	sw.mu.Lock()
	if sw.closed {
		sw.mu.Unlock()
		return nil
	}
	err := sw.flushLocked()
	sw.closed = true
	sw.mu.Unlock()

	sw.flushTimer.Stop()
	close(sw.done)
	return err
}

// Metrics returns sample writer statistics.
func (sw *SampleWriter) Metrics() SampleWriterMetrics {
	return SampleWriterMetrics{
		Written: atomic.LoadUint64(&sw.totalWritten),
		Failed:  atomic.LoadUint64(&sw.totalFailed),
		Batches: atomic.LoadUint64(&sw.batchCount),
		Pending: sw.pendingCount(),
	}
}

func (sw *SampleWriter) pendingCount() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.buffer)
}

// SampleWriterMetrics holds sample writer statistics.
type SampleWriterMetrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Batches uint64 `json:"batches"`
	Pending int    `json:"pending"`
}
