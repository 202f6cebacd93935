// Package notify implements alert delivery over the configured channel
// senders. Each channel type has one Sender; the Dispatcher fans an
// alert out to the channels a rule names, with bounded retries.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"secmon/internal/alerting"
	"secmon/internal/schema"
)

// RetryConfig bounds per-channel delivery attempts.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// DefaultRetryConfig returns sensible delivery defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		AttemptTimeout: 10 * time.Second,
	}
}

// Dispatcher routes alerts to channel senders. It implements
// alerting.Dispatcher.
type Dispatcher struct {
	retry   RetryConfig
	mu      sync.RWMutex
	senders map[schema.Channel]Sender

	attempted uint64
	delivered uint64
	failed    uint64
}

// NewDispatcher creates a dispatcher with no senders registered.
func NewDispatcher(retry RetryConfig) *Dispatcher {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.AttemptTimeout <= 0 {
		retry.AttemptTimeout = 10 * time.Second
	}
	return &Dispatcher{
		retry:   retry,
		senders: make(map[schema.Channel]Sender),
	}
}

// Register installs a sender for its channel type, replacing any
// previous one.
func (d *Dispatcher) Register(s Sender) *Dispatcher {
	d.mu.Lock()
	d.senders[s.Channel()] = s
	d.mu.Unlock()
	return d
}

// Channels returns the channel types that have a sender.
func (d *Dispatcher) Channels() []schema.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]schema.Channel, 0, len(d.senders))
	for ch := range d.senders {
		out = append(out, ch)
	}
	return out
}

// Send delivers the alert to each requested channel. A channel without
// a registered sender fails with an error in its result; other channels
// are unaffected.
func (d *Dispatcher) Send(ctx context.Context, alert *alerting.SecurityAlert, channels []schema.Channel) alerting.DeliveryResult {
	var result alerting.DeliveryResult
	for _, ch := range channels {
		d.mu.RLock()
		sender, ok := d.senders[ch]
		d.mu.RUnlock()

		cr := alerting.ChannelResult{Channel: ch}
		if !ok {
			cr.Err = fmt.Errorf("no sender configured for channel %q", ch)
		} else {
			cr.Err = d.deliver(ctx, sender, alert)
		}
		result.Results = append(result.Results, cr)
	}
	return result
}

// deliver attempts one sender with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, sender Sender, alert *alerting.SecurityAlert) error {
	d.mu.Lock()
	d.attempted++
	d.mu.Unlock()

	backoff := d.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.retry.AttemptTimeout)
		err := sender.Send(attemptCtx, alert)
		cancel()

		if err == nil {
			d.mu.Lock()
			d.delivered++
			d.mu.Unlock()
			slog.Debug("alert delivered",
				"channel", sender.Channel(),
				"alert_id", alert.ID,
				"attempts", attempt,
			)
			return nil
		}
		lastErr = err

		slog.Warn("alert delivery failed",
			"channel", sender.Channel(),
			"alert_id", alert.ID,
			"attempt", attempt,
			"max_attempts", d.retry.MaxAttempts,
			"error", err,
		)

		if attempt < d.retry.MaxAttempts {
			select {
			case <-ctx.Done():
				d.mu.Lock()
				d.failed++
				d.mu.Unlock()
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * d.retry.BackoffFactor)
			if d.retry.MaxBackoff > 0 && backoff > d.retry.MaxBackoff {
				backoff = d.retry.MaxBackoff
			}
		}
	}

	d.mu.Lock()
	d.failed++
	d.mu.Unlock()
	return lastErr
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]any{
		"senders":   len(d.senders),
		"attempted": d.attempted,
		"delivered": d.delivered,
		"failed":    d.failed,
	}
}
