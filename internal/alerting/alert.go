// Package alerting provides alert identity, lifecycle state, and the
// dispatcher boundary. The engine decides that and where to notify;
// transport lives behind the Dispatcher interface.
package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"secmon/internal/schema"
)

// AlertStatus represents the lifecycle state of an alert.
type AlertStatus string

const (
	StatusPending      AlertStatus = "pending"
	StatusSent         AlertStatus = "sent"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
	StatusSuppressed   AlertStatus = "suppressed"
)

// IsValid checks if the status is a valid value.
func (s AlertStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusAcknowledged, StatusResolved, StatusSuppressed:
		return true
	}
	return false
}

// SecurityAlert is one rule violation and its handling history.
// Alerts are retained indefinitely; resolution closes them but never
// removes them.
type SecurityAlert struct {
	ID               uuid.UUID        `json:"alert_id"`
	RuleID           string           `json:"rule_id"`
	Severity         schema.Severity  `json:"severity"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Metric           string           `json:"metric"`
	CurrentValue     float64          `json:"current_value"`
	ThresholdValue   float64          `json:"threshold_value"`
	Timestamp        time.Time        `json:"timestamp"`
	Status           AlertStatus      `json:"status"`
	ChannelsNotified []schema.Channel `json:"channels_notified"`
	Tags             []string         `json:"tags,omitempty"`
	AcknowledgedBy   string           `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time       `json:"acknowledged_at,omitempty"`
	ResolutionNotes  string           `json:"resolution_notes,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// ChannelResult is the delivery outcome for one channel.
type ChannelResult struct {
	Channel schema.Channel `json:"channel"`
	Err     error          `json:"-"`
}

// OK reports whether delivery to the channel succeeded.
func (c ChannelResult) OK() bool {
	return c.Err == nil
}

// DeliveryResult collects per-channel delivery outcomes.
type DeliveryResult struct {
	Results []ChannelResult
}

// Succeeded returns the channels that accepted the alert.
func (d DeliveryResult) Succeeded() []schema.Channel {
	var out []schema.Channel
	for _, r := range d.Results {
		if r.OK() {
			out = append(out, r.Channel)
		}
	}
	return out
}

// Failed returns the results for channels that rejected the alert.
func (d DeliveryResult) Failed() []ChannelResult {
	var out []ChannelResult
	for _, r := range d.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Dispatcher delivers an alert to its assigned channels. Implementations
// are external to the engine; delivery failures are reported in the
// result and never affect alert lifecycle state.
type Dispatcher interface {
	Send(ctx context.Context, alert *SecurityAlert, channels []schema.Channel) DeliveryResult
}
