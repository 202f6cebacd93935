// Package schema defines the canonical metric snapshot format and the
// shared severity/status/channel vocabularies used across the engine.
package schema

import (
	"time"
)

// Snapshot is the canonical input to the monitoring engine: a set of
// metric readings taken at one point in time.
type Snapshot struct {
	// Required fields
	Metrics   map[string]float64 `json:"metrics" validate:"required,min=1"`
	Timestamp time.Time          `json:"timestamp"`

	// Optional fields
	SessionID string `json:"session_id,omitempty" validate:"max=128"`
	Source    string `json:"source,omitempty" validate:"max=256"`
}

// Severity is the ordinal alert priority.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns the numeric ordering of the severity (info=0 .. critical=4).
// Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}

// Channel identifies a notification destination. Channels are opaque
// routing tokens to the engine; transport lives behind the dispatcher.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelChat      Channel = "chat"
	ChannelWebhook   Channel = "webhook"
	ChannelDashboard Channel = "dashboard"
	ChannelSyslog    Channel = "syslog"
)

// IsValid checks if the channel is a valid value.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat, ChannelWebhook, ChannelDashboard, ChannelSyslog:
		return true
	}
	return false
}

// Sensitivity controls how aggressively a monitoring session evaluates.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// IsValid checks if the sensitivity is a valid value.
func (s Sensitivity) IsValid() bool {
	switch s {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return true
	}
	return false
}

// SchemaVersionCurrent is the current version of the snapshot schema.
const SchemaVersionCurrent = "1.0.0"
