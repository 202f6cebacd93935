package rules

import (
	"time"

	"secmon/internal/schema"
)

// DefaultRules returns the built-in rule set registered on engine start.
// Each rule can be disabled or replaced through configuration.
func DefaultRules() []*Rule {
	return []*Rule{
		{
			ID:          "sec-001",
			Name:        "Critical Vulnerabilities Present",
			Description: "Any critical vulnerability requires immediate attention",
			Threshold: Threshold{
				Metric:      "critical_vuln_count",
				Operator:    OpGreaterEqual,
				Value:       1,
				Severity:    schema.SeverityCritical,
				Description: "critical vulnerability count reached",
				Cooldown:    time.Hour,
			},
			Channels: []schema.Channel{schema.ChannelEmail, schema.ChannelChat, schema.ChannelWebhook},
			Enabled:  true,
			Tags:     []string{"vulnerability", "critical"},
		},
		{
			ID:          "sec-002",
			Name:        "High Vulnerability Accumulation",
			Description: "Too many unresolved high-severity vulnerabilities",
			Threshold: Threshold{
				Metric:      "high_vuln_count",
				Operator:    OpGreaterEqual,
				Value:       5,
				Severity:    schema.SeverityHigh,
				Description: "high vulnerability backlog exceeded",
				Cooldown:    4 * time.Hour,
			},
			Channels: []schema.Channel{schema.ChannelEmail, schema.ChannelChat},
			Enabled:  true,
			Tags:     []string{"vulnerability"},
		},
		{
			ID:          "sec-003",
			Name:        "Authentication Failure Spike",
			Description: "Elevated failed login volume, possible brute force",
			Threshold: Threshold{
				Metric:      "failed_logins",
				Operator:    OpGreaterThan,
				Value:       10,
				Severity:    schema.SeverityHigh,
				Description: "failed login threshold exceeded",
				Cooldown:    30 * time.Minute,
			},
			Channels: []schema.Channel{schema.ChannelChat, schema.ChannelSyslog},
			Enabled:  true,
			Tags:     []string{"authentication", "brute-force"},
		},
		{
			ID:          "sec-004",
			Name:        "Excessive Open Ports",
			Description: "Attack surface grew beyond the accepted baseline",
			Threshold: Threshold{
				Metric:      "open_ports",
				Operator:    OpGreaterThan,
				Value:       50,
				Severity:    schema.SeverityMedium,
				Description: "open port count exceeded",
				Cooldown:    12 * time.Hour,
			},
			Channels: []schema.Channel{schema.ChannelEmail},
			Enabled:  true,
			Tags:     []string{"network", "exposure"},
		},
		{
			ID:          "sec-005",
			Name:        "Compliance Score Degraded",
			Description: "Overall compliance score fell below the floor",
			Threshold: Threshold{
				Metric:      "compliance_score",
				Operator:    OpLessThan,
				Value:       70,
				Severity:    schema.SeverityHigh,
				Description: "compliance score below floor",
				Cooldown:    24 * time.Hour,
			},
			Channels: []schema.Channel{schema.ChannelEmail, schema.ChannelDashboard},
			Enabled:  true,
			Tags:     []string{"compliance"},
		},
		{
			ID:          "sec-006",
			Name:        "Certificate Expiry Approaching",
			Description: "A TLS certificate expires soon",
			Threshold: Threshold{
				Metric:      "cert_expiry_days",
				Operator:    OpLessThan,
				Value:       30,
				Severity:    schema.SeverityMedium,
				Description: "certificate expiry window entered",
				Cooldown:    24 * time.Hour,
			},
			Channels: []schema.Channel{schema.ChannelEmail},
			Enabled:  true,
			Tags:     []string{"certificates"},
		},
	}
}
