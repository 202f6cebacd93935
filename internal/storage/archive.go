package storage

import (
	"context"
	"fmt"
	"time"

	"secmon/internal/alerting"
)

// AlertArchive writes alert state transitions to the alert_log table.
// Each lifecycle change produces one row; the latest row per alert id
// is the current state.
type AlertArchive struct {
	client *ClickHouseClient
}

// NewAlertArchive creates an archive backed by the given client.
func NewAlertArchive(client *ClickHouseClient) *AlertArchive {
	return &AlertArchive{client: client}
}

// ArchiveAlert inserts one row recording the alert's current state.
func (a *AlertArchive) ArchiveAlert(ctx context.Context, alert *alerting.SecurityAlert) error {
	var ackAt, resolvedAt time.Time
	if alert.AcknowledgedAt != nil {
		ackAt = *alert.AcknowledgedAt
	}
	if alert.ResolvedAt != nil {
		resolvedAt = *alert.ResolvedAt
	}

	channels := make([]string, len(alert.ChannelsNotified))
	for i, ch := range alert.ChannelsNotified {
		channels[i] = string(ch)
	}

	err := a.client.Exec(ctx, `
		INSERT INTO alert_log (
			alert_id, rule_id, severity, title, description,
			metric, current_value, threshold_value, fired_at,
			status, channels_notified, tags,
			acknowledged_by, acknowledged_at, resolution_notes, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID,
		alert.RuleID,
		string(alert.Severity),
		alert.Title,
		alert.Description,
		alert.Metric,
		alert.CurrentValue,
		alert.ThresholdValue,
		alert.Timestamp,
		string(alert.Status),
		channels,
		alert.Tags,
		alert.AcknowledgedBy,
		ackAt,
		alert.ResolutionNotes,
		resolvedAt,
	)
	if err != nil {
		return &StorageError{Op: "Insert", Table: "alert_log", Err: err}
	}
	return nil
}

// ArchiveCount returns the number of archived rows for an alert id.
func (a *AlertArchive) ArchiveCount(ctx context.Context, alertID string) (uint64, error) {
	rows, err := a.client.Query(ctx,
		"SELECT count() FROM alert_log WHERE alert_id = ?", alertID)
	if err != nil {
		return 0, &StorageError{Op: "Query", Table: "alert_log", Err: err}
	}
	defer rows.Close()

	var count uint64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("scan count: %w", err)
		}
	}
	return count, nil
}
