package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"secmon/internal/schema"
)

// Archiver receives finalized alert states for out-of-process retention.
// Archive failures never affect the in-memory lifecycle.
type Archiver interface {
	ArchiveAlert(ctx context.Context, alert *SecurityAlert) error
}

// Manager is the sole owner of alert state transitions and queries.
// Valid transitions: Pending -> Sent -> Acknowledged -> Resolved, with
// Resolved also reachable directly from Sent. Cooldown-suppressed
// violations never reach the Manager; they leave no record.
type Manager struct {
	mu      sync.RWMutex
	alerts  map[uuid.UUID]*SecurityAlert
	order   []uuid.UUID
	archive Archiver
}

// NewManager creates an alert manager without archival.
func NewManager() *Manager {
	return &Manager{alerts: make(map[uuid.UUID]*SecurityAlert)}
}

// WithArchiver attaches a write-through archive.
func (m *Manager) WithArchiver(a Archiver) *Manager {
	m.archive = a
	return m
}

// Register stores a newly created alert. The alert enters in Pending
// status regardless of what the caller set.
func (m *Manager) Register(alert *SecurityAlert) {
	alert.Status = StatusPending

	m.mu.Lock()
	m.alerts[alert.ID] = alert
	m.order = append(m.order, alert.ID)
	m.mu.Unlock()

	slog.Info("alert registered",
		"alert_id", alert.ID,
		"rule_id", alert.RuleID,
		"severity", alert.Severity,
		"metric", alert.Metric,
	)
}

// MarkSent advances the alert to Sent once dispatch has been attempted.
// Dispatch failures do not revert this; the engine's responsibility ends
// at the dispatch call boundary.
func (m *Manager) MarkSent(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok || alert.Status != StatusPending {
		return false
	}
	alert.Status = StatusSent
	return true
}

// SetChannelsNotified records the channels that accepted delivery.
func (m *Manager) SetChannelsNotified(id uuid.UUID, channels []schema.Channel) {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if ok {
		alert.ChannelsNotified = channels
	}
	m.mu.Unlock()

	if ok {
		m.archiveAlert(id)
	}
}

// Acknowledge marks a Sent alert as acknowledged by the actor.
// Returns false if the alert is unknown or not in Sent status.
func (m *Manager) Acknowledge(id uuid.UUID, actor string) bool {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok || alert.Status != StatusSent {
		m.mu.Unlock()
		return false
	}

	now := time.Now().UTC()
	alert.Status = StatusAcknowledged
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &now
	m.mu.Unlock()

	slog.Info("alert acknowledged", "alert_id", id, "actor", actor)
	m.archiveAlert(id)
	return true
}

// Resolve closes a Sent or Acknowledged alert with optional notes.
// Returns false otherwise.
func (m *Manager) Resolve(id uuid.UUID, notes string) bool {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok || (alert.Status != StatusSent && alert.Status != StatusAcknowledged) {
		m.mu.Unlock()
		return false
	}

	now := time.Now().UTC()
	alert.Status = StatusResolved
	alert.ResolutionNotes = notes
	alert.ResolvedAt = &now
	m.mu.Unlock()

	slog.Info("alert resolved", "alert_id", id)
	m.archiveAlert(id)
	return true
}

// Get returns a copy of the alert with the given id.
func (m *Manager) Get(id uuid.UUID) (*SecurityAlert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, false
	}
	cp := *alert
	return &cp, true
}

// Filter selects alerts in queries. Zero-valued fields match everything.
type Filter struct {
	Severity schema.Severity
	Metric   string
	RuleID   string
	Status   AlertStatus
	Since    *time.Time
	Until    *time.Time
}

func (f Filter) matches(alert *SecurityAlert) bool {
	if f.Severity != "" && alert.Severity != f.Severity {
		return false
	}
	if f.Metric != "" && alert.Metric != f.Metric {
		return false
	}
	if f.RuleID != "" && alert.RuleID != f.RuleID {
		return false
	}
	if f.Status != "" && alert.Status != f.Status {
		return false
	}
	if f.Since != nil && alert.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && alert.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// Active returns all unresolved alerts matching the filter, in creation
// order.
func (m *Manager) Active(filter Filter) []*SecurityAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*SecurityAlert
	for _, id := range m.order {
		alert := m.alerts[id]
		if alert.Status == StatusResolved {
			continue
		}
		if filter.matches(alert) {
			cp := *alert
			out = append(out, &cp)
		}
	}
	return out
}

// History returns all alerts, any status, matching the filter, in
// creation order.
func (m *Manager) History(filter Filter) []*SecurityAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*SecurityAlert
	for _, id := range m.order {
		alert := m.alerts[id]
		if filter.matches(alert) {
			cp := *alert
			out = append(out, &cp)
		}
	}
	return out
}

// Stats returns alert counts grouped by status and severity.
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statusCounts := make(map[string]int)
	severityCounts := make(map[string]int)
	for _, alert := range m.alerts {
		statusCounts[string(alert.Status)]++
		severityCounts[string(alert.Severity)]++
	}

	return map[string]any{
		"total":       len(m.alerts),
		"by_status":   statusCounts,
		"by_severity": severityCounts,
	}
}

// archiveAlert writes the alert's current state through to the archive.
func (m *Manager) archiveAlert(id uuid.UUID) {
	if m.archive == nil {
		return
	}

	m.mu.RLock()
	alert, ok := m.alerts[id]
	var cp SecurityAlert
	if ok {
		cp = *alert
	}
	m.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.archive.ArchiveAlert(ctx, &cp); err != nil {
		slog.Warn("failed to archive alert", "alert_id", id, "error", err)
	}
}
