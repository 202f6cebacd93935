// Package engine evaluates metric snapshots against the registered rule
// set and drives the alerting pipeline: rule match, cooldown gate, alert
// registration, dispatch, history append, anomaly check.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"secmon/internal/alerting"
	"secmon/internal/anomaly"
	"secmon/internal/history"
	"secmon/internal/rules"
	"secmon/internal/schema"
	"secmon/internal/session"
)

var (
	// ErrDuplicateRule is returned when registering a rule id twice.
	ErrDuplicateRule = errors.New("duplicate rule id")
)

// SampleArchiver receives appended metric samples for out-of-process
// retention. Failures never affect evaluation.
type SampleArchiver interface {
	ArchiveSample(ctx context.Context, metric string, value float64, ts time.Time) error
}

// ruleState pairs an immutable rule definition with its mutable firing
// state. Enabled is atomic so toggles are visible to evaluations already
// past the table lock; the gate has its own lock for the cooldown
// critical section.
type ruleState struct {
	rule       rules.Rule
	gate       *cooldownGate
	enabled    atomic.Bool
	suppressed uint64 // cooldown-blocked violations (accessed atomically)
}

// RuleSnapshot is a read-only view of one registered rule and its
// firing state.
type RuleSnapshot struct {
	Rule            rules.Rule `json:"rule"`
	Enabled         bool       `json:"enabled"`
	LastFired       *time.Time `json:"last_fired,omitempty"`
	SuppressedCount uint64     `json:"suppressed_count"`
}

// Config holds engine tuning.
type Config struct {
	HistoryCapacity int
	Anomaly         anomaly.Config
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: history.DefaultCapacity,
		Anomaly:         anomaly.DefaultConfig(),
	}
}

// Engine is one monitor instance. All state is instance-scoped; multiple
// engines can coexist in a process.
type Engine struct {
	mu        sync.RWMutex
	ruleOrder []*ruleState
	ruleIndex map[string]*ruleState

	store      *history.Store
	detector   *anomaly.Detector
	manager    *alerting.Manager
	sessions   *session.Tracker
	dispatcher alerting.Dispatcher
	samples    SampleArchiver

	// now is swappable for tests.
	now func() time.Time

	// Metrics (accessed atomically)
	evaluations uint64
	alertsFired uint64
}

// New creates an Engine wired to the given collaborators. The dispatcher
// and sample archiver may be nil (no notification, no sample retention).
func New(cfg Config, manager *alerting.Manager, sessions *session.Tracker, dispatcher alerting.Dispatcher) *Engine {
	store := history.NewStore(cfg.HistoryCapacity)
	return &Engine{
		ruleIndex:  make(map[string]*ruleState),
		store:      store,
		detector:   anomaly.NewDetector(store, cfg.Anomaly),
		manager:    manager,
		sessions:   sessions,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// WithSampleArchiver attaches a write-through metric sample archive.
func (e *Engine) WithSampleArchiver(a SampleArchiver) *Engine {
	e.samples = a
	return e
}

// History exposes the engine's metric history store.
func (e *Engine) History() *history.Store {
	return e.store
}

// AddRule validates and registers a rule. Malformed rules and duplicate
// ids are rejected here; evaluation never sees an invalid rule.
func (e *Engine) AddRule(rule *rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.ruleIndex[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}

	st := &ruleState{
		rule: *rule,
		gate: newCooldownGate(rule.Threshold.Cooldown),
	}
	st.enabled.Store(rule.Enabled)
	e.ruleOrder = append(e.ruleOrder, st)
	e.ruleIndex[rule.ID] = st

	slog.Info("rule registered",
		"rule_id", rule.ID,
		"metric", rule.Threshold.Metric,
		"operator", rule.Threshold.Operator,
		"threshold", rule.Threshold.Value,
		"severity", rule.Threshold.Severity,
	)
	return nil
}

// AddRules registers rules in order, stopping at the first failure.
func (e *Engine) AddRules(ruleSet []*rules.Rule) error {
	for _, r := range ruleSet {
		if err := e.AddRule(r); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRule unregisters a rule. Returns false if unknown.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.ruleIndex[id]
	if !ok {
		return false
	}
	delete(e.ruleIndex, id)
	for i, s := range e.ruleOrder {
		if s == st {
			e.ruleOrder = append(e.ruleOrder[:i], e.ruleOrder[i+1:]...)
			break
		}
	}
	slog.Info("rule removed", "rule_id", id)
	return true
}

// SetRuleEnabled toggles a rule. Returns false if unknown.
func (e *Engine) SetRuleEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.ruleIndex[id]
	if !ok {
		return false
	}
	st.enabled.Store(enabled)
	return true
}

// Rules returns snapshots of all registered rules in registration order.
func (e *Engine) Rules() []RuleSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]RuleSnapshot, 0, len(e.ruleOrder))
	for _, st := range e.ruleOrder {
		snap := RuleSnapshot{
			Rule:            st.rule,
			Enabled:         st.enabled.Load(),
			SuppressedCount: atomic.LoadUint64(&st.suppressed),
		}
		if last := st.gate.LastFired(); !last.IsZero() {
			snap.LastFired = &last
		}
		out = append(out, snap)
	}
	return out
}

// ExportRules serializes the registered rule definitions, in
// registration order, for persistence or audit diffing.
func (e *Engine) ExportRules() ([]byte, error) {
	e.mu.RLock()
	defs := make([]*rules.Rule, 0, len(e.ruleOrder))
	for _, st := range e.ruleOrder {
		cp := st.rule
		cp.Enabled = st.enabled.Load()
		defs = append(defs, &cp)
	}
	e.mu.RUnlock()
	return rules.ExportRules(defs)
}

// Evaluate checks every enabled rule against the snapshot and returns
// the alerts fired, in rule registration order. Rules whose metric is
// absent are skipped. Violations inside a rule's cooldown window are
// counted as suppressed and produce nothing. When sessionID is set, the
// session's counters are updated.
func (e *Engine) Evaluate(ctx context.Context, snapshot map[string]float64, sessionID string) []*alerting.SecurityAlert {
	atomic.AddUint64(&e.evaluations, 1)
	now := e.now()

	e.mu.RLock()
	states := make([]*ruleState, len(e.ruleOrder))
	copy(states, e.ruleOrder)
	e.mu.RUnlock()

	var fired []*alerting.SecurityAlert
	for _, st := range states {
		if !st.enabled.Load() {
			continue
		}
		observed, present := snapshot[st.rule.Threshold.Metric]
		if !present {
			continue
		}
		if !st.rule.Threshold.Operator.Compare(observed, st.rule.Threshold.Value) {
			continue
		}
		if !st.gate.TryFire(now) {
			// Cooldown-blocked violations leave no alert record,
			// only a counter tick.
			atomic.AddUint64(&st.suppressed, 1)
			slog.Debug("violation suppressed by cooldown",
				"rule_id", st.rule.ID,
				"metric", st.rule.Threshold.Metric,
				"value", observed,
			)
			continue
		}

		alert := e.buildAlert(st, observed, now)
		e.manager.Register(alert)
		atomic.AddUint64(&e.alertsFired, 1)
		e.dispatch(ctx, alert, st.rule.Channels)

		// Background delivery keeps mutating the stored alert; callers
		// get a detached copy taken under the manager's lock.
		if cp, ok := e.manager.Get(alert.ID); ok {
			fired = append(fired, cp)
		}
	}

	if e.sessions != nil && sessionID != "" {
		e.sessions.RecordCheck(sessionID, len(fired))
	}
	return fired
}

// Submit runs the full pipeline for one snapshot: rule evaluation,
// anomaly detection against history excluding the new values, then
// history append. This is the entry point intake surfaces use.
func (e *Engine) Submit(ctx context.Context, snap *schema.Snapshot) ([]*alerting.SecurityAlert, []anomaly.Detection) {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = e.now().UTC()
	}

	alerts := e.Evaluate(ctx, snap.Metrics, snap.SessionID)
	detections := e.detector.Detect(snap.Metrics, anomaly.DefaultConfidenceThreshold)

	for metric, value := range snap.Metrics {
		e.store.Append(metric, value, ts)
		if e.samples != nil {
			if err := e.samples.ArchiveSample(ctx, metric, value, ts); err != nil {
				slog.Warn("failed to archive sample", "metric", metric, "error", err)
			}
		}
	}

	for _, det := range detections {
		slog.Warn("anomaly detected",
			"metric", det.Metric,
			"value", det.CurrentValue,
			"mean", det.Mean,
			"z_score", det.ZScore,
			"confidence", det.Confidence,
		)
	}
	return alerts, detections
}

// buildAlert constructs the Pending alert for a rule violation.
func (e *Engine) buildAlert(st *ruleState, observed float64, now time.Time) *alerting.SecurityAlert {
	th := st.rule.Threshold
	return &alerting.SecurityAlert{
		ID:             uuid.New(),
		RuleID:         st.rule.ID,
		Severity:       th.Severity,
		Title:          st.rule.Name,
		Description:    fmt.Sprintf("%s: %s %v %s %v", st.rule.Name, th.Metric, observed, th.Operator, th.Value),
		Metric:         th.Metric,
		CurrentValue:   observed,
		ThresholdValue: th.Value,
		Timestamp:      now.UTC(),
		Status:         alerting.StatusPending,
		Tags:           st.rule.Tags,
	}
}

// dispatch hands the alert to the dispatcher. The alert is Sent once
// dispatch is attempted; delivery runs in the background and failures
// are logged, never propagated to lifecycle state.
func (e *Engine) dispatch(ctx context.Context, alert *alerting.SecurityAlert, channels []schema.Channel) {
	e.manager.MarkSent(alert.ID)

	if e.dispatcher == nil || len(channels) == 0 {
		return
	}

	go func() {
		result := e.dispatcher.Send(context.WithoutCancel(ctx), alert, channels)
		for _, failure := range result.Failed() {
			slog.Error("notification failed",
				"alert_id", alert.ID,
				"channel", failure.Channel,
				"error", failure.Err,
			)
		}
		e.manager.SetChannelsNotified(alert.ID, result.Succeeded())
	}()
}

// Stats returns engine-level counters plus alert and session summaries.
func (e *Engine) Stats() map[string]any {
	e.mu.RLock()
	ruleCount := len(e.ruleOrder)
	var suppressed uint64
	for _, st := range e.ruleOrder {
		suppressed += atomic.LoadUint64(&st.suppressed)
	}
	e.mu.RUnlock()

	stats := map[string]any{
		"rules":        ruleCount,
		"evaluations":  atomic.LoadUint64(&e.evaluations),
		"alerts_fired": atomic.LoadUint64(&e.alertsFired),
		"alerts":       e.manager.Stats(),
		"suppressed":   suppressed,
	}
	if e.sessions != nil {
		total, active := e.sessions.Count()
		stats["sessions"] = map[string]int{"total": total, "active": active}
	}
	return stats
}
