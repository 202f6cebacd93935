// Package session groups sequences of checks under named monitoring
// targets. Sessions are audit records: they are closed, never deleted.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"secmon/internal/schema"
)

var (
	// ErrSessionExists is returned when starting a session with an id
	// that is already registered.
	ErrSessionExists = errors.New("session id already exists")
	// ErrEmptyTarget is returned when starting a session without a target.
	ErrEmptyTarget = errors.New("session target is required")
)

// Session is one monitoring run against a target.
type Session struct {
	ID              string             `json:"session_id"`
	Target          string             `json:"target"`
	Sensitivity     schema.Sensitivity `json:"sensitivity"`
	EnabledRules    []string           `json:"enabled_rules,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
	AlertsGenerated int                `json:"alerts_generated"`
	LastCheck       *time.Time         `json:"last_check,omitempty"`
}

// Active reports whether the session is still open.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Store persists sessions outside process memory for audit retention.
// Failures are logged and never block tracking.
type Store interface {
	Save(ctx context.Context, session *Session) error
	Close() error
}

// Tracker owns session registration and mutation. The in-memory table
// is authoritative; the optional Store is written through for audit.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	store    Store
}

// NewTracker creates a Tracker without persistence.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*Session)}
}

// WithStore attaches a write-through audit store.
func (t *Tracker) WithStore(store Store) *Tracker {
	t.store = store
	return t
}

// StartOptions tune a new session.
type StartOptions struct {
	ID           string
	Sensitivity  schema.Sensitivity
	EnabledRules []string
}

// Start creates and registers a session for the target. An empty id is
// auto-generated; a colliding id is rejected.
func (t *Tracker) Start(target string, opts StartOptions) (*Session, error) {
	if target == "" {
		return nil, ErrEmptyTarget
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	sensitivity := opts.Sensitivity
	if sensitivity == "" {
		sensitivity = schema.SensitivityMedium
	}

	sess := &Session{
		ID:           id,
		Target:       target,
		Sensitivity:  sensitivity,
		EnabledRules: opts.EnabledRules,
		StartedAt:    time.Now().UTC(),
	}

	t.mu.Lock()
	if _, exists := t.sessions[id]; exists {
		t.mu.Unlock()
		return nil, ErrSessionExists
	}
	t.sessions[id] = sess
	t.order = append(t.order, id)
	t.mu.Unlock()

	slog.Info("monitoring session started", "session_id", id, "target", target, "sensitivity", sensitivity)
	t.persist(sess)
	return sess, nil
}

// Stop closes the session. Returns false if the session is unknown or
// already stopped.
func (t *Tracker) Stop(id string) bool {
	t.mu.Lock()
	sess, ok := t.sessions[id]
	if !ok || sess.EndedAt != nil {
		t.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	sess.EndedAt = &now
	snapshot := *sess
	t.mu.Unlock()

	slog.Info("monitoring session stopped",
		"session_id", id,
		"target", snapshot.Target,
		"alerts_generated", snapshot.AlertsGenerated,
		"duration", now.Sub(snapshot.StartedAt),
	)
	t.persist(&snapshot)
	return true
}

// RecordCheck updates the session's alert counter and last-check
// timestamp after an evaluation. Unknown ids are ignored.
func (t *Tracker) RecordCheck(id string, alerts int) {
	if id == "" {
		return
	}

	t.mu.Lock()
	sess, ok := t.sessions[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	sess.AlertsGenerated += alerts
	sess.LastCheck = &now
	snapshot := *sess
	t.mu.Unlock()

	t.persist(&snapshot)
}

// Get returns the session with the given id.
func (t *Tracker) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

// List returns all sessions in start order, newest last.
func (t *Tracker) List() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Session, 0, len(t.order))
	for _, id := range t.order {
		cp := *t.sessions[id]
		out = append(out, &cp)
	}
	return out
}

// ActiveTargets returns the targets with at least one open session,
// sorted for stable output.
func (t *Tracker) ActiveTargets() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	for _, sess := range t.sessions {
		if sess.EndedAt == nil {
			seen[sess.Target] = true
		}
	}
	out := make([]string, 0, len(seen))
	for target := range seen {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Count returns total and active session counts.
func (t *Tracker) Count() (total, active int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total = len(t.sessions)
	for _, sess := range t.sessions {
		if sess.EndedAt == nil {
			active++
		}
	}
	return total, active
}

func (t *Tracker) persist(sess *Session) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Save(ctx, sess); err != nil {
		slog.Warn("failed to persist session", "session_id", sess.ID, "error", err)
	}
}
