// Package api exposes the monitoring engine over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"secmon/internal/alerting"
	"secmon/internal/compliance"
	"secmon/internal/engine"
	"secmon/internal/rules"
	"secmon/internal/schema"
	"secmon/internal/session"
)

// Handler provides HTTP handlers for the monitoring API.
type Handler struct {
	engine     *engine.Engine
	manager    *alerting.Manager
	sessions   *session.Tracker
	compliance *compliance.Evaluator
	validator  *schema.Validator
	started    time.Time
}

// NewHandler creates the API handler.
func NewHandler(e *engine.Engine, m *alerting.Manager, s *session.Tracker, c *compliance.Evaluator) *Handler {
	return &Handler{
		engine:     e,
		manager:    m,
		sessions:   s,
		compliance: c,
		validator:  schema.NewValidator(),
		started:    time.Now(),
	}
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /v1/stats", h.HandleStats)

	mux.HandleFunc("POST /v1/snapshots", h.HandleSubmitSnapshot)

	mux.HandleFunc("GET /v1/alerts", h.HandleListAlerts)
	mux.HandleFunc("GET /v1/alerts/{id}", h.HandleGetAlert)
	mux.HandleFunc("POST /v1/alerts/{id}/acknowledge", h.HandleAcknowledge)
	mux.HandleFunc("POST /v1/alerts/{id}/resolve", h.HandleResolve)

	mux.HandleFunc("GET /v1/rules", h.HandleListRules)
	mux.HandleFunc("POST /v1/rules", h.HandleAddRule)
	mux.HandleFunc("DELETE /v1/rules/{id}", h.HandleRemoveRule)

	mux.HandleFunc("GET /v1/sessions", h.HandleListSessions)
	mux.HandleFunc("POST /v1/sessions", h.HandleStartSession)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", h.HandleStopSession)

	mux.HandleFunc("POST /v1/compliance/{framework}", h.HandleCompliance)

	mux.HandleFunc("GET /v1/metrics/{metric}/trends", h.HandleTrends)
}

// HandleHealth handles GET /health requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// HandleStats handles GET /v1/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

type snapshotRequest struct {
	Metrics   map[string]float64 `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
	SessionID string             `json:"session_id"`
	Source    string             `json:"source"`
}

// HandleSubmitSnapshot handles POST /v1/snapshots requests.
func (h *Handler) HandleSubmitSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	snap := &schema.Snapshot{
		Metrics:   req.Metrics,
		Timestamp: req.Timestamp,
		SessionID: req.SessionID,
		Source:    req.Source,
	}
	if err := h.validator.Validate(snap); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_snapshot", err.Error())
		return
	}

	alerts, detections := h.engine.Submit(r.Context(), snap)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"alerts":    alerts,
		"anomalies": detections,
	})
}

// HandleListAlerts handles GET /v1/alerts requests.
func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := alerting.Filter{
		Severity: schema.Severity(q.Get("severity")),
		Metric:   q.Get("metric"),
		RuleID:   q.Get("rule_id"),
		Status:   alerting.AlertStatus(q.Get("status")),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}
	if until := q.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = &t
		}
	}

	var alerts []*alerting.SecurityAlert
	if q.Get("active") == "true" {
		alerts = h.manager.Active(filter)
	} else {
		alerts = h.manager.History(filter)
	}

	limit := len(alerts)
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n >= 0 && n < limit {
			limit = n
		}
	}
	offset := 0
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n > 0 {
			offset = n
		}
	}
	if offset > len(alerts) {
		offset = len(alerts)
	}
	end := offset + limit
	if end > len(alerts) {
		end = len(alerts)
	}
	page := alerts[offset:end]

	h.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": page,
		"total":  len(alerts),
	})
}

// HandleGetAlert handles GET /v1/alerts/{id} requests.
func (h *Handler) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid alert ID format")
		return
	}

	alert, ok := h.manager.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "alert not found")
		return
	}

	h.writeJSON(w, http.StatusOK, alert)
}

type acknowledgeRequest struct {
	User string `json:"user"`
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

// HandleAcknowledge handles POST /v1/alerts/{id}/acknowledge requests.
func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid alert ID format")
		return
	}

	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "user field is required")
		return
	}

	if !h.manager.Acknowledge(id, req.User) {
		h.writeError(w, http.StatusConflict, "invalid_transition",
			"alert not found or not in sent state")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// HandleResolve handles POST /v1/alerts/{id}/resolve requests.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid alert ID format")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	if !h.manager.Resolve(id, req.Notes) {
		h.writeError(w, http.StatusConflict, "invalid_transition",
			"alert not found or not in sent/acknowledged state")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// HandleListRules handles GET /v1/rules requests.
func (h *Handler) HandleListRules(w http.ResponseWriter, _ *http.Request) {
	snapshots := h.engine.Rules()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"rules": snapshots,
		"total": len(snapshots),
	})
}

// HandleAddRule handles POST /v1/rules requests.
func (h *Handler) HandleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse rule")
		return
	}

	if err := h.engine.AddRule(&rule); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "rule_id": rule.ID})
}

// HandleRemoveRule handles DELETE /v1/rules/{id} requests.
func (h *Handler) HandleRemoveRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.engine.RemoveRule(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "rule not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// HandleListSessions handles GET /v1/sessions requests.
func (h *Handler) HandleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.sessions.List()
	total, active := h.sessions.Count()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
		"active":   active,
	})
}

type startSessionRequest struct {
	Target      string             `json:"target"`
	SessionID   string             `json:"session_id"`
	Sensitivity schema.Sensitivity `json:"sensitivity"`
	Rules       []string           `json:"rules"`
}

// HandleStartSession handles POST /v1/sessions requests.
func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	sess, err := h.sessions.Start(req.Target, session.StartOptions{
		ID:           req.SessionID,
		Sensitivity:  req.Sensitivity,
		EnabledRules: req.Rules,
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "session_error", err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, sess)
}

// HandleStopSession handles POST /v1/sessions/{id}/stop requests.
func (h *Handler) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.sessions.Stop(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "session not found or already stopped")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type complianceRequest struct {
	Controls map[string]bool `json:"controls"`
}

// HandleCompliance handles POST /v1/compliance/{framework} requests.
func (h *Handler) HandleCompliance(w http.ResponseWriter, r *http.Request) {
	framework := r.PathValue("framework")

	var req complianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	status := h.compliance.Evaluate(framework, req.Controls)
	h.writeJSON(w, http.StatusOK, status)
}

// HandleTrends handles GET /v1/metrics/{metric}/trends requests.
func (h *Handler) HandleTrends(w http.ResponseWriter, r *http.Request) {
	metric := r.PathValue("metric")
	if !schema.ValidMetricName(metric) {
		h.writeError(w, http.StatusBadRequest, "invalid_metric", "invalid metric name")
		return
	}

	window := time.Hour
	if wq := r.URL.Query().Get("window"); wq != "" {
		d, err := time.ParseDuration(wq)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_window", "window must be a positive duration")
			return
		}
		window = d
	}

	report := h.engine.History().Trends(metric, window)
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
