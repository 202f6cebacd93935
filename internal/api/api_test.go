package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"secmon/internal/alerting"
	"secmon/internal/compliance"
	"secmon/internal/engine"
	"secmon/internal/rules"
	"secmon/internal/schema"
	"secmon/internal/session"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type testAPI struct {
	mux     *http.ServeMux
	engine  *engine.Engine
	manager *alerting.Manager
	tracker *session.Tracker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	manager := alerting.NewManager()
	tracker := session.NewTracker()
	e := engine.New(engine.DefaultConfig(), manager, tracker, nil)

	h := NewHandler(e, manager, tracker, compliance.NewEvaluator(compliance.DefaultConfig()))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &testAPI{mux: mux, engine: e, manager: manager, tracker: tracker}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func thresholdRule(id string) *rules.Rule {
	return &rules.Rule{
		ID:   id,
		Name: "Failed Logins",
		Threshold: rules.Threshold{
			Metric:   "failed_logins",
			Operator: rules.OpGreaterThan,
			Value:    10,
			Severity: schema.SeverityHigh,
		},
		Channels: []schema.Channel{schema.ChannelWebhook},
		Enabled:  true,
	}
}

// ---------------------------------------------------------------------------
// Health and stats
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStats(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddRule(thresholdRule("r-1"))

	rec := a.do(t, "GET", "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["rules"].(float64) != 1 {
		t.Errorf("stats = %v", body)
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func TestSubmitSnapshotFiresAlert(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddRule(thresholdRule("r-1"))

	rec := a.do(t, "POST", "/v1/snapshots", map[string]any{
		"metrics": map[string]float64{"failed_logins": 42},
		"source":  "prod-01",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Alerts []alerting.SecurityAlert `json:"alerts"`
	}
	decode(t, rec, &body)
	if len(body.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(body.Alerts))
	}
	if body.Alerts[0].RuleID != "r-1" || body.Alerts[0].CurrentValue != 42 {
		t.Errorf("alert = %+v", body.Alerts[0])
	}
}

func TestSubmitSnapshotRejectsInvalidMetricName(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "POST", "/v1/snapshots", map[string]any{
		"metrics": map[string]float64{"Bad-Metric": 1},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

func fireAlert(t *testing.T, a *testAPI) alerting.SecurityAlert {
	t.Helper()
	rec := a.do(t, "POST", "/v1/snapshots", map[string]any{
		"metrics": map[string]float64{"failed_logins": 99},
	})
	var body struct {
		Alerts []alerting.SecurityAlert `json:"alerts"`
	}
	decode(t, rec, &body)
	if len(body.Alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(body.Alerts))
	}
	return body.Alerts[0]
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddRule(thresholdRule("r-1"))
	alert := fireAlert(t, a)

	// Get by id.
	rec := a.do(t, "GET", "/v1/alerts/"+alert.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got alerting.SecurityAlert
	decode(t, rec, &got)
	if got.Status != alerting.StatusSent {
		t.Errorf("status = %s, want sent", got.Status)
	}

	// Acknowledge requires a user.
	rec = a.do(t, "POST", "/v1/alerts/"+alert.ID.String()+"/acknowledge", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ack without user = %d, want 400", rec.Code)
	}

	rec = a.do(t, "POST", "/v1/alerts/"+alert.ID.String()+"/acknowledge",
		map[string]string{"user": "analyst@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ack status = %d body = %s", rec.Code, rec.Body.String())
	}

	// Resolve.
	rec = a.do(t, "POST", "/v1/alerts/"+alert.ID.String()+"/resolve",
		map[string]string{"notes": "patched"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}

	// A second resolve conflicts.
	rec = a.do(t, "POST", "/v1/alerts/"+alert.ID.String()+"/resolve",
		map[string]string{"notes": "again"})
	if rec.Code != http.StatusConflict {
		t.Errorf("double resolve = %d, want 409", rec.Code)
	}

	fresh, _ := a.manager.Get(alert.ID)
	if fresh.Status != alerting.StatusResolved || fresh.ResolutionNotes != "patched" {
		t.Errorf("final alert = %+v", fresh)
	}
}

func TestListAlertsFilters(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddRule(thresholdRule("r-1"))
	fireAlert(t, a)

	rec := a.do(t, "GET", "/v1/alerts?severity=high", nil)
	var body struct {
		Alerts []alerting.SecurityAlert `json:"alerts"`
		Total  int                      `json:"total"`
	}
	decode(t, rec, &body)
	if body.Total != 1 {
		t.Errorf("high severity total = %d, want 1", body.Total)
	}

	rec = a.do(t, "GET", "/v1/alerts?severity=critical", nil)
	decode(t, rec, &body)
	if body.Total != 0 {
		t.Errorf("critical severity total = %d, want 0", body.Total)
	}
}

func TestGetAlertBadID(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "GET", "/v1/alerts/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

func TestRuleManagementOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "POST", "/v1/rules", thresholdRule("api-rule"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}

	// Invalid operator is rejected.
	bad := thresholdRule("bad-rule")
	bad.Threshold.Operator = "between"
	rec = a.do(t, "POST", "/v1/rules", bad)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid rule status = %d, want 400", rec.Code)
	}

	rec = a.do(t, "GET", "/v1/rules", nil)
	var body struct {
		Total int `json:"total"`
	}
	decode(t, rec, &body)
	if body.Total != 1 {
		t.Errorf("total = %d, want 1", body.Total)
	}

	rec = a.do(t, "DELETE", "/v1/rules/api-rule", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = a.do(t, "DELETE", "/v1/rules/api-rule", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessionsOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "POST", "/v1/sessions", map[string]any{"target": "prod-01"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d body = %s", rec.Code, rec.Body.String())
	}
	var sess session.Session
	decode(t, rec, &sess)
	if sess.Target != "prod-01" || sess.ID == "" {
		t.Errorf("session = %+v", sess)
	}

	// Empty target rejected.
	rec = a.do(t, "POST", "/v1/sessions", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty target status = %d, want 400", rec.Code)
	}

	rec = a.do(t, "GET", "/v1/sessions", nil)
	var list struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	}
	decode(t, rec, &list)
	if list.Total != 1 || list.Active != 1 {
		t.Errorf("list = %+v", list)
	}

	rec = a.do(t, "POST", "/v1/sessions/"+sess.ID+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	rec = a.do(t, "POST", "/v1/sessions/"+sess.ID+"/stop", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double stop = %d, want 404", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Compliance and trends
// ---------------------------------------------------------------------------

func TestComplianceOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "POST", "/v1/compliance/PCI-DSS", map[string]any{
		"controls": map[string]bool{"A": true, "B": true, "C": false, "D": true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status compliance.Status
	decode(t, rec, &status)
	if status.Score != 75.0 || status.Passing {
		t.Errorf("status = %+v", status)
	}
	if len(status.FailedControls) != 1 || status.FailedControls[0] != "C" {
		t.Errorf("failed controls = %v", status.FailedControls)
	}
}

func TestTrendsOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	now := time.Now()
	for i := 0; i < 10; i++ {
		a.engine.History().Append("failed_logins", float64(i), now.Add(time.Duration(i-10)*time.Minute))
	}

	rec := a.do(t, "GET", "/v1/metrics/failed_logins/trends?window=1h", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var report map[string]any
	decode(t, rec, &report)
	if report["direction"] != "increasing" {
		t.Errorf("report = %v", report)
	}

	rec = a.do(t, "GET", "/v1/metrics/Bad-Name/trends", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid metric status = %d, want 400", rec.Code)
	}

	rec = a.do(t, "GET", "/v1/metrics/failed_logins/trends?window=banana", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid window status = %d, want 400", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestAuthMiddleware(t *testing.T) {
	a := newTestAPI(t)
	wrapped := WithMiddleware(a.mux, AuthConfig{
		Enabled:      true,
		APIKeyHeader: "X-API-Key",
		APIKeys:      []string{"sekrit"},
	})

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/v1/stats", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/v1/stats", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", rec.Code)
	}

	// Health is exempt.
	req = httptest.NewRequest("GET", "/health", nil)
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	wrapped := WithMiddleware(panicking, DefaultAuthConfig())

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
