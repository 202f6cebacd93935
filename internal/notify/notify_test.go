package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"secmon/internal/alerting"
	"secmon/internal/schema"
)

func makeAlert() *alerting.SecurityAlert {
	return &alerting.SecurityAlert{
		ID:             uuid.New(),
		RuleID:         "sec-003",
		Severity:       schema.SeverityHigh,
		Title:          "Excessive Failed Logins",
		Description:    "failed_logins above limit",
		Metric:         "failed_logins",
		CurrentValue:   42,
		ThresholdValue: 10,
		Timestamp:      time.Now().UTC(),
		Status:         alerting.StatusPending,
	}
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

func TestWebhookSenderPostsAlertJSON(t *testing.T) {
	var received alerting.SecurityAlert
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, map[string]string{"Authorization": "Bearer tok"})
	if sender.Channel() != schema.ChannelWebhook {
		t.Errorf("channel = %s", sender.Channel())
	}

	alert := makeAlert()
	if err := sender.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if received.RuleID != alert.RuleID || received.CurrentValue != 42 {
		t.Errorf("received = %+v", received)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestWebhookSenderReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, nil)
	err := sender.Send(context.Background(), makeAlert())
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error should carry status: %v", err)
	}
}

func TestChatSenderFormatsAttachment(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewChatSender(srv.URL, "#secops", "secmon")
	if err := sender.Send(context.Background(), makeAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if payload["channel"] != "#secops" {
		t.Errorf("room = %v", payload["channel"])
	}
	attachments, ok := payload["attachments"].([]any)
	if !ok || len(attachments) != 1 {
		t.Fatalf("attachments = %v", payload["attachments"])
	}
	att := attachments[0].(map[string]any)
	if att["color"] != "#FFA500" {
		t.Errorf("high severity color = %v", att["color"])
	}
	if title, _ := att["title"].(string); !strings.Contains(title, "[HIGH]") {
		t.Errorf("title = %v", att["title"])
	}
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	sender := NewEmailSender(EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "secmon@example.com",
		To:   []string{"oncall@example.com"},
	})
	sender.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := sender.Send(context.Background(), makeAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %s", gotAddr)
	}
	if gotFrom != "secmon@example.com" || len(gotTo) != 1 {
		t.Errorf("envelope = %s -> %v", gotFrom, gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "Subject: [HIGH] Excessive Failed Logins") {
		t.Error("subject missing or wrong")
	}
	if !strings.Contains(body, "Metric: failed_logins") {
		t.Error("body missing metric")
	}
}

func TestSyslogSenderWritesPriorityLine(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	sender := NewSyslogSender(conn.LocalAddr().String(), "secmon")
	defer sender.Close()

	if err := sender.Send(context.Background(), makeAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := string(buf[:n])
	// local0.err for a high severity alert
	if !strings.HasPrefix(line, "<131>") {
		t.Errorf("priority wrong: %s", line)
	}
	if !strings.Contains(line, "rule=sec-003") || !strings.Contains(line, "metric=failed_logins") {
		t.Errorf("line missing fields: %s", line)
	}
}

func TestDashboardFeedBounded(t *testing.T) {
	feed := NewDashboardFeed(3)
	for i := 0; i < 5; i++ {
		a := makeAlert()
		a.CurrentValue = float64(i)
		if err := feed.Send(context.Background(), a); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	recent := feed.Recent()
	if len(recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(recent))
	}
	if recent[0].CurrentValue != 2 || recent[2].CurrentValue != 4 {
		t.Errorf("wrong window: %v..%v", recent[0].CurrentValue, recent[2].CurrentValue)
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

type flakySender struct {
	channel  schema.Channel
	failures int32
	calls    int32
}

func (f *flakySender) Channel() schema.Channel { return f.channel }

func (f *flakySender) Send(ctx context.Context, alert *alerting.SecurityAlert) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failures) {
		return errors.New("transient failure")
	}
	return nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
		AttemptTimeout: time.Second,
	}
}

func TestDispatcherUnconfiguredChannelFails(t *testing.T) {
	d := NewDispatcher(fastRetry())
	d.Register(&flakySender{channel: schema.ChannelWebhook})

	result := d.Send(context.Background(), makeAlert(),
		[]schema.Channel{schema.ChannelWebhook, schema.ChannelSMS})

	if got := result.Succeeded(); len(got) != 1 || got[0] != schema.ChannelWebhook {
		t.Errorf("succeeded = %v", got)
	}
	failed := result.Failed()
	if len(failed) != 1 || failed[0].Channel != schema.ChannelSMS {
		t.Fatalf("failed = %v", failed)
	}
	if !strings.Contains(failed[0].Err.Error(), "no sender configured") {
		t.Errorf("err = %v", failed[0].Err)
	}
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	sender := &flakySender{channel: schema.ChannelWebhook, failures: 2}
	d := NewDispatcher(fastRetry())
	d.Register(sender)

	result := d.Send(context.Background(), makeAlert(), []schema.Channel{schema.ChannelWebhook})
	if len(result.Failed()) != 0 {
		t.Fatalf("expected eventual success, got %v", result.Failed())
	}
	if got := atomic.LoadInt32(&sender.calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestDispatcherExhaustsRetries(t *testing.T) {
	sender := &flakySender{channel: schema.ChannelWebhook, failures: 99}
	d := NewDispatcher(fastRetry())
	d.Register(sender)

	result := d.Send(context.Background(), makeAlert(), []schema.Channel{schema.ChannelWebhook})
	if len(result.Failed()) != 1 {
		t.Fatalf("expected failure, got %v", result.Results)
	}
	if got := atomic.LoadInt32(&sender.calls); got != 3 {
		t.Errorf("calls = %d, want 3 (bounded)", got)
	}

	stats := d.Stats()
	if stats["failed"].(uint64) != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestDispatcherIndependentChannels(t *testing.T) {
	good := &flakySender{channel: schema.ChannelWebhook}
	bad := &flakySender{channel: schema.ChannelChat, failures: 99}
	d := NewDispatcher(fastRetry())
	d.Register(good).Register(bad)

	result := d.Send(context.Background(), makeAlert(),
		[]schema.Channel{schema.ChannelChat, schema.ChannelWebhook})

	if got := result.Succeeded(); len(got) != 1 || got[0] != schema.ChannelWebhook {
		t.Errorf("succeeded = %v", got)
	}
	if failed := result.Failed(); len(failed) != 1 || failed[0].Channel != schema.ChannelChat {
		t.Errorf("failed = %v", failed)
	}
}

func TestDispatcherChannelsList(t *testing.T) {
	d := NewDispatcher(DefaultRetryConfig())
	d.Register(&flakySender{channel: schema.ChannelWebhook})
	d.Register(&flakySender{channel: schema.ChannelSyslog})

	chans := d.Channels()
	if len(chans) != 2 {
		t.Fatalf("channels = %v", chans)
	}
	seen := map[schema.Channel]bool{}
	for _, c := range chans {
		seen[c] = true
	}
	if !seen[schema.ChannelWebhook] || !seen[schema.ChannelSyslog] {
		t.Errorf("channels = %v", chans)
	}
}
