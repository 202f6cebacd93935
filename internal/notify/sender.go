package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"secmon/internal/alerting"
	"secmon/internal/schema"
)

// Sender delivers one alert over one channel type.
type Sender interface {
	Channel() schema.Channel
	Send(ctx context.Context, alert *alerting.SecurityAlert) error
}

// WebhookSender posts the alert as JSON to a configured URL.
type WebhookSender struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(url string, headers map[string]string) *WebhookSender {
	return &WebhookSender{
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookSender) Channel() schema.Channel {
	return schema.ChannelWebhook
}

func (w *WebhookSender) Send(ctx context.Context, alert *alerting.SecurityAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// ChatSender posts alerts to a Slack-compatible incoming webhook.
type ChatSender struct {
	webhookURL string
	room       string
	username   string
	client     *http.Client
}

// NewChatSender creates a chat sender.
func NewChatSender(webhookURL, room, username string) *ChatSender {
	return &ChatSender{
		webhookURL: webhookURL,
		room:       room,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *ChatSender) Channel() schema.Channel {
	return schema.ChannelChat
}

func (c *ChatSender) Send(ctx context.Context, alert *alerting.SecurityAlert) error {
	payload := map[string]interface{}{
		"channel":  c.room,
		"username": c.username,
		"attachments": []map[string]interface{}{
			{
				"color": severityColor(alert.Severity),
				"title": fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
				"text":  alert.Description,
				"fields": []map[string]interface{}{
					{"title": "Metric", "value": alert.Metric, "short": true},
					{"title": "Value", "value": fmt.Sprintf("%g", alert.CurrentValue), "short": true},
					{"title": "Threshold", "value": fmt.Sprintf("%g", alert.ThresholdValue), "short": true},
					{"title": "Severity", "value": string(alert.Severity), "short": true},
				},
				"footer": fmt.Sprintf("Alert ID: %s | Rule: %s", alert.ID.String()[:8], alert.RuleID),
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func severityColor(sev schema.Severity) string {
	switch sev {
	case schema.SeverityCritical:
		return "#FF0000"
	case schema.SeverityHigh:
		return "#FFA500"
	case schema.SeverityMedium:
		return "#FFFF00"
	case schema.SeverityLow:
		return "#00FF00"
	default:
		return "#808080"
	}
}

// EmailSender delivers alerts over SMTP.
type EmailSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(cfg EmailConfig) *EmailSender {
	return &EmailSender{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       cfg.To,
		sendMail: smtp.SendMail,
	}
}

func (e *EmailSender) Channel() schema.Channel {
	return schema.ChannelEmail
}

func (e *EmailSender) Send(ctx context.Context, alert *alerting.SecurityAlert) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	body := fmt.Sprintf(
		"Rule: %s\r\nMetric: %s\r\nObserved: %g\r\nThreshold: %g\r\nTime: %s\r\n\r\n%s\r\n",
		alert.RuleID, alert.Metric, alert.CurrentValue,
		alert.ThresholdValue,
		alert.Timestamp.Format(time.RFC3339), alert.Description,
	)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.from, strings.Join(e.to, ", "), subject, body)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	if err := e.sendMail(addr, auth, e.from, e.to, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// SyslogSender writes one RFC 3164 line per alert to a UDP collector.
type SyslogSender struct {
	address string
	tag     string

	mu   sync.Mutex
	conn net.Conn
}

// NewSyslogSender creates a syslog sender targeting a UDP address.
func NewSyslogSender(address, tag string) *SyslogSender {
	if tag == "" {
		tag = "secmon"
	}
	return &SyslogSender{address: address, tag: tag}
}

func (s *SyslogSender) Channel() schema.Channel {
	return schema.ChannelSyslog
}

func (s *SyslogSender) Send(ctx context.Context, alert *alerting.SecurityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := net.Dial("udp", s.address)
		if err != nil {
			return fmt.Errorf("syslog dial failed: %w", err)
		}
		s.conn = conn
	}

	// facility local0 (16) * 8 + severity
	pri := 16*8 + syslogSeverity(alert.Severity)
	line := fmt.Sprintf("<%d>%s %s: rule=%s metric=%s value=%g threshold=%g severity=%s",
		pri,
		alert.Timestamp.Format(time.Stamp),
		s.tag,
		alert.RuleID, alert.Metric, alert.CurrentValue,
		alert.ThresholdValue,
		alert.Severity,
	)

	if _, err := s.conn.Write([]byte(line)); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("syslog write failed: %w", err)
	}
	return nil
}

// Close releases the UDP socket.
func (s *SyslogSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func syslogSeverity(sev schema.Severity) int {
	switch sev {
	case schema.SeverityCritical:
		return 2 // crit
	case schema.SeverityHigh:
		return 3 // err
	case schema.SeverityMedium:
		return 4 // warning
	case schema.SeverityLow:
		return 5 // notice
	default:
		return 6 // info
	}
}

// DashboardFeed keeps the most recent alerts in memory for UI polling.
// It never fails delivery.
type DashboardFeed struct {
	mu       sync.RWMutex
	capacity int
	alerts   []alerting.SecurityAlert
}

// NewDashboardFeed creates a feed holding up to capacity recent alerts.
func NewDashboardFeed(capacity int) *DashboardFeed {
	if capacity <= 0 {
		capacity = 100
	}
	return &DashboardFeed{capacity: capacity}
}

func (f *DashboardFeed) Channel() schema.Channel {
	return schema.ChannelDashboard
}

func (f *DashboardFeed) Send(ctx context.Context, alert *alerting.SecurityAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, *alert)
	if len(f.alerts) > f.capacity {
		f.alerts = f.alerts[len(f.alerts)-f.capacity:]
	}
	return nil
}

// Recent returns the buffered alerts, newest last.
func (f *DashboardFeed) Recent() []alerting.SecurityAlert {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]alerting.SecurityAlert, len(f.alerts))
	copy(out, f.alerts)
	return out
}
