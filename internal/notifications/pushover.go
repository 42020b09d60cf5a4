// internal/notifications/pushover.go - Pushover notification service
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"hostmonitor/internal/config"
)

const (
	PushoverAPIURL = "https://api.pushover.net/1/messages.json"
	UserAgent      = "hostmonitor/1.0"
)

// Message kinds, matching the only_on filter values.
const (
	KindOffline  = "offline"
	KindOnline   = "online"
	KindReminder = "reminder"
)

// Message is one alert ready to be delivered.
type Message struct {
	Kind      string
	HostID    string // empty for reminders covering several hosts
	Host      string
	Text      string
	Timestamp time.Time
}

// Sender delivers alert messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log. Used when Pushover is not configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	logrus.WithFields(logrus.Fields{
		"kind": msg.Kind,
		"host": msg.Host,
	}).Warn(msg.Text)
	return nil
}

// PushoverClient sends messages through the Pushover API.
type PushoverClient struct {
	config     *config.PushoverConfig
	httpClient *http.Client
	apiURL     string
	templates  map[string]*template.Template
	throttler  *Throttler
	now        func() time.Time
}

// PushoverMessage represents a message sent to Pushover API
type PushoverMessage struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Device    string `json:"device,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// PushoverResponse represents the API response
type PushoverResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// NewPushoverClient parses the title and message templates up front.
func NewPushoverClient(cfg *config.PushoverConfig, httpClient *http.Client) (*PushoverClient, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	client := &PushoverClient{
		config:     cfg,
		httpClient: httpClient,
		apiURL:     PushoverAPIURL,
		templates:  make(map[string]*template.Template),
		now:        time.Now,
	}

	if err := client.parseTemplates(); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	if cfg.Throttle.Enabled {
		client.throttler = NewThrottler(&cfg.Throttle)
	}

	logrus.WithFields(logrus.Fields{
		"priority":         cfg.Priority,
		"throttle_enabled": cfg.Throttle.Enabled,
		"only_on":          cfg.OnlyOn,
	}).Info("Pushover notifications enabled")

	return client, nil
}

// Send delivers msg unless it is filtered out, inside quiet hours or throttled.
// Suppressed messages are not errors.
func (pc *PushoverClient) Send(ctx context.Context, msg Message) error {
	fields := logrus.Fields{"kind": msg.Kind, "host": msg.Host}

	if !pc.config.Notifies(msg.Kind) {
		logrus.WithFields(fields).Debug("Skipping notification based on kind filter")
		return nil
	}
	if pc.config.QuietHours.IsQuietTime(pc.now()) {
		logrus.WithFields(fields).Debug("Skipping notification during quiet hours")
		return nil
	}

	throttleKey := msg.HostID
	if throttleKey == "" {
		throttleKey = msg.Kind
	}
	if pc.throttler != nil && pc.throttler.IsThrottled(throttleKey) {
		logrus.WithFields(fields).Debug("Notification throttled")
		return nil
	}

	message, err := pc.buildMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	if err := pc.sendToPushover(ctx, message); err != nil {
		return err
	}

	if pc.throttler != nil {
		pc.throttler.RecordNotification(throttleKey)
	}
	return nil
}

func (pc *PushoverClient) buildMessage(msg Message) (*PushoverMessage, error) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = pc.now()
	}

	data := map[string]interface{}{
		"Host":      msg.Host,
		"Kind":      msg.Kind,
		"Message":   msg.Text,
		"Timestamp": ts.Format("2006-01-02 15:04:05"),
	}

	title, err := pc.render("title", data)
	if err != nil {
		return nil, fmt.Errorf("failed to render title: %w", err)
	}
	text, err := pc.render("message", data)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	return &PushoverMessage{
		Token:     pc.config.APIToken,
		User:      pc.config.UserKey,
		Title:     title,
		Message:   text,
		Priority:  pc.config.Priority,
		Sound:     pc.config.Sound,
		Device:    pc.config.Device,
		Timestamp: ts.Unix(),
	}, nil
}

func (pc *PushoverClient) render(name string, data map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := pc.templates[name].Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (pc *PushoverClient) sendToPushover(ctx context.Context, message *PushoverMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var pushoverResp PushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if pushoverResp.Status != 1 {
		return fmt.Errorf("pushover API error: %v", pushoverResp.Errors)
	}

	logrus.WithFields(logrus.Fields{
		"title":    message.Title,
		"priority": message.Priority,
	}).Info("Pushover notification sent")
	return nil
}

func (pc *PushoverClient) parseTemplates() error {
	title, err := template.New("title").Parse(pc.config.Title)
	if err != nil {
		return fmt.Errorf("failed to parse title template: %w", err)
	}
	pc.templates["title"] = title

	message, err := template.New("message").Parse(pc.config.Template)
	if err != nil {
		return fmt.Errorf("failed to parse message template: %w", err)
	}
	pc.templates["message"] = message
	return nil
}

// Throttler caps notifications per key and in total over a sliding window.
type Throttler struct {
	config      *config.ThrottleConfig
	hostCounts  map[string][]time.Time
	totalCounts []time.Time
	now         func() time.Time
	mu          sync.Mutex
}

func NewThrottler(cfg *config.ThrottleConfig) *Throttler {
	return &Throttler{
		config:     cfg,
		hostCounts: make(map[string][]time.Time),
		now:        time.Now,
	}
}

// IsThrottled checks if another notification for key would exceed a limit.
// A limit of zero disables that limit.
func (t *Throttler) IsThrottled(key string) bool {
	if !t.config.Enabled {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	windowStart := t.now().Add(-t.config.Window)

	if t.config.MaxPerHost > 0 && countAfter(t.hostCounts[key], windowStart) >= t.config.MaxPerHost {
		return true
	}
	return t.config.MaxTotal > 0 && countAfter(t.totalCounts, windowStart) >= t.config.MaxTotal
}

func (t *Throttler) RecordNotification(key string) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.hostCounts[key] = append(t.hostCounts[key], now)
	t.totalCounts = append(t.totalCounts, now)
	t.cleanup(now)
}

func (t *Throttler) cleanup(now time.Time) {
	windowStart := now.Add(-t.config.Window)

	for key, times := range t.hostCounts {
		valid := keepAfter(times, windowStart)
		if len(valid) == 0 {
			delete(t.hostCounts, key)
		} else {
			t.hostCounts[key] = valid
		}
	}
	t.totalCounts = keepAfter(t.totalCounts, windowStart)
}

func countAfter(times []time.Time, start time.Time) int {
	n := 0
	for _, ts := range times {
		if ts.After(start) {
			n++
		}
	}
	return n
}

func keepAfter(times []time.Time, start time.Time) []time.Time {
	valid := make([]time.Time, 0, len(times))
	for _, ts := range times {
		if ts.After(start) {
			valid = append(valid, ts)
		}
	}
	return valid
}
