// Package alert delivers operator notifications.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kjstillabower/room-climate-charts/internal/models"
	"github.com/kjstillabower/room-climate-charts/internal/observability"
)

// Notifier sends a free-text alert.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// WebhookNotifier posts Slack-compatible incoming-webhook payloads.
type WebhookNotifier struct {
	url       string
	username  string
	iconEmoji string
	client    *http.Client
}

// NewWebhookNotifier returns a notifier for url.
func NewWebhookNotifier(url, username, iconEmoji string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:       url,
		username:  username,
		iconEmoji: iconEmoji,
		client:    &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// Notify posts message. Any 2xx response is success.
func (n *WebhookNotifier) Notify(ctx context.Context, message string) error {
	start := time.Now()
	body, err := json.Marshal(webhookPayload{Text: message, Username: n.username, IconEmoji: n.iconEmoji})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues("alert", "error").Inc()
		observability.UpstreamDuration.WithLabelValues("alert", "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("%w: alert: http request failed: %w", models.ErrUpstream, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	status := "success"
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status = "error"
	}
	observability.UpstreamCallsTotal.WithLabelValues("alert", status).Inc()
	observability.UpstreamDuration.WithLabelValues("alert", status).Observe(time.Since(start).Seconds())

	if status != "success" {
		return fmt.Errorf("%w: alert: HTTP %d", models.ErrUpstream, resp.StatusCode)
	}
	return nil
}

// LogNotifier is used when no webhook is configured. It drops alerts after
// handing them to log.
type LogNotifier struct {
	log func(message string)
}

// NewLogNotifier returns a Notifier that calls log for every alert.
func NewLogNotifier(log func(message string)) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, message string) error {
	if n.log != nil {
		n.log(message)
	}
	return nil
}
