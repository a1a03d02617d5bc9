package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

// WebhookChannel posts alerts to a generic HTTP endpoint as a flat JSON
// document.
type WebhookChannel struct {
	url        string
	httpClient *http.Client
}

// NewWebhookChannel constructs the generic webhook channel.
func NewWebhookChannel(url string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookChannel{url: url, httpClient: client}
}

// Name identifies the channel in the dispatcher registry.
func (c *WebhookChannel) Name() string { return ChannelWebhook }

// Deliver posts the flat document to the endpoint.
func (c *WebhookChannel) Deliver(ctx context.Context, payload models.NotificationPayload) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("webhook URL not configured")
	}

	body := map[string]any{
		"alert_id":  payload.AlertID,
		"title":     payload.Title,
		"message":   payload.Message,
		"severity":  string(payload.Severity),
		"source":    payload.Source,
		"timestamp": payload.Timestamp.Unix(),
		"metadata":  payload.Metadata,
	}

	status, err := postJSON(ctx, c.httpClient, c.url, body)
	if err != nil {
		return "", fmt.Errorf("webhook post: %w", err)
	}
	return fmt.Sprintf("webhook accepted with status %d", status), nil
}
