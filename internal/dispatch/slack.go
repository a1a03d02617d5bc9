package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

// SlackChannel posts alerts to an incoming-webhook URL as an attachment
// document with per-field breakdown.
type SlackChannel struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackChannel constructs the chat channel. A nil client gets a
// timeout-bounded default.
func NewSlackChannel(webhookURL string, client *http.Client) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SlackChannel{webhookURL: webhookURL, httpClient: client}
}

// Name identifies the channel in the dispatcher registry.
func (c *SlackChannel) Name() string { return ChannelSlack }

// Deliver posts the attachment payload to the webhook.
func (c *SlackChannel) Deliver(ctx context.Context, payload models.NotificationPayload) (string, error) {
	if c.webhookURL == "" {
		return "", fmt.Errorf("webhook URL not configured")
	}

	status, err := postJSON(ctx, c.httpClient, c.webhookURL, c.render(payload))
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	return fmt.Sprintf("slack message accepted with status %d", status), nil
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	TS     int64        `json:"ts"`
}

func (c *SlackChannel) render(payload models.NotificationPayload) map[string]any {
	fields := []slackField{
		{Title: "Source", Value: payload.Source, Short: true},
		{Title: "Severity", Value: strings.ToUpper(string(payload.Severity)), Short: true},
		{Title: "Time", Value: payload.Timestamp.UTC().Format(time.RFC3339), Short: true},
		{Title: "Alert ID", Value: payload.AlertID, Short: true},
	}
	for key, value := range payload.Metadata {
		fields = append(fields, slackField{Title: key, Value: value, Short: true})
	}

	return map[string]any{
		"attachments": []slackAttachment{{
			Color:  severityColor(payload.Severity),
			Title:  fmt.Sprintf("%s %s", severityEmoji(payload.Severity), payload.Title),
			Text:   payload.Message,
			Fields: fields,
			TS:     payload.Timestamp.Unix(),
		}},
	}
}

// postJSON sends a JSON body and returns the response status code. Non-2xx
// responses are errors.
func postJSON(ctx context.Context, client *http.Client, endpoint string, body any) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}
