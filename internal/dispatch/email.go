package dispatch

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

// EmailConfig holds SMTP connection and addressing settings.
type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// sendFunc abstracts smtp.SendMail so tests can intercept the wire call.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel delivers alerts as HTML mail over SMTP.
type EmailChannel struct {
	cfg  EmailConfig
	send sendFunc
}

// NewEmailChannel constructs the mail channel.
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, send: smtp.SendMail}
}

// Name identifies the channel in the dispatcher registry.
func (c *EmailChannel) Name() string { return ChannelEmail }

// Deliver renders and sends the mail. The context deadline is honoured by
// running the SMTP session in a goroutine; a timed-out session is reported
// as a normal delivery failure.
func (c *EmailChannel) Deliver(ctx context.Context, payload models.NotificationPayload) (string, error) {
	if len(c.cfg.Recipients) == 0 {
		return "", fmt.Errorf("no recipients configured")
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	var auth smtp.Auth
	if c.cfg.Username != "" && c.cfg.Password != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}

	msg := c.buildMessage(payload)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.send(addr, auth, c.cfg.From, c.cfg.Recipients, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send: %w", ctx.Err())
	}

	return fmt.Sprintf("email sent to %d recipients", len(c.cfg.Recipients)), nil
}

func (c *EmailChannel) buildMessage(payload models.NotificationPayload) []byte {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(payload.Severity)), payload.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.cfg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(renderEmailBody(payload))
	return []byte(b.String())
}

func renderEmailBody(payload models.NotificationPayload) string {
	color := severityColor(payload.Severity)
	var b strings.Builder

	b.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	fmt.Fprintf(&b, "<div style=\"background:%s;color:white;padding:16px;\"><h2>🚨 Alert: %s</h2>", color, payload.Title)
	fmt.Fprintf(&b, "<p>Severity: %s</p></div>", strings.ToUpper(string(payload.Severity)))
	b.WriteString("<table>")
	fmt.Fprintf(&b, "<tr><td><b>Source</b></td><td>%s</td></tr>", payload.Source)
	fmt.Fprintf(&b, "<tr><td><b>Time</b></td><td>%s</td></tr>", payload.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "<tr><td><b>Alert ID</b></td><td><code>%s</code></td></tr>", payload.AlertID)
	b.WriteString("</table>")
	fmt.Fprintf(&b, "<div style=\"border-left:4px solid %s;padding:12px;\">%s</div>", color, payload.Message)
	if len(payload.Metadata) > 0 {
		b.WriteString("<h3>Additional Information</h3><ul>")
		for key, value := range payload.Metadata {
			fmt.Fprintf(&b, "<li><b>%s:</b> %s</li>", key, value)
		}
		b.WriteString("</ul>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#dc3545"
	case models.SeverityHigh:
		return "#fd7e14"
	case models.SeverityMedium:
		return "#ffc107"
	case models.SeverityLow:
		return "#28a745"
	default:
		return "#6c757d"
	}
}

func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "🔴"
	case models.SeverityHigh:
		return "🟠"
	case models.SeverityMedium:
		return "🟡"
	case models.SeverityLow:
		return "🟢"
	default:
		return "⚪"
	}
}
