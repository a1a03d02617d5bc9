// Package dispatch fans alert payloads out across configured notification
// channels, tracking per-channel outcomes and applying source-level rate
// limiting.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

// Channel names recognised by the default severity routing.
const (
	ChannelEmail   = "email"
	ChannelSlack   = "slack"
	ChannelWebhook = "webhook"
	ChannelSMS     = "sms"
)

const defaultDeliveryTimeout = 30 * time.Second

// Channel delivers a rendered payload to one notification target. Deliver
// returns an informational message on success; failures come back as errors
// and are captured into DeliveryResult by the dispatcher, never propagated.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, payload models.NotificationPayload) (string, error)
}

// Dispatcher owns the channel registry and the source-level rate limiter.
type Dispatcher struct {
	logger   *slog.Logger
	channels map[string]Channel
	limiter  *RateLimiter
	timeout  time.Duration
}

// NewDispatcher registers the given channels. Disabled channels are simply
// not passed in by the caller.
func NewDispatcher(logger *slog.Logger, limiter *RateLimiter, timeout time.Duration, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	registry := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		registry[ch.Name()] = ch
	}
	return &Dispatcher{
		logger:   logger,
		channels: registry,
		limiter:  limiter,
		timeout:  timeout,
	}
}

// Dispatch attempts delivery on the requested channels, or on the
// severity-derived default set when names is nil. Channels are attempted
// concurrently and independently; one failure never prevents the others.
// A rate-limited payload short-circuits with zero attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, payload models.NotificationPayload, names []string) models.DispatchResult {
	result := models.DispatchResult{AlertID: payload.AlertID}

	if !d.limiter.Allow(payload.Source, payload.Title) {
		d.logger.Warn("alert rate limited",
			slog.String("alert_id", payload.AlertID),
			slog.String("source", payload.Source),
			slog.String("title", payload.Title),
		)
		result.RateLimited = true
		return result
	}

	if names == nil {
		names = d.defaultChannels(payload.Severity)
	}

	targets := make([]Channel, 0, len(names))
	for _, name := range names {
		ch, ok := d.channels[name]
		if !ok {
			result.Results = append(result.Results, models.DeliveryResult{
				Channel: name,
				Success: false,
				Error:   "channel not configured",
			})
			continue
		}
		targets = append(targets, ch)
	}

	attempts := make([]models.DeliveryResult, len(targets))
	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			attempts[i] = d.deliver(ctx, ch, payload)
		}(i, ch)
	}
	wg.Wait()

	result.Results = append(result.Results, attempts...)
	result.Attempted = len(result.Results)
	for _, r := range attempts {
		if r.Success {
			result.Succeeded++
		}
	}
	result.Success = result.Succeeded > 0

	if result.Success {
		d.limiter.Record(payload.Source, payload.Title)
	}

	d.logger.Info("alert dispatch completed",
		slog.String("alert_id", payload.AlertID),
		slog.String("severity", string(payload.Severity)),
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", result.Succeeded),
		slog.Bool("success", result.Success),
	)

	return result
}

// HasChannel reports whether a channel name is registered.
func (d *Dispatcher) HasChannel(name string) bool {
	_, ok := d.channels[name]
	return ok
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, payload models.NotificationPayload) models.DeliveryResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := ch.Deliver(ctx, payload)
	if err != nil {
		d.logger.Error("channel delivery failed",
			slog.String("channel", ch.Name()),
			slog.String("alert_id", payload.AlertID),
			slog.Any("error", err),
		)
		return models.DeliveryResult{Channel: ch.Name(), Success: false, Error: err.Error()}
	}
	return models.DeliveryResult{Channel: ch.Name(), Success: true, Message: msg}
}

// defaultChannels derives the target set from severity: email for every
// severity, slack from medium up, webhook from high up. Fan-out widens
// monotonically with severity; SMS is only ever explicit.
func (d *Dispatcher) defaultChannels(severity models.Severity) []string {
	names := make([]string, 0, 3)
	if d.HasChannel(ChannelEmail) {
		names = append(names, ChannelEmail)
	}
	if d.HasChannel(ChannelSlack) && severity.Rank() >= models.SeverityMedium.Rank() {
		names = append(names, ChannelSlack)
	}
	if d.HasChannel(ChannelWebhook) && severity.Rank() >= models.SeverityHigh.Rank() {
		names = append(names, ChannelWebhook)
	}
	return names
}
