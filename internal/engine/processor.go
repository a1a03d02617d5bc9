// Package engine drives the fetch, correlate, score, throttle, dispatch
// cycle and assembles per-cycle summaries.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosswatchhq/crosswatch/internal/alerting"
	"github.com/crosswatchhq/crosswatch/internal/anomaly"
	"github.com/crosswatchhq/crosswatch/internal/correlation"
	"github.com/crosswatchhq/crosswatch/internal/metrics"
	"github.com/crosswatchhq/crosswatch/internal/models"
	"github.com/crosswatchhq/crosswatch/internal/source"
	"github.com/crosswatchhq/crosswatch/internal/utils"
)

// State names the stage a cycle is in. Errored absorbs any stage failure;
// Done and Errored are terminal.
type State string

const (
	StateFetching    State = "fetching"
	StateCorrelating State = "correlating"
	StateScoring     State = "scoring"
	StateDispatching State = "dispatching"
	StateDone        State = "done"
	StateErrored     State = "errored"
)

// Notifier is the dispatcher behaviour the processor depends on.
type Notifier interface {
	Dispatch(ctx context.Context, payload models.NotificationPayload, channels []string) models.DispatchResult
}

// Admitter decides per-event delivery eligibility.
type Admitter interface {
	Admit(event models.AnomalyEvent) bool
}

// Options bundles the processor's tunables.
type Options struct {
	FetchInterval time.Duration
	AlertSource   string
}

// Processor sequences one full cycle at a time. The throttle and the
// dispatcher's rate limiter are the only state that survives a cycle; both
// are injected so independent pipelines never share history.
type Processor struct {
	logger     *slog.Logger
	src        source.DataSource
	correlator *correlation.Engine
	scorer     *anomaly.Scorer
	throttle   Admitter
	notifier   Notifier
	opts       Options
	latencies  *utils.LatencyTracker

	mu   sync.Mutex
	last *models.CycleSummary
}

// NewProcessor wires the pipeline components together.
func NewProcessor(
	logger *slog.Logger,
	src source.DataSource,
	correlator *correlation.Engine,
	scorer *anomaly.Scorer,
	throttle *alerting.Throttle,
	notifier Notifier,
	opts Options,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = 5 * time.Minute
	}
	if opts.AlertSource == "" {
		opts.AlertSource = "crosswatch"
	}
	var admitter Admitter
	if throttle != nil {
		admitter = throttle
	}
	return &Processor{
		logger:     logger,
		src:        src,
		correlator: correlator,
		scorer:     scorer,
		throttle:   admitter,
		notifier:   notifier,
		opts:       opts,
		latencies:  utils.NewLatencyTracker(256),
	}
}

// RunCycle executes one complete processing cycle. Absence of data or
// anomalies is a successful outcome; only structural failures mark the
// cycle errored.
// The result is named so the deferred recovery path can stamp EndTime and
// record panic errors on the value the caller receives.
func (p *Processor) RunCycle(ctx context.Context) (summary models.CycleSummary) {
	start := time.Now().UTC()
	summary = models.CycleSummary{
		CycleID:   fmt.Sprintf("cycle_%s", uuid.NewString()),
		StartTime: start,
		Errors:    []string{},
	}
	state := StateFetching

	defer func() {
		if r := recover(); r != nil {
			summary.Success = false
			summary.Errors = append(summary.Errors, fmt.Sprintf("cycle panic during %s: %v", state, r))
			state = StateErrored
		}
		summary.EndTime = time.Now().UTC()
		summary.Duration = summary.EndTime.Sub(summary.StartTime)
		p.finish(summary, state)
	}()

	p.logger.Info("starting processing cycle", slog.String("cycle_id", summary.CycleID))

	infra, app, err := p.src.FetchWindow(ctx, p.opts.FetchInterval)
	if err != nil {
		// Connection-setup level failure; the cycle itself still completes.
		p.logger.Error("data source fetch failed", slog.Any("error", err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("fetch: %v", err))
		summary.Success = false
		state = StateErrored
		return summary
	}
	summary.Metrics.InfraRecords = len(infra)
	summary.Metrics.AppRecords = len(app)
	metrics.ObserveFetch(len(infra), len(app))

	if len(app) == 0 {
		p.logger.Warn("no recent app records available, skipping cycle body")
		summary.Success = true
		state = StateDone
		return summary
	}

	state = StateCorrelating
	pairs := p.correlator.Correlate(infra, app)
	summary.Metrics.Correlations = len(pairs)
	if len(pairs) == 0 {
		p.logger.Info("no correlations found in this cycle")
		summary.Success = true
		state = StateDone
		return summary
	}

	state = StateScoring
	events := p.scorer.ScoreBatch(pairs)
	summary.Metrics.Anomalies = len(events)
	for _, event := range events {
		metrics.ObserveAnomaly(string(event.Severity))
	}

	state = StateDispatching
	for _, event := range events {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, "cycle cancelled during dispatch")
			break
		}
		if p.throttle != nil && !p.throttle.Admit(event) {
			continue
		}
		summary.Metrics.AlertsAdmitted++

		result := p.notifier.Dispatch(ctx, p.payloadFromEvent(event), nil)
		if result.RateLimited {
			metrics.ObserveRateLimited()
			continue
		}
		for _, dr := range result.Results {
			metrics.ObserveDelivery(dr.Channel, dr.Success)
		}
		if result.Success {
			summary.Metrics.AlertsDispatched++
		}
	}

	summary.Success = true
	state = StateDone
	return summary
}

// Run executes cycles back to back, sleeping the fetch interval in between,
// until the context is cancelled. A failed cycle is logged and the loop
// continues.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("starting continuous monitoring",
		slog.Duration("interval", p.opts.FetchInterval),
	)

	cycles := 0
	for {
		cycles++
		summary := p.RunCycle(ctx)
		if summary.Success {
			p.logger.Info("cycle completed",
				slog.Int("cycle", cycles),
				slog.String("cycle_id", summary.CycleID),
			)
		} else {
			p.logger.Error("cycle failed",
				slog.Int("cycle", cycles),
				slog.Any("errors", summary.Errors),
			)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("continuous monitoring stopped", slog.Int("total_cycles", cycles))
			return
		case <-time.After(p.opts.FetchInterval):
		}
	}
}

// TestAlert constructs an operator-triggered payload and runs it through
// the dispatcher only, for configuration verification.
func (p *Processor) TestAlert(ctx context.Context) models.DispatchResult {
	payload := models.NotificationPayload{
		AlertID:   uuid.NewString(),
		Title:     "Test Alert - System Check",
		Message:   "This is a test alert to verify the notification configuration.",
		Severity:  models.SeverityLow,
		Source:    p.opts.AlertSource,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"test": "true"},
	}
	return p.notifier.Dispatch(ctx, payload, nil)
}

// LastSummary returns the most recent cycle summary, if any.
func (p *Processor) LastSummary() (models.CycleSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return models.CycleSummary{}, false
	}
	return *p.last, true
}

func (p *Processor) payloadFromEvent(event models.AnomalyEvent) models.NotificationPayload {
	message := ""
	for i, finding := range event.Findings {
		if i > 0 {
			message += "; "
		}
		message += finding
	}

	metadata := map[string]string{
		"confidence":     fmt.Sprintf("%.2f", event.Confidence),
		"gap_seconds":    fmt.Sprintf("%d", event.Pair.Gap()),
		"window_seconds": fmt.Sprintf("%d", event.Pair.WindowSeconds),
	}
	if rt, ok := event.Pair.App.Float("response_time_ms"); ok {
		metadata["response_time_ms"] = fmt.Sprintf("%.0f", rt)
	}

	return models.NotificationPayload{
		AlertID:   uuid.NewString(),
		Title:     fmt.Sprintf("%s anomaly detected", event.Severity),
		Message:   message,
		Severity:  event.Severity,
		Source:    p.opts.AlertSource,
		Timestamp: event.Timestamp,
		Metadata:  metadata,
	}
}

func (p *Processor) finish(summary models.CycleSummary, state State) {
	outcome := metrics.OutcomeSuccess
	if !summary.Success {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveCycle(summary.Duration, outcome)
	p.latencies.Observe(summary.Duration)

	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()

	logAttrs := []any{
		slog.String("cycle_id", summary.CycleID),
		slog.String("state", string(state)),
		slog.Bool("success", summary.Success),
		slog.String("duration", utils.FormatDuration(summary.Duration)),
		slog.Int("correlations", summary.Metrics.Correlations),
		slog.Int("anomalies", summary.Metrics.Anomalies),
		slog.Int("alerts_dispatched", summary.Metrics.AlertsDispatched),
	}
	p.logger.Info("processing cycle completed", logAttrs...)

	if count := p.latencies.Count(); count >= 10 && count%10 == 0 {
		p.logger.Info("cycle latency",
			slog.Duration("p95", p.latencies.Percentile(95)),
			slog.Int("samples", count),
		)
	}
}
