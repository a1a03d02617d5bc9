package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/alerting"
	"github.com/crosswatchhq/crosswatch/internal/anomaly"
	"github.com/crosswatchhq/crosswatch/internal/correlation"
	"github.com/crosswatchhq/crosswatch/internal/models"
)

type fakeSource struct {
	infra []models.Record
	app   []models.Record
	err   error
	calls int
}

func (f *fakeSource) FetchWindow(_ context.Context, _ time.Duration) ([]models.Record, []models.Record, error) {
	f.calls++
	return f.infra, f.app, f.err
}

type fakeNotifier struct {
	payloads []models.NotificationPayload
	result   models.DispatchResult
}

func (f *fakeNotifier) Dispatch(_ context.Context, payload models.NotificationPayload, _ []string) models.DispatchResult {
	f.payloads = append(f.payloads, payload)
	result := f.result
	result.AlertID = payload.AlertID
	return result
}

func newTestProcessor(src *fakeSource, notifier *fakeNotifier) *Processor {
	return NewProcessor(
		nil,
		src,
		correlation.NewEngine(nil, 10),
		anomaly.NewScorer(nil, nil),
		alerting.NewThrottle(nil, 0.3, 100),
		notifier,
		Options{FetchInterval: time.Minute},
	)
}

func TestRunCycleDispatchesAnomaly(t *testing.T) {
	src := &fakeSource{
		infra: []models.Record{{Timestamp: 1003, Fields: map[string]any{"last_value": "97.5"}}},
		app:   []models.Record{{Timestamp: 1000, Fields: map[string]any{"error_rate": 0.9}}},
	}
	notifier := &fakeNotifier{result: models.DispatchResult{
		Success:   true,
		Attempted: 1,
		Succeeded: 1,
		Results:   []models.DeliveryResult{{Channel: "email", Success: true}},
	}}

	summary := newTestProcessor(src, notifier).RunCycle(context.Background())

	if !summary.Success {
		t.Fatalf("expected successful cycle, errors: %v", summary.Errors)
	}
	if summary.Metrics.InfraRecords != 1 || summary.Metrics.AppRecords != 1 {
		t.Fatalf("unexpected record counts: %+v", summary.Metrics)
	}
	if summary.Metrics.Correlations != 1 || summary.Metrics.Anomalies != 1 {
		t.Fatalf("expected one correlation and one anomaly, got %+v", summary.Metrics)
	}
	if summary.Metrics.AlertsAdmitted != 1 || summary.Metrics.AlertsDispatched != 1 {
		t.Fatalf("expected one admitted and dispatched alert, got %+v", summary.Metrics)
	}

	if len(notifier.payloads) != 1 {
		t.Fatalf("expected one dispatched payload, got %d", len(notifier.payloads))
	}
	p := notifier.payloads[0]
	if p.Severity != models.SeverityCritical {
		t.Fatalf("error_rate 0.9 should map to critical, got %s", p.Severity)
	}
	if p.Title != "critical anomaly detected" {
		t.Fatalf("unexpected title %q", p.Title)
	}
	if p.Source != "crosswatch" {
		t.Fatalf("unexpected source %q", p.Source)
	}
	if p.Metadata["confidence"] != "0.80" {
		t.Fatalf("value field plus tight gap should yield confidence 0.80, got %q", p.Metadata["confidence"])
	}
	if p.Metadata["gap_seconds"] != "3" {
		t.Fatalf("unexpected gap metadata %q", p.Metadata["gap_seconds"])
	}
	if !strings.Contains(p.Message, "error_rate") {
		t.Fatalf("message should carry the finding, got %q", p.Message)
	}
}

func TestRunCycleQuietSeries(t *testing.T) {
	src := &fakeSource{
		infra: []models.Record{{Timestamp: 1003, Fields: map[string]any{"last_value": "10"}}},
		app:   []models.Record{{Timestamp: 1000, Fields: map[string]any{"error_rate": 0.1}}},
	}
	notifier := &fakeNotifier{}

	summary := newTestProcessor(src, notifier).RunCycle(context.Background())

	if !summary.Success {
		t.Fatalf("quiet cycle should succeed, errors: %v", summary.Errors)
	}
	if summary.Metrics.Correlations != 1 {
		t.Fatalf("expected one correlation, got %d", summary.Metrics.Correlations)
	}
	if summary.Metrics.Anomalies != 0 {
		t.Fatalf("expected no anomalies, got %d", summary.Metrics.Anomalies)
	}
	if len(notifier.payloads) != 0 {
		t.Fatalf("quiet cycle must not dispatch, got %d payloads", len(notifier.payloads))
	}
}

func TestRunCycleNoAppData(t *testing.T) {
	src := &fakeSource{
		infra: []models.Record{{Timestamp: 1000, Fields: map[string]any{"last_value": "10"}}},
	}
	notifier := &fakeNotifier{}

	summary := newTestProcessor(src, notifier).RunCycle(context.Background())

	if !summary.Success {
		t.Fatal("missing app data is a successful, skipped cycle")
	}
	if summary.Metrics.Correlations != 0 || len(notifier.payloads) != 0 {
		t.Fatal("skipped cycle must not correlate or dispatch")
	}
}

func TestRunCycleSummaryTimestamps(t *testing.T) {
	src := &fakeSource{
		infra: []models.Record{{Timestamp: 1003, Fields: map[string]any{}}},
		app:   []models.Record{{Timestamp: 1000, Fields: map[string]any{"error_rate": 0.1}}},
	}

	summary := newTestProcessor(src, &fakeNotifier{}).RunCycle(context.Background())

	if summary.CycleID == "" {
		t.Fatal("expected a cycle id on the returned summary")
	}
	if summary.StartTime.IsZero() || summary.EndTime.IsZero() {
		t.Fatalf("returned summary missing timestamps: start=%v end=%v", summary.StartTime, summary.EndTime)
	}
	if summary.EndTime.Before(summary.StartTime) {
		t.Fatalf("end %v precedes start %v", summary.EndTime, summary.StartTime)
	}
	if summary.Duration != summary.EndTime.Sub(summary.StartTime) {
		t.Fatalf("duration %v does not match the timestamps", summary.Duration)
	}
}

type panicRule struct{}

func (panicRule) Evaluate(models.CorrelatedPair) ([]string, error) {
	panic("rule blew up")
}

func TestRunCyclePanicIsRecoveredIntoSummary(t *testing.T) {
	src := &fakeSource{
		infra: []models.Record{{Timestamp: 1003, Fields: map[string]any{}}},
		app:   []models.Record{{Timestamp: 1000, Fields: map[string]any{"error_rate": 0.9}}},
	}
	p := NewProcessor(nil, src, correlation.NewEngine(nil, 10),
		anomaly.NewScorer(nil, panicRule{}),
		alerting.NewThrottle(nil, 0, 0), &fakeNotifier{},
		Options{FetchInterval: time.Minute})

	summary := p.RunCycle(context.Background())

	if summary.Success {
		t.Fatal("panicked cycle must not report success")
	}
	if summary.CycleID == "" {
		t.Fatal("panicked cycle must keep its cycle id")
	}
	if len(summary.Errors) == 0 || !strings.Contains(summary.Errors[0], "panic") {
		t.Fatalf("expected panic recorded in errors, got %v", summary.Errors)
	}
	if summary.EndTime.IsZero() {
		t.Fatal("panicked cycle must still stamp EndTime")
	}
}

func TestRunCycleFetchFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("dial tcp: connection refused")}
	notifier := &fakeNotifier{}

	summary := newTestProcessor(src, notifier).RunCycle(context.Background())

	if summary.Success {
		t.Fatal("fetch failure must mark the cycle unsuccessful")
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "connection refused") {
		t.Fatalf("expected fetch error recorded, got %v", summary.Errors)
	}
	if len(notifier.payloads) != 0 {
		t.Fatal("failed fetch must not dispatch")
	}
}

func TestRunCycleThrottleSuppressesDuplicates(t *testing.T) {
	// Two app records pair with the same infra record and score to the same
	// severity within the same second, so the second hits the dedup history.
	src := &fakeSource{
		infra: []models.Record{{Timestamp: 1003, Fields: map[string]any{}}},
		app: []models.Record{
			{Timestamp: 1000, Fields: map[string]any{"error_rate": 0.7}},
			{Timestamp: 1001, Fields: map[string]any{"error_rate": 0.7}},
		},
	}
	notifier := &fakeNotifier{result: models.DispatchResult{Success: true, Succeeded: 1}}

	summary := newTestProcessor(src, notifier).RunCycle(context.Background())

	if summary.Metrics.Anomalies != 2 {
		t.Fatalf("expected two anomalies, got %+v", summary.Metrics)
	}
	if summary.Metrics.AlertsAdmitted != 1 {
		t.Fatalf("duplicate event should be throttled, got %+v", summary.Metrics)
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("expected a single dispatch, got %d", len(notifier.payloads))
	}
}

func TestRunCycleRateLimitedDispatch(t *testing.T) {
	src := &fakeSource{
		infra: []models.Record{{Timestamp: 1003, Fields: map[string]any{}}},
		app:   []models.Record{{Timestamp: 1000, Fields: map[string]any{"error_rate": 0.9}}},
	}
	notifier := &fakeNotifier{result: models.DispatchResult{RateLimited: true}}

	summary := newTestProcessor(src, notifier).RunCycle(context.Background())

	if !summary.Success {
		t.Fatal("rate limiting is not a cycle failure")
	}
	if summary.Metrics.AlertsAdmitted != 1 {
		t.Fatalf("alert should pass the throttle, got %+v", summary.Metrics)
	}
	if summary.Metrics.AlertsDispatched != 0 {
		t.Fatalf("rate-limited alert must not count as dispatched, got %+v", summary.Metrics)
	}
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	src := &fakeSource{
		app: []models.Record{},
	}
	notifier := &fakeNotifier{}
	p := NewProcessor(nil, src, correlation.NewEngine(nil, 10), anomaly.NewScorer(nil, nil),
		alerting.NewThrottle(nil, 0, 0), notifier,
		Options{FetchInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if src.calls == 0 {
		t.Fatal("expected at least one cycle to run")
	}
}

func TestLastSummary(t *testing.T) {
	src := &fakeSource{}
	p := newTestProcessor(src, &fakeNotifier{})

	if _, ok := p.LastSummary(); ok {
		t.Fatal("no summary expected before the first cycle")
	}

	ran := p.RunCycle(context.Background())
	got, ok := p.LastSummary()
	if !ok {
		t.Fatal("summary expected after a cycle")
	}
	if got.CycleID != ran.CycleID {
		t.Fatalf("LastSummary returned %s, cycle was %s", got.CycleID, ran.CycleID)
	}
}

func TestTestAlert(t *testing.T) {
	notifier := &fakeNotifier{result: models.DispatchResult{Success: true}}
	p := newTestProcessor(&fakeSource{}, notifier)

	result := p.TestAlert(context.Background())
	if !result.Success {
		t.Fatal("expected test alert dispatch to succeed")
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("expected one payload, got %d", len(notifier.payloads))
	}
	if notifier.payloads[0].Severity != models.SeverityLow {
		t.Fatalf("test alerts are low severity, got %s", notifier.payloads[0].Severity)
	}
}
