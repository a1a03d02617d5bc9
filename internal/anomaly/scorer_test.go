package anomaly

import (
	"math"
	"testing"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

func pair(appFields, infraFields map[string]any, gap int64) models.CorrelatedPair {
	if appFields == nil {
		appFields = map[string]any{}
	}
	if infraFields == nil {
		infraFields = map[string]any{}
	}
	return models.CorrelatedPair{
		App:           models.Record{Timestamp: 1000, Fields: appFields},
		Infra:         models.Record{Timestamp: 1000 + gap, Fields: infraFields},
		CorrelatedAt:  time.Unix(2000, 0),
		WindowSeconds: 10,
	}
}

func TestScoreBelowThresholdEmitsNothing(t *testing.T) {
	scorer := NewScorer(nil, nil)

	_, flagged, err := scorer.Score(pair(map[string]any{"error_rate": 0.2}, nil, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if flagged {
		t.Fatalf("expected no event below threshold")
	}
}

func TestScoreMissingFieldEmitsNothing(t *testing.T) {
	scorer := NewScorer(nil, nil)

	_, flagged, err := scorer.Score(pair(nil, nil, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if flagged {
		t.Fatalf("expected no event when indicator field is absent")
	}
}

func TestScoreMalformedFieldReturnsError(t *testing.T) {
	scorer := NewScorer(nil, nil)

	_, _, err := scorer.Score(pair(map[string]any{"error_rate": "not a number"}, nil, 5))
	if err == nil {
		t.Fatalf("expected error for non-numeric indicator")
	}
}

func TestSeverityBands(t *testing.T) {
	scorer := NewScorer(nil, nil)

	cases := []struct {
		rate float64
		want models.Severity
	}{
		{0.9, models.SeverityCritical},
		{0.8, models.SeverityCritical},
		{0.7, models.SeverityHigh},
		{0.6, models.SeverityHigh},
		{0.55, models.SeverityMedium},
	}
	for _, tc := range cases {
		event, flagged, err := scorer.Score(pair(map[string]any{"error_rate": tc.rate}, nil, 8))
		if err != nil || !flagged {
			t.Fatalf("rate %.2f: flagged=%v err=%v", tc.rate, flagged, err)
		}
		if event.Severity != tc.want {
			t.Fatalf("rate %.2f: expected %s, got %s", tc.rate, tc.want, event.Severity)
		}
	}
}

func TestEventAlwaysHasFindings(t *testing.T) {
	scorer := NewScorer(nil, nil)

	event, flagged, err := scorer.Score(pair(map[string]any{"error_rate": 0.9}, nil, 5))
	if err != nil || !flagged {
		t.Fatalf("flagged=%v err=%v", flagged, err)
	}
	if len(event.Findings) == 0 {
		t.Fatalf("emitted event must carry at least one finding")
	}
}

func TestConfidenceBonuses(t *testing.T) {
	scorer := NewScorer(nil, nil)
	base := map[string]any{"error_rate": 0.9}

	// Bare pair, wide gap: base confidence only.
	event, _, _ := scorer.Score(pair(base, nil, 8))
	if !closeTo(event.Confidence, 0.5) {
		t.Fatalf("expected base confidence 0.5, got %f", event.Confidence)
	}

	// Infra value field and a tight gap each add a bonus.
	event, _, _ = scorer.Score(pair(base, map[string]any{"last_value": "42"}, 5))
	if !closeTo(event.Confidence, 0.8) {
		t.Fatalf("expected 0.8 with value field and tight gap, got %f", event.Confidence)
	}

	// All bonuses together saturate the [0, 1] range.
	full := map[string]any{"error_rate": 0.9, "response_time_ms": 250.0}
	event, _, _ = scorer.Score(pair(full, map[string]any{"last_value": "42"}, 0))
	if !closeTo(event.Confidence, 1.0) {
		t.Fatalf("expected confidence near 1.0, got %f", event.Confidence)
	}
	if event.Confidence > 1.0 {
		t.Fatalf("confidence exceeded cap: %f", event.Confidence)
	}
}

func closeTo(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestConfidenceMonotonicInOptionalFields(t *testing.T) {
	scorer := NewScorer(nil, nil)

	without, _, _ := scorer.Score(pair(map[string]any{"error_rate": 0.9}, nil, 8))
	with, _, _ := scorer.Score(pair(map[string]any{"error_rate": 0.9, "response_time_ms": 120.0}, nil, 8))

	if with.Confidence < without.Confidence {
		t.Fatalf("adding a populated field lowered confidence: %f -> %f",
			without.Confidence, with.Confidence)
	}
}

func TestScoreBatchContinuesPastFailures(t *testing.T) {
	scorer := NewScorer(nil, nil)

	pairs := []models.CorrelatedPair{
		pair(map[string]any{"error_rate": 0.7}, nil, 5),
		pair(map[string]any{"error_rate": "broken"}, nil, 5),
		pair(map[string]any{"error_rate": 0.9}, nil, 5),
		pair(map[string]any{"error_rate": 0.1}, nil, 5),
	}

	events := scorer.ScoreBatch(pairs)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Relative input order is preserved.
	if events[0].Severity != models.SeverityHigh || events[1].Severity != models.SeverityCritical {
		t.Fatalf("batch order not preserved: %s, %s", events[0].Severity, events[1].Severity)
	}
}

func TestScoreBatchIsIdempotent(t *testing.T) {
	scorer := NewScorer(nil, nil)
	scorer.now = func() time.Time { return time.Unix(3000, 0) }

	pairs := []models.CorrelatedPair{pair(map[string]any{"error_rate": 0.9}, nil, 5)}

	first := scorer.ScoreBatch(pairs)
	second := scorer.ScoreBatch(pairs)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one event per run")
	}
	if first[0].Severity != second[0].Severity || first[0].Confidence != second[0].Confidence {
		t.Fatalf("scoring is not deterministic")
	}
}

func TestCustomRule(t *testing.T) {
	rule := NewThresholdRule("latency", 0.75)
	scorer := NewScorer(nil, rule)

	event, flagged, err := scorer.Score(pair(map[string]any{"latency": 0.9}, nil, 5))
	if err != nil || !flagged {
		t.Fatalf("flagged=%v err=%v", flagged, err)
	}
	if event.Severity != models.SeverityCritical {
		t.Fatalf("expected critical from indicator 0.9, got %s", event.Severity)
	}
}
