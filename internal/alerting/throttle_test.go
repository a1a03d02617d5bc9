package alerting

import (
	"testing"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

func event(severity models.Severity, confidence float64, ts int64) models.AnomalyEvent {
	return models.AnomalyEvent{
		Timestamp:  time.Unix(ts, 0).UTC(),
		Severity:   severity,
		Confidence: confidence,
		Findings:   []string{"error_rate above threshold"},
	}
}

func TestAdmitRejectsLowConfidence(t *testing.T) {
	throttle := NewThrottle(nil, 0.3, 0)

	if throttle.Admit(event(models.SeverityHigh, 0.2, 1000)) {
		t.Fatal("expected event below the confidence floor to be rejected")
	}
	if throttle.Size() != 0 {
		t.Fatalf("rejected event must not be recorded, history size %d", throttle.Size())
	}

	// The floor is inclusive: exactly 0.3 passes.
	if !throttle.Admit(event(models.SeverityHigh, 0.3, 1000)) {
		t.Fatal("expected event at the confidence floor to be admitted")
	}
}

func TestAdmitCriticalBypassesDedup(t *testing.T) {
	throttle := NewThrottle(nil, 0, 0)

	for i := 0; i < 3; i++ {
		if !throttle.Admit(event(models.SeverityCritical, 0.9, 1000)) {
			t.Fatalf("critical event %d was suppressed", i)
		}
	}
	// Criticals still land in history, but never consult it.
	if throttle.Size() != 1 {
		t.Fatalf("expected one recorded key, got %d", throttle.Size())
	}
}

func TestAdmitSuppressesDuplicates(t *testing.T) {
	throttle := NewThrottle(nil, 0, 0)

	if !throttle.Admit(event(models.SeverityHigh, 0.7, 1000)) {
		t.Fatal("first event should be admitted")
	}
	if throttle.Admit(event(models.SeverityHigh, 0.7, 1000)) {
		t.Fatal("same severity and timestamp should be suppressed")
	}

	// A different severity or timestamp is a different key.
	if !throttle.Admit(event(models.SeverityMedium, 0.7, 1000)) {
		t.Fatal("different severity should not collide")
	}
	if !throttle.Admit(event(models.SeverityHigh, 0.7, 1001)) {
		t.Fatal("different timestamp should not collide")
	}
}

func TestHistoryEvictsOldestAtCapacity(t *testing.T) {
	throttle := NewThrottle(nil, 0, 5)

	for ts := int64(0); ts < 5; ts++ {
		if !throttle.Admit(event(models.SeverityHigh, 0.7, ts)) {
			t.Fatalf("event %d should be admitted", ts)
		}
	}
	if throttle.Size() != 5 {
		t.Fatalf("expected history at capacity 5, got %d", throttle.Size())
	}

	// One more evicts the oldest key, so its duplicate is admitted again.
	if !throttle.Admit(event(models.SeverityHigh, 0.7, 5)) {
		t.Fatal("sixth event should be admitted")
	}
	if throttle.Size() != 5 {
		t.Fatalf("history grew past capacity: %d", throttle.Size())
	}
	if !throttle.Admit(event(models.SeverityHigh, 0.7, 0)) {
		t.Fatal("evicted key should be admissible again")
	}
	// The newest key is still held.
	if throttle.Admit(event(models.SeverityHigh, 0.7, 5)) {
		t.Fatal("recent key should still be suppressed")
	}
}

func TestNewThrottleDefaults(t *testing.T) {
	throttle := NewThrottle(nil, 0, 0)
	if throttle.minConfidence != defaultMinConfidence {
		t.Fatalf("expected default confidence floor %v, got %v", defaultMinConfidence, throttle.minConfidence)
	}
	if throttle.capacity != defaultHistorySize {
		t.Fatalf("expected default capacity %d, got %d", defaultHistorySize, throttle.capacity)
	}
}
