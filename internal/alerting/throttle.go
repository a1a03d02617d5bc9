// Package alerting decides which anomaly events are eligible for delivery.
package alerting

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

const (
	defaultMinConfidence = 0.3
	defaultHistorySize   = 100
)

// Throttle suppresses duplicate alerts using a bounded history keyed by
// severity and event timestamp. It is long-lived, shared across cycles, and
// safe for use from one active cycle at a time.
type Throttle struct {
	mu            sync.Mutex
	minConfidence float64
	capacity      int
	history       map[string]time.Time
	order         []string
	logger        *slog.Logger
	now           func() time.Time
}

// NewThrottle builds a throttle with the given confidence floor and history
// capacity. Zero values select the defaults.
func NewThrottle(logger *slog.Logger, minConfidence float64, capacity int) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	if minConfidence <= 0 {
		minConfidence = defaultMinConfidence
	}
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &Throttle{
		minConfidence: minConfidence,
		capacity:      capacity,
		history:       make(map[string]time.Time),
		logger:        logger,
		now:           time.Now,
	}
}

// Admit reports whether an event should be delivered. Low-confidence events
// are rejected, critical events always pass, and everything else is deduped
// on the (severity, timestamp) key. Admitting records the key.
//
// The key is deliberately coarse: two distinct anomalies sharing a severity
// and a second-resolution timestamp collide, and the second is suppressed.
func (t *Throttle) Admit(event models.AnomalyEvent) bool {
	if event.Confidence < t.minConfidence {
		t.logger.Debug("alert rejected, confidence below floor",
			slog.Float64("confidence", event.Confidence),
			slog.Float64("floor", t.minConfidence),
		)
		return false
	}

	if event.Severity == models.SeverityCritical {
		t.record(dedupKey(event))
		return true
	}

	key := dedupKey(event)
	t.mu.Lock()
	_, seen := t.history[key]
	t.mu.Unlock()
	if seen {
		t.logger.Debug("alert suppressed as duplicate", slog.String("key", key))
		return false
	}

	t.record(key)
	return true
}

// Size returns the current history length.
func (t *Throttle) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

func (t *Throttle) record(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.history[key]; !exists {
		t.order = append(t.order, key)
	}
	t.history[key] = t.now().UTC()

	for len(t.order) > t.capacity {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.history, oldest)
	}
}

func dedupKey(event models.AnomalyEvent) string {
	return fmt.Sprintf("%s_%d", event.Severity, event.Timestamp.Unix())
}
