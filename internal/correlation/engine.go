// Package correlation aligns records from the infra and app series whose
// timestamps fall within a configured tolerance window.
package correlation

import (
	"log/slog"
	"sort"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

// Engine pairs app records with every infra record inside the tolerance
// window. It holds no state beyond configuration; Correlate is a pure
// function of its inputs.
type Engine struct {
	logger        *slog.Logger
	windowSeconds int64
	now           func() time.Time
}

// NewEngine constructs a correlation engine with the given tolerance window.
func NewEngine(logger *slog.Logger, windowSeconds int64) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if windowSeconds <= 0 {
		windowSeconds = 10
	}
	return &Engine{
		logger:        logger,
		windowSeconds: windowSeconds,
		now:           time.Now,
	}
}

// Correlate emits one pair per (app record, matching infra record)
// combination. Records without a timestamp are skipped; an app record with
// no match simply contributes nothing. Multiple infra matches fan out into
// multiple pairs.
func (e *Engine) Correlate(infra, app []models.Record) []models.CorrelatedPair {
	if len(infra) == 0 || len(app) == 0 {
		return nil
	}

	// Sort a copy of the infra series so each app record only scans the
	// slice of candidates inside the window.
	sorted := make([]models.Record, 0, len(infra))
	for _, rec := range infra {
		if rec.HasTimestamp() {
			sorted = append(sorted, rec)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	matchedAt := e.now().UTC()
	pairs := make([]models.CorrelatedPair, 0)
	for _, appRec := range app {
		if !appRec.HasTimestamp() {
			continue
		}
		lo := sort.Search(len(sorted), func(i int) bool {
			return sorted[i].Timestamp >= appRec.Timestamp-e.windowSeconds
		})
		for i := lo; i < len(sorted) && sorted[i].Timestamp <= appRec.Timestamp+e.windowSeconds; i++ {
			pairs = append(pairs, models.CorrelatedPair{
				Infra:         sorted[i],
				App:           appRec,
				CorrelatedAt:  matchedAt,
				WindowSeconds: e.windowSeconds,
			})
		}
	}

	e.logger.Debug("correlation completed",
		slog.Int("infra_records", len(infra)),
		slog.Int("app_records", len(app)),
		slog.Int("pairs", len(pairs)),
		slog.Int64("window_seconds", e.windowSeconds),
	)

	return pairs
}

// WindowSeconds returns the configured tolerance.
func (e *Engine) WindowSeconds() int64 {
	return e.windowSeconds
}
