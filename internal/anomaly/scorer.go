// Package anomaly turns correlated pairs into scored anomaly events.
package anomaly

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/crosswatchhq/crosswatch/internal/models"
)

const (
	baseConfidence    = 0.5
	appFieldBonus     = 0.2
	infraFieldBonus   = 0.2
	tightGapBonus     = 0.1
	tightGapSeconds   = 5
	defaultField      = "error_rate"
	defaultThreshold  = 0.5
	appSecondaryField = "response_time_ms"
	infraValueField   = "last_value"
)

// Rule is the pluggable anomaly policy. Evaluate returns zero or more
// human-readable findings for a pair; no findings means no event.
type Rule interface {
	Evaluate(pair models.CorrelatedPair) ([]string, error)
}

// ThresholdRule flags pairs whose app-side indicator exceeds a threshold.
type ThresholdRule struct {
	Field     string
	Threshold float64
}

// NewThresholdRule builds the default single-field rule.
func NewThresholdRule(field string, threshold float64) ThresholdRule {
	if field == "" {
		field = defaultField
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return ThresholdRule{Field: field, Threshold: threshold}
}

// Evaluate produces one finding when the indicator breaches the threshold.
func (r ThresholdRule) Evaluate(pair models.CorrelatedPair) ([]string, error) {
	raw, present := pair.App.Fields[r.Field]
	if !present {
		return nil, nil
	}
	value, ok := pair.App.Float(r.Field)
	if !ok {
		return nil, fmt.Errorf("field %s has non-numeric value %T", r.Field, raw)
	}
	if value > r.Threshold {
		return []string{fmt.Sprintf("%s %.2f exceeds threshold %.2f", r.Field, value, r.Threshold)}, nil
	}
	return nil, nil
}

// Scorer evaluates pairs against a rule and derives severity and confidence
// for the ones that fire.
type Scorer struct {
	logger *slog.Logger
	rule   Rule
	field  string
	now    func() time.Time
}

// NewScorer constructs a scorer around the given rule. A nil rule falls back
// to the default threshold rule.
func NewScorer(logger *slog.Logger, rule Rule) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	field := defaultField
	if rule == nil {
		rule = NewThresholdRule(defaultField, defaultThreshold)
	}
	if tr, ok := rule.(ThresholdRule); ok {
		field = tr.Field
	}
	return &Scorer{
		logger: logger,
		rule:   rule,
		field:  field,
		now:    time.Now,
	}
}

// Score evaluates a single pair. The second return value is false when the
// rule produced no findings; such pairs never become events.
func (s *Scorer) Score(pair models.CorrelatedPair) (models.AnomalyEvent, bool, error) {
	findings, err := s.rule.Evaluate(pair)
	if err != nil {
		return models.AnomalyEvent{}, false, err
	}
	if len(findings) == 0 {
		return models.AnomalyEvent{}, false, nil
	}

	indicator, _ := pair.App.Float(s.field)
	event := models.AnomalyEvent{
		Timestamp:  s.now().UTC(),
		Pair:       pair,
		Findings:   findings,
		Severity:   severityFromIndicator(indicator),
		Confidence: s.confidence(pair),
	}
	return event, true, nil
}

// ScoreBatch evaluates pairs in order, keeps the relative order of those
// that produced events, and continues past per-pair failures.
func (s *Scorer) ScoreBatch(pairs []models.CorrelatedPair) []models.AnomalyEvent {
	events := make([]models.AnomalyEvent, 0)
	for _, pair := range pairs {
		event, flagged, err := s.Score(pair)
		if err != nil {
			s.logger.Warn("scoring failed for pair",
				slog.Int64("app_timestamp", pair.App.Timestamp),
				slog.Int64("infra_timestamp", pair.Infra.Timestamp),
				slog.Any("error", err),
			)
			continue
		}
		if !flagged {
			continue
		}
		events = append(events, event)
		s.logger.Warn("anomaly detected",
			slog.String("severity", string(event.Severity)),
			slog.Float64("confidence", event.Confidence),
			slog.Any("findings", event.Findings),
		)
	}
	return events
}

// confidence starts from a base and adds fixed bonuses for corroborating
// data: a populated secondary app field, a populated infra value field, and
// a tight timestamp gap between the two sides. Capped at 1.0.
func (s *Scorer) confidence(pair models.CorrelatedPair) float64 {
	score := baseConfidence
	if _, ok := pair.App.Float(appSecondaryField); ok {
		score += appFieldBonus
	}
	if v, present := pair.Infra.Fields[infraValueField]; present && v != nil && v != "" {
		score += infraFieldBonus
	}
	if pair.Gap() <= tightGapSeconds {
		score += tightGapBonus
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func severityFromIndicator(value float64) models.Severity {
	switch {
	case value >= 0.8:
		return models.SeverityCritical
	case value >= 0.6:
		return models.SeverityHigh
	case value >= 0.4:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
