package models

import "time"

// Record is one time-stamped sample from either input series. Timestamp is
// unix seconds; zero means the sample carried no usable clock and must be
// excluded from correlation. Fields holds the remaining columns as scalars.
type Record struct {
	Timestamp int64
	Fields    map[string]any
}

// HasTimestamp reports whether the record can be aligned in time.
func (r Record) HasTimestamp() bool {
	return r.Timestamp > 0
}

// Float returns a numeric field coerced to float64.
func (r Record) Float(name string) (float64, bool) {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// CorrelatedPair aligns one app record with one infra record whose
// timestamps fall within the tolerance window. CorrelatedAt is the
// wall-clock time of the match, not the data timestamp.
type CorrelatedPair struct {
	Infra         Record
	App           Record
	CorrelatedAt  time.Time
	WindowSeconds int64
}

// Gap returns the absolute timestamp distance between the two sides.
func (p CorrelatedPair) Gap() int64 {
	d := p.Infra.Timestamp - p.App.Timestamp
	if d < 0 {
		d = -d
	}
	return d
}

// Severity captures alert impact levels, ordered critical > high > medium > low.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity, higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AnomalyEvent is a flagged correlated pair. Findings is non-empty by
// construction; Confidence is always within [0, 1].
type AnomalyEvent struct {
	Timestamp  time.Time
	Pair       CorrelatedPair
	Findings   []string
	Severity   Severity
	Confidence float64
}

// NotificationPayload is the channel-agnostic alert value each channel
// renders into its own wire format. Immutable once built.
type NotificationPayload struct {
	AlertID   string
	Title     string
	Message   string
	Severity  Severity
	Source    string
	Timestamp time.Time
	Metadata  map[string]string
}

// DeliveryResult records the outcome of one channel attempt.
type DeliveryResult struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DispatchResult aggregates per-channel outcomes for one payload. Success is
// true when at least one channel delivered; callers inspect Results to
// detect partial failure.
type DispatchResult struct {
	AlertID     string           `json:"alert_id"`
	RateLimited bool             `json:"rate_limited"`
	Results     []DeliveryResult `json:"results"`
	Attempted   int              `json:"attempted"`
	Succeeded   int              `json:"succeeded"`
	Success     bool             `json:"success"`
}

// CycleMetrics counts what each stage of a cycle produced.
type CycleMetrics struct {
	InfraRecords     int `json:"infra_records"`
	AppRecords       int `json:"app_records"`
	Correlations     int `json:"correlations"`
	Anomalies        int `json:"anomalies"`
	AlertsAdmitted   int `json:"alerts_admitted"`
	AlertsDispatched int `json:"alerts_dispatched"`
}

// CycleSummary is the structured result of one processing cycle. A cycle
// that found no data or no anomalies is still a success.
type CycleSummary struct {
	CycleID   string        `json:"cycle_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Metrics   CycleMetrics  `json:"metrics"`
	Errors    []string      `json:"errors"`
}
