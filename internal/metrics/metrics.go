package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that completed, including zero-data cycles.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles that hit a structural failure.
	OutcomeError = "error"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosswatch",
			Name:      "cycles_total",
			Help:      "Total number of processing cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crosswatch",
			Name:      "cycle_seconds",
			Help:      "Processing cycle latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	recordsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosswatch",
			Name:      "records_fetched_total",
			Help:      "Records fetched per cycle, partitioned by series.",
		},
		[]string{"series"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosswatch",
			Name:      "anomalies_total",
			Help:      "Anomaly events produced, partitioned by severity.",
		},
		[]string{"severity"},
	)

	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosswatch",
			Name:      "deliveries_total",
			Help:      "Channel delivery attempts, partitioned by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crosswatch",
			Name:      "rate_limited_total",
			Help:      "Dispatches short-circuited by the source-level rate limiter.",
		},
	)
)

// Register attaches crosswatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		recordsFetched,
		anomaliesTotal,
		deliveriesTotal,
		rateLimitedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch records per-series fetch counts.
func ObserveFetch(infraRecords, appRecords int) {
	recordsFetched.WithLabelValues("infra").Add(float64(infraRecords))
	recordsFetched.WithLabelValues("app").Add(float64(appRecords))
}

// ObserveAnomaly counts one anomaly event by severity.
func ObserveAnomaly(severity string) {
	anomaliesTotal.WithLabelValues(severity).Inc()
}

// ObserveDelivery counts one channel delivery attempt.
func ObserveDelivery(channel string, success bool) {
	outcome := OutcomeError
	if success {
		outcome = OutcomeSuccess
	}
	deliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveRateLimited counts one rate-limited dispatch.
func ObserveRateLimited() {
	rateLimitedTotal.Inc()
}
