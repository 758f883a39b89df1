package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vigilstack/vigil-checker/internal/models"
)

const (
	// OutcomeSuccess labels runs that completed and persisted their rows.
	OutcomeSuccess = "success"
	// OutcomeError labels runs that failed in strict-relevant ways.
	OutcomeError = "error"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "runs_total",
			Help:      "Total number of check runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "checks_total",
			Help:      "Total number of executed checks, partitioned by resulting status.",
		},
		[]string{"service", "status"},
	)

	probeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "probe_seconds",
			Help:      "Probe latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
		[]string{"service"},
	)

	serviceScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Name:      "service_score",
			Help:      "Latest effective health score per service (0-100).",
		},
		[]string{"service"},
	)
)

// Register attaches vigil collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		checksTotal,
		probeDurationSeconds,
		serviceScore,
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

// ObserveRun records the outcome of one full run.
func ObserveRun(outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProbe records a single check execution.
func ObserveProbe(serviceKey string, status models.Status, duration time.Duration) {
	checksTotal.WithLabelValues(serviceKey, string(status)).Inc()
	if duration < 0 {
		duration = 0
	}
	probeDurationSeconds.WithLabelValues(serviceKey).Observe(duration.Seconds())
}

// SetServiceScore publishes the latest effective score for a service.
func SetServiceScore(serviceKey string, score float64) {
	serviceScore.WithLabelValues(serviceKey).Set(score)
}
