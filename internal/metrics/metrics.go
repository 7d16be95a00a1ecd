package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels predictions that produced a result.
	OutcomeSuccess = "success"
	// OutcomeError labels predictions that failed (no history, bad model).
	OutcomeError = "error"
)

var (
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "battery_monitor",
			Name:      "samples_total",
			Help:      "Total telemetry samples generated, partitioned by validity.",
		},
		[]string{"validity"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "battery_monitor",
			Name:      "alerts_total",
			Help:      "Total alerts raised, partitioned by category and severity.",
		},
		[]string{"category", "severity"},
	)

	flushBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "battery_monitor",
			Name:      "flush_batch_size",
			Help:      "Samples moved to storage per flush.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "battery_monitor",
			Name:      "predictions_total",
			Help:      "Total failure predictions served, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	predictionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "battery_monitor",
			Name:      "prediction_seconds",
			Help:      "Prediction latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	trainingSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "battery_monitor",
			Name:      "training_seconds",
			Help:      "Model training duration in seconds, partitioned by model.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)
)

// Register attaches battery-monitor collectors to the supplied Prometheus
// registerer. Re-registration of an identical collector is not an error.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesTotal,
		alertsTotal,
		flushBatchSize,
		predictionsTotal,
		predictionSeconds,
		trainingSeconds,
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

// ObserveSample counts one generated sample.
func ObserveSample(valid bool) {
	label := "valid"
	if !valid {
		label = "invalid"
	}
	samplesTotal.WithLabelValues(label).Inc()
}

// ObserveAlert counts one raised alert.
func ObserveAlert(category, severity string) {
	alertsTotal.WithLabelValues(category, severity).Inc()
}

// ObserveFlush records the size of one flushed batch.
func ObserveFlush(samples int) {
	flushBatchSize.Observe(float64(samples))
}

// ObservePrediction records a prediction duration and outcome label.
func ObservePrediction(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	predictionsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	predictionSeconds.Observe(duration.Seconds())
}

// ObserveTraining records a model training duration.
func ObserveTraining(model string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	trainingSeconds.WithLabelValues(model).Observe(duration.Seconds())
}
