// Package metrics provides Prometheus metrics collection for the diabetes-risk
// prediction service. Prediction outcomes, latency and asset state are exposed
// via the /metrics endpoint for monitoring and alerting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the prediction service.
type Metrics struct {
	// Prediction metrics
	Predictions           prometheus.Counter     // Total number of successful predictions
	Failures              *prometheus.CounterVec // Prediction failures by error kind
	Latency               prometheus.Histogram   // End-to-end pipeline latency in seconds
	ProbabilityDiabetes   prometheus.Histogram   // Distribution of P(diabetes)
	PredictionsByDecision *prometheus.CounterVec // Successful predictions by binary decision

	// Asset metrics
	AssetsLoaded prometheus.Gauge // 1 when the artifacts are loaded
	ModelAge     prometheus.Gauge // Age of the classifier artifact in seconds

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec // Requests by route and status code

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of successful predictions",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of prediction failures by error kind",
		}, []string{"kind"}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Prediction latency in seconds (validation to result)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		ProbabilityDiabetes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_probability",
			Help:    "Distribution of the predicted probability of diabetes",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		PredictionsByDecision: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "predictions_by_decision_total",
			Help: "Total number of successful predictions by binary decision",
		}, []string{"decision"}),
		AssetsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assets_loaded",
			Help: "Whether the model, scaler and training columns are loaded (1) or not (0)",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the classifier artifact in seconds",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registry these metrics were created in.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// FailureRate is failures over all attempts, or 0 before any attempt.
func (m *Metrics) FailureRate() float64 {
	var ok, failed float64

	families, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "predictions_total":
			for _, s := range mf.GetMetric() {
				ok += s.GetCounter().GetValue()
			}
		case "prediction_failures_total":
			for _, s := range mf.GetMetric() {
				failed += s.GetCounter().GetValue()
			}
		}
	}

	if ok+failed == 0 {
		return 0
	}
	return failed / (ok + failed)
}
