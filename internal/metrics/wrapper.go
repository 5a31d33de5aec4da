package metrics

import (
	"strconv"
)

// MetricsWrapper adapts Metrics to the narrow interfaces the ml package consumes
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc() {
	w.m.Predictions.Inc()
}

func (w *MetricsWrapper) FailuresInc(kind string) {
	w.m.Failures.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) LatencyObserve(seconds float64) {
	w.m.Latency.Observe(seconds)
}

// ProbabilityObserve records P(diabetes) and the decision it implies.
func (w *MetricsWrapper) ProbabilityObserve(p float64) {
	w.m.ProbabilityDiabetes.Observe(p)
	decision := "0"
	if p > 0.5 {
		decision = "1"
	}
	w.m.PredictionsByDecision.WithLabelValues(decision).Inc()
}

func (w *MetricsWrapper) AssetsLoadedSet(loaded bool) {
	if loaded {
		w.m.AssetsLoaded.Set(1)
		return
	}
	w.m.AssetsLoaded.Set(0)
}

func (w *MetricsWrapper) ModelAgeSet(seconds float64) {
	w.m.ModelAge.Set(seconds)
}

func (w *MetricsWrapper) RequestObserve(route string, code int) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
