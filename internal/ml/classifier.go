// Package ml runs the frozen diabetes-risk model: artifact loading, feature
// scaling, classifier invocation and the HTTP surface that exposes them.
//
// All loaded state lives in an immutable Service built once at startup. A
// Service built from a failed load answers every request with
// common.ErrAssetsNotLoaded; there is no fallback model.
package ml

import (
	"fmt"
	"math"
)

// Classifier is a trained binary classifier with probability output.
// Implementations must be safe for concurrent use.
type Classifier interface {
	// NumFeatures is the input width the classifier was trained on.
	NumFeatures() int
	// PredictProba returns [P(no diabetes), P(diabetes)] for one scaled row.
	PredictProba(row []float64) ([2]float64, error)
	// Close releases runtime resources.
	Close() error
}

// Classifier artifact formats accepted in the manifest.
const (
	FormatXGBoostJSON = "xgboost-json"
	FormatONNX        = "onnx"
)

const probabilitySumTolerance = 1e-3

// checkProbabilities validates a two-class output and renormalizes small drift.
func checkProbabilities(p [2]float64) ([2]float64, error) {
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return p, fmt.Errorf("invalid probability %d: %v", i, v)
		}
	}
	sum := p[0] + p[1]
	if math.Abs(sum-1) > probabilitySumTolerance {
		return p, fmt.Errorf("probabilities sum to %v", sum)
	}
	p[1] = p[1] / sum
	p[0] = 1 - p[1]
	return p, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
