package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"diabetes-risk/internal/common"
	"diabetes-risk/internal/features"
)

// ScaledRow is an aligned row after standardization, same order and width.
type ScaledRow []float64

// StandardScaler applies stored per-column mean and scale. It is never refitted.
type StandardScaler struct {
	names []string
	mean  []float64
	scale []float64
}

// scalerFile is the JSON export of a fitted sklearn StandardScaler.
type scalerFile struct {
	NFeaturesIn    int       `json:"n_features_in"`
	FeatureNamesIn []string  `json:"feature_names_in"`
	Mean           []float64 `json:"mean"`
	Var            []float64 `json:"var"`
	Scale          []float64 `json:"scale"`
}

// minScale is the threshold below which sklearn treats a scale as zero
// (10 * float64 epsilon); such columns keep a unit scale.
const minScale = 10 * 0x1p-52

// ParseScaler decodes a scaler artifact.
func ParseScaler(data []byte) (*StandardScaler, error) {
	var f scalerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse scaler: %w", err)
	}
	n := len(f.Mean)
	if n == 0 {
		return nil, fmt.Errorf("scaler has no fitted mean")
	}
	if f.NFeaturesIn != 0 && f.NFeaturesIn != n {
		return nil, fmt.Errorf("scaler n_features_in=%d but mean has %d entries", f.NFeaturesIn, n)
	}
	if len(f.FeatureNamesIn) != 0 && len(f.FeatureNamesIn) != n {
		return nil, fmt.Errorf("scaler has %d feature names for %d features", len(f.FeatureNamesIn), n)
	}

	scale := f.Scale
	switch {
	case len(scale) == n:
		scale = slices.Clone(scale)
	case len(scale) == 0 && len(f.Var) == n:
		scale = make([]float64, n)
		for i, v := range f.Var {
			if v < 0 {
				return nil, fmt.Errorf("scaler variance %d is negative", i)
			}
			scale[i] = math.Sqrt(v)
		}
	default:
		return nil, fmt.Errorf("scaler needs %d scale or var entries", n)
	}
	for i, s := range scale {
		if math.IsNaN(s) || math.IsInf(s, 0) || math.IsNaN(f.Mean[i]) || math.IsInf(f.Mean[i], 0) {
			return nil, fmt.Errorf("scaler parameter %d is not finite", i)
		}
		if s < minScale {
			scale[i] = 1
		}
	}

	return &StandardScaler{
		names: slices.Clone(f.FeatureNamesIn),
		mean:  slices.Clone(f.Mean),
		scale: scale,
	}, nil
}

// NumFeatures is the width the scaler was fitted on.
func (s *StandardScaler) NumFeatures() int {
	return len(s.mean)
}

// FeatureNames returns the fitted column names, if the artifact carried them.
func (s *StandardScaler) FeatureNames() []string {
	return slices.Clone(s.names)
}

// Mean and Scale expose the fitted parameters for artifact inspection.
func (s *StandardScaler) Mean() []float64  { return slices.Clone(s.mean) }
func (s *StandardScaler) Scale() []float64 { return slices.Clone(s.scale) }

// Transform standardizes row: (x - mean) / scale per column.
func (s *StandardScaler) Transform(row features.AlignedRow) (ScaledRow, error) {
	if len(row) != len(s.mean) {
		return nil, common.NewSchemaMismatchError("ml.StandardScaler.Transform",
			"scaler expects %d features, aligned row has %d", len(s.mean), len(row))
	}
	out := make(ScaledRow, len(row))
	for i, x := range row {
		out[i] = (x - s.mean[i]) / s.scale[i]
	}
	return out, nil
}
