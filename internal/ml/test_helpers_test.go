package ml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"diabetes-risk/internal/features"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// MockMetrics implements MetricsInterface and HTTPMetrics for testing
type MockMetrics struct {
	mu            sync.Mutex
	predictions   int
	failures      map[string]int
	latencyCount  int
	probabilities []float64
	assetsLoaded  bool
	modelAge      float64
	requests      map[string]int
}

func (m *MockMetrics) PredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) FailuresInc(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = make(map[string]int)
	}
	m.failures[kind]++
}

func (m *MockMetrics) LatencyObserve(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencyCount++
}

func (m *MockMetrics) ProbabilityObserve(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probabilities = append(m.probabilities, p)
}

func (m *MockMetrics) AssetsLoadedSet(loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assetsLoaded = loaded
}

func (m *MockMetrics) ModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) RequestObserve(route string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requests == nil {
		m.requests = make(map[string]int)
	}
	m.requests[route]++
}

func (m *MockMetrics) failureCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[kind]
}

// spyClassifier counts calls and returns a canned answer.
type spyClassifier struct {
	mu       sync.Mutex
	calls    int
	width    int
	proba    [2]float64
	err      error
	panicMsg string
}

func (c *spyClassifier) NumFeatures() int { return c.width }

func (c *spyClassifier) PredictProba([]float64) ([2]float64, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	return c.proba, c.err
}

func (c *spyClassifier) Close() error { return nil }

func (c *spyClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var testColumns = []string{
	"age", "hypertension", "heart_disease", "bmi", "HbA1c_level", "blood_glucose_level",
	"gender_Male", "gender_Other",
	"smoking_history_current", "smoking_history_ever", "smoking_history_former",
	"smoking_history_never", "smoking_history_not current",
}

// Column positions used by the fixture trees.
const (
	colAge   = 0
	colHbA1c = 4
)

// testScaler standardizes age, bmi, HbA1c and glucose; every other column
// passes through unchanged.
func testScaler(names []string) map[string]any {
	mean := make([]float64, len(names))
	scale := make([]float64, len(names))
	for i, n := range names {
		scale[i] = 1
		switch n {
		case "age":
			mean[i], scale[i] = 40, 20
		case "bmi":
			mean[i], scale[i] = 27, 6
		case "HbA1c_level":
			mean[i], scale[i] = 5.5, 1
		case "blood_glucose_level":
			mean[i], scale[i] = 138, 40
		}
	}
	return map[string]any{
		"n_features_in":    len(names),
		"feature_names_in": names,
		"mean":             mean,
		"scale":            scale,
	}
}

// stump is a depth-one xgboost tree: x[feature] < cond goes to left, else right.
func stump(feature int, cond, left, right float64, defaultLeft bool) map[string]any {
	dl := 0
	if defaultLeft {
		dl = 1
	}
	return map[string]any{
		"left_children":    []int{1, -1, -1},
		"right_children":   []int{2, -1, -1},
		"split_indices":    []int{feature, 0, 0},
		"split_conditions": []float64{cond, left, right},
		"default_left":     []int{dl, 0, 0},
	}
}

// testModel is two stumps on scaled HbA1c and scaled age with base_score 0.5,
// so the margin is the plain sum of the two leaves.
func testModel(numFeatures int, trees ...map[string]any) map[string]any {
	if len(trees) == 0 {
		trees = []map[string]any{
			stump(colHbA1c, 0.5, -1.0, 1.5, false),
			stump(colAge, 1.0, -0.5, 0.8, true),
		}
	}
	info := make([]int, len(trees))
	return map[string]any{
		"learner": map[string]any{
			"feature_names": []string{},
			"learner_model_param": map[string]any{
				"base_score":  "5E-1",
				"num_class":   "0",
				"num_feature": strconv.Itoa(numFeatures),
			},
			"objective": map[string]any{"name": "binary:logistic"},
			"gradient_booster": map[string]any{
				"name": "gbtree",
				"model": map[string]any{
					"trees":     trees,
					"tree_info": info,
				},
			},
		},
	}
}

// fixture is a models directory under construction.
type fixture struct {
	Manifest Manifest
	Columns  any
	Scaler   any
	Model    any
}

func newFixture() *fixture {
	return &fixture{
		Manifest: Manifest{
			Version:    "test-1",
			Encoding:   features.ConventionID,
			Classifier: ArtifactRef{Format: FormatXGBoostJSON, File: "model.json"},
			Scaler:     ArtifactRef{File: "scaler.json"},
			Columns:    ArtifactRef{File: "training_columns.json"},
		},
		Columns: testColumns,
		Scaler:  testScaler(testColumns),
		Model:   testModel(len(testColumns)),
	}
}

// write materializes the fixture in a temp dir and returns the dir.
func (f *fixture) write(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeJSON := func(name string, v any) {
		if v == nil {
			return
		}
		var data []byte
		if b, ok := v.([]byte); ok {
			data = b
		} else {
			var err error
			data, err = json.Marshal(v)
			require.NoError(t, err)
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	writeJSON(f.Manifest.Columns.File, f.Columns)
	writeJSON(f.Manifest.Scaler.File, f.Scaler)
	writeJSON(f.Manifest.Classifier.File, f.Model)

	m, err := yaml.Marshal(f.Manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), m, 0o644))
	return dir
}

// loadTestAssets writes the default fixture and loads it.
func loadTestAssets(t *testing.T) *Assets {
	t.Helper()
	a, err := LoadAssets(newFixture().write(t), LoadOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}
