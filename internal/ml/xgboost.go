package ml

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// XGBoostModel evaluates a gradient-boosted tree ensemble saved with
// XGBoost's JSON model format. Evaluation mirrors XGBoost: inputs and split
// thresholds are float32, x < threshold goes left, missing values follow
// default_left, and leaf values are summed in float32.
type XGBoostModel struct {
	numFeatures int
	baseMargin  float32
	trees       []xgbTree
	objective   string
}

type xgbTree struct {
	left        []int32
	right       []int32
	feature     []int32
	cond        []float32
	defaultLeft []bool
}

type xgbFile struct {
	Learner struct {
		FeatureNames     []string `json:"feature_names"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees    []xgbTreeFile `json:"trees"`
				TreeInfo []int         `json:"tree_info"`
			} `json:"model"`
		} `json:"gradient_booster"`
	} `json:"learner"`
}

type xgbTreeFile struct {
	LeftChildren    []int32   `json:"left_children"`
	RightChildren   []int32   `json:"right_children"`
	SplitIndices    []int32   `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     []xgbFlag `json:"default_left"`
}

// xgbFlag accepts both the integer and boolean encodings XGBoost has used.
type xgbFlag bool

func (f *xgbFlag) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true", "1":
		*f = true
	case "false", "0":
		*f = false
	default:
		return fmt.Errorf("invalid default_left value %s", b)
	}
	return nil
}

// ParseXGBoost decodes an XGBoost JSON model.
func ParseXGBoost(data []byte) (*XGBoostModel, error) {
	var f xgbFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse xgboost model: %w", err)
	}
	l := f.Learner

	objective := l.Objective.Name
	if objective != "binary:logistic" && objective != "reg:logistic" {
		return nil, fmt.Errorf("unsupported objective %q", objective)
	}
	if name := l.GradientBooster.Name; name != "gbtree" {
		return nil, fmt.Errorf("unsupported booster %q", name)
	}
	if nc := strings.TrimSpace(l.LearnerModelParam.NumClass); nc != "" && nc != "0" && nc != "1" {
		return nil, fmt.Errorf("expected a binary model, num_class=%s", nc)
	}

	numFeatures, err := strconv.Atoi(l.LearnerModelParam.NumFeature)
	if err != nil || numFeatures <= 0 {
		return nil, fmt.Errorf("invalid num_feature %q", l.LearnerModelParam.NumFeature)
	}

	baseScore, err := parseBaseScore(l.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	if baseScore <= 0 || baseScore >= 1 {
		return nil, fmt.Errorf("base_score %v outside (0, 1)", baseScore)
	}

	for i, g := range l.GradientBooster.Model.TreeInfo {
		if g != 0 {
			return nil, fmt.Errorf("tree %d belongs to output group %d", i, g)
		}
	}

	m := &XGBoostModel{
		numFeatures: numFeatures,
		baseMargin:  float32(-math.Log(1/baseScore - 1)),
		objective:   objective,
		trees:       make([]xgbTree, 0, len(l.GradientBooster.Model.Trees)),
	}
	for i, tf := range l.GradientBooster.Model.Trees {
		t, err := buildTree(tf, numFeatures)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		m.trees = append(m.trees, t)
	}
	if len(m.trees) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}
	return m, nil
}

// parseBaseScore handles both "5E-1" and the bracketed "[5E-1]" of newer releases.
func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return 0.5, nil
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return 0, fmt.Errorf("multi-target base_score %q not supported", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base_score %q: %w", s, err)
	}
	return v, nil
}

func buildTree(tf xgbTreeFile, numFeatures int) (xgbTree, error) {
	n := len(tf.LeftChildren)
	if n == 0 {
		return xgbTree{}, fmt.Errorf("empty tree")
	}
	if len(tf.RightChildren) != n || len(tf.SplitIndices) != n || len(tf.SplitConditions) != n || len(tf.DefaultLeft) != n {
		return xgbTree{}, fmt.Errorf("inconsistent node arrays")
	}

	t := xgbTree{
		left:        tf.LeftChildren,
		right:       tf.RightChildren,
		feature:     tf.SplitIndices,
		cond:        make([]float32, n),
		defaultLeft: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		t.cond[i] = float32(tf.SplitConditions[i])
		t.defaultLeft[i] = bool(tf.DefaultLeft[i])

		l, r := tf.LeftChildren[i], tf.RightChildren[i]
		if l == -1 {
			if r != -1 {
				return xgbTree{}, fmt.Errorf("node %d has only a right child", i)
			}
			continue
		}
		// Children always follow their parent, so traversal terminates.
		if int(l) <= i || int(l) >= n || int(r) <= i || int(r) >= n {
			return xgbTree{}, fmt.Errorf("node %d has invalid children %d/%d", i, l, r)
		}
		if f := tf.SplitIndices[i]; f < 0 || int(f) >= numFeatures {
			return xgbTree{}, fmt.Errorf("node %d splits on feature %d of %d", i, f, numFeatures)
		}
	}
	return t, nil
}

func (t *xgbTree) leaf(x []float32) float32 {
	n := int32(0)
	for t.left[n] != -1 {
		v := x[t.feature[n]]
		switch {
		case v != v: // NaN
			if t.defaultLeft[n] {
				n = t.left[n]
			} else {
				n = t.right[n]
			}
		case v < t.cond[n]:
			n = t.left[n]
		default:
			n = t.right[n]
		}
	}
	return t.cond[n]
}

// NumFeatures implements Classifier.
func (m *XGBoostModel) NumFeatures() int {
	return m.numFeatures
}

// NumTrees is the ensemble size.
func (m *XGBoostModel) NumTrees() int {
	return len(m.trees)
}

// Margin returns the raw log-odds for one row.
func (m *XGBoostModel) Margin(row []float64) (float64, error) {
	if len(row) != m.numFeatures {
		return 0, fmt.Errorf("model expects %d features, got %d", m.numFeatures, len(row))
	}
	x := make([]float32, len(row))
	for i, v := range row {
		x[i] = float32(v)
	}
	var sum float32
	for i := range m.trees {
		sum += m.trees[i].leaf(x)
	}
	return float64(sum + m.baseMargin), nil
}

// PredictProba implements Classifier.
func (m *XGBoostModel) PredictProba(row []float64) ([2]float64, error) {
	margin, err := m.Margin(row)
	if err != nil {
		return [2]float64{}, err
	}
	p := sigmoid(margin)
	return [2]float64{1 - p, p}, nil
}

// Close implements Classifier.
func (m *XGBoostModel) Close() error {
	return nil
}
