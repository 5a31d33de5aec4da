package ml

import (
	"context"
	"fmt"
	"time"

	"diabetes-risk/internal/common"
	"diabetes-risk/internal/features"
	"diabetes-risk/internal/patient"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the service
type MetricsInterface interface {
	PredictionsInc()
	FailuresInc(kind string)
	LatencyObserve(seconds float64)
	ProbabilityObserve(p float64)
	AssetsLoadedSet(loaded bool)
	ModelAgeSet(seconds float64)
}

// PredictionResult is the two-class output. The probabilities sum to 1.
type PredictionResult struct {
	NoDiabetes float64 `json:"no_diabetes"`
	Diabetes   float64 `json:"diabetes"`
}

// Prediction is the binary decision: 1 when diabetes is more likely than not.
func (r PredictionResult) Prediction() int {
	if r.Diabetes > 0.5 {
		return 1
	}
	return 0
}

// Labels maps the outcome labels to their probabilities.
func (r PredictionResult) Labels() map[string]float64 {
	return map[string]float64{
		common.LabelNoDiabetes: r.NoDiabetes,
		common.LabelDiabetes:   r.Diabetes,
	}
}

// Trace exposes every intermediate stage of one prediction.
type Trace struct {
	Record  patient.InputRecord `json:"record"`
	Encoded features.EncodedRow `json:"encoded"`
	Dropped []string            `json:"dropped_columns"`
	Columns []string            `json:"columns"`
	Aligned features.AlignedRow `json:"aligned"`
	Scaled  ScaledRow           `json:"scaled"`
	Result  PredictionResult    `json:"result"`
}

// Service is the prediction context shared by all requests. It never changes
// after construction, so concurrent use needs no locking.
type Service struct {
	assets  *Assets
	loadErr error
	metrics MetricsInterface
}

// NewService builds a ready service over loaded assets. metrics may be nil.
func NewService(assets *Assets, metrics MetricsInterface) *Service {
	s := &Service{assets: assets, metrics: metrics}
	if metrics != nil {
		metrics.AssetsLoadedSet(true)
		if !assets.ModelModTime.IsZero() {
			metrics.ModelAgeSet(time.Since(assets.ModelModTime).Seconds())
		}
	}
	return s
}

// NewUnavailableService builds a service that rejects every request because
// the artifacts failed to load.
func NewUnavailableService(loadErr error, metrics MetricsInterface) *Service {
	if loadErr == nil {
		loadErr = common.ErrAssetsNotLoaded
	}
	if metrics != nil {
		metrics.AssetsLoadedSet(false)
	}
	return &Service{loadErr: loadErr, metrics: metrics}
}

// Ready returns nil when predictions can be served.
func (s *Service) Ready() error {
	if s == nil || s.assets == nil {
		cause := common.ErrAssetsNotLoaded
		if s != nil && s.loadErr != nil {
			cause = fmt.Errorf("%w: %w", common.ErrAssetsNotLoaded, s.loadErr)
		}
		return &common.Error{Kind: common.KindAssetLoad, Op: "ml.Service", Message: common.ErrMsgAssetsNotLoaded, Err: cause}
	}
	return nil
}

// LoadError is the startup failure of an unavailable service.
func (s *Service) LoadError() error {
	return s.loadErr
}

// Assets returns the loaded artifacts, or nil when unavailable.
func (s *Service) Assets() *Assets {
	return s.assets
}

// Predict runs the full pipeline for a typed record. An unavailable service
// fails before looking at the record; otherwise the record is validated, so an
// invalid record never reaches the encoder.
func (s *Service) Predict(ctx context.Context, rec patient.InputRecord) (PredictionResult, error) {
	if err := s.checkReady(); err != nil {
		return PredictionResult{}, err
	}
	if err := rec.Validate(); err != nil {
		s.recordFailure(err)
		return PredictionResult{}, err
	}
	t, err := s.run(ctx, rec)
	return t.Result, err
}

// PredictRaw validates a raw request and runs the pipeline.
func (s *Service) PredictRaw(ctx context.Context, raw patient.Raw) (PredictionResult, error) {
	if err := s.checkReady(); err != nil {
		return PredictionResult{}, err
	}
	rec, err := patient.Validate(raw)
	if err != nil {
		s.recordFailure(err)
		return PredictionResult{}, err
	}
	t, err := s.run(ctx, rec)
	return t.Result, err
}

// Explain runs the pipeline and returns every intermediate stage.
func (s *Service) Explain(ctx context.Context, rec patient.InputRecord) (Trace, error) {
	if err := s.checkReady(); err != nil {
		return Trace{}, err
	}
	if err := rec.Validate(); err != nil {
		s.recordFailure(err)
		return Trace{}, err
	}
	return s.run(ctx, rec)
}

func (s *Service) run(ctx context.Context, rec patient.InputRecord) (t Trace, err error) {
	const op = "ml.Service.Predict"
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = common.NewInferenceError(op, fmt.Errorf("panic: %v", r))
			t = Trace{}
		}
		if s.metrics != nil {
			s.metrics.LatencyObserve(time.Since(start).Seconds())
		}
		if err != nil {
			s.recordFailure(err)
			return
		}
		if s.metrics != nil {
			s.metrics.PredictionsInc()
			s.metrics.ProbabilityObserve(t.Result.Diabetes)
		}
	}()

	if err := s.Ready(); err != nil {
		return Trace{}, err
	}
	if err := ctx.Err(); err != nil {
		return Trace{}, common.NewInferenceError(op, err)
	}

	a := s.assets
	t.Record = rec
	t.Encoded = features.Encode(rec)
	t.Dropped = features.Dropped(t.Encoded, a.Schema)
	t.Columns = a.Schema.Names()
	t.Aligned = features.Align(t.Encoded, a.Schema)

	if t.Scaled, err = a.Scaler.Transform(t.Aligned); err != nil {
		return Trace{}, err
	}
	if got, want := a.Classifier.NumFeatures(), len(t.Scaled); got != want {
		return Trace{}, common.NewSchemaMismatchError(op, "classifier expects %d features, scaled row has %d", got, want)
	}

	proba, err := a.Classifier.PredictProba(t.Scaled)
	if err != nil {
		return Trace{}, common.NewInferenceError(op, err)
	}
	if proba, err = checkProbabilities(proba); err != nil {
		return Trace{}, common.NewInferenceError(op, err)
	}
	t.Result = PredictionResult{NoDiabetes: proba[0], Diabetes: proba[1]}

	log.Debug().
		Floats64("aligned", t.Aligned).
		Float64("p_diabetes", t.Result.Diabetes).
		Msg("Prediction successful")

	return t, nil
}

func (s *Service) checkReady() error {
	if err := s.Ready(); err != nil {
		s.recordFailure(err)
		return err
	}
	return nil
}

func (s *Service) recordFailure(err error) {
	if s.metrics != nil {
		s.metrics.FailuresInc(common.KindOf(err).String())
	}
}
