package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"diabetes-risk/internal/common"
	"diabetes-risk/internal/patient"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxRequestBytes = 64 << 10

// HTTPMetrics records per-route request outcomes.
type HTTPMetrics interface {
	RequestObserve(route string, code int)
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RateLimit      int // requests per minute per client IP, 0 disables
	MetricsHandler http.Handler
	Metrics        HTTPMetrics
}

// ModelServer provides the HTTP API for predictions
type ModelServer struct {
	service *Service
	config  ServerConfig
	server  *http.Server
	started time.Time
}

// ErrorCode represents machine-readable error codes
type ErrorCode string

const (
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidJSON    ErrorCode = "INVALID_JSON"
	ErrCodeAssetsNotReady ErrorCode = "ASSETS_NOT_LOADED"
	ErrCodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"
	ErrCodeInference      ErrorCode = "INFERENCE_ERROR"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      ErrorCode         `json:"code"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// PredictResponse carries both result shapes: the label map and the binary decision.
type PredictResponse struct {
	Prediction          int                `json:"prediction"`
	ProbabilityDiabetes float64            `json:"prediction_probability_diabetes"`
	Probabilities       map[string]float64 `json:"probabilities"`
	ModelVersion        string             `json:"model_version"`
	PredictionID        string             `json:"prediction_id"`
	Disclaimer          string             `json:"disclaimer"`
}

// HealthResponse reports whether predictions can be served.
type HealthResponse struct {
	Healthy       bool    `json:"healthy"`
	ModelLoaded   bool    `json:"model_loaded"`
	ModelVersion  string  `json:"model_version,omitempty"`
	Encoding      string  `json:"encoding,omitempty"`
	LastError     string  `json:"last_error,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ModelInfo describes the loaded artifacts.
type ModelInfo struct {
	Version          string            `json:"version"`
	Encoding         string            `json:"encoding"`
	TrainedAt        time.Time         `json:"trained_at"`
	ClassifierFormat string            `json:"classifier_format"`
	NumFeatures      int               `json:"num_features"`
	Columns          []string          `json:"columns"`
	Fingerprints     map[string]string `json:"fingerprints"`
	Labels           []string          `json:"labels"`
	Disclaimer       string            `json:"disclaimer"`
}

// NewModelServer creates a new HTTP server for model serving
func NewModelServer(service *Service, cfg ServerConfig) *ModelServer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	ms := &ModelServer{service: service, config: cfg, started: time.Now()}
	ms.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           ms.Router(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return ms
}

// Router builds the route table.
func (ms *ModelServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog(ms.config.Metrics), middleware.Recoverer)
	r.Use(middleware.Timeout(ms.config.RequestTimeout))

	r.Get("/health", ms.handleHealth)
	if ms.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", ms.config.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if ms.config.RateLimit > 0 {
			r.Use(httprate.LimitByIP(ms.config.RateLimit, time.Minute))
		}
		r.Post("/predict", ms.handlePredict)
		r.Post("/v1/predict", ms.handlePredict)
		r.Post("/v1/explain", ms.handleExplain)
	})
	r.Get("/v1/model/info", ms.handleModelInfo)

	return r
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if err := ms.service.checkReady(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	raw, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	result, err := ms.service.PredictRaw(r.Context(), raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		Prediction:          result.Prediction(),
		ProbabilityDiabetes: result.Diabetes,
		Probabilities:       result.Labels(),
		ModelVersion:        ms.service.Assets().Manifest.Version,
		PredictionID:        uuid.New().String(),
		Disclaimer:          common.Disclaimer,
	})
}

func (ms *ModelServer) handleExplain(w http.ResponseWriter, r *http.Request) {
	if err := ms.service.checkReady(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	raw, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	rec, err := patient.Validate(raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	trace, err := ms.service.Explain(r.Context(), rec)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := HealthResponse{UptimeSeconds: time.Since(ms.started).Seconds()}
	status := http.StatusOK
	if err := ms.service.Ready(); err != nil {
		status = http.StatusServiceUnavailable
		if le := ms.service.LoadError(); le != nil {
			health.LastError = le.Error()
		} else {
			health.LastError = err.Error()
		}
	} else {
		a := ms.service.Assets()
		health.Healthy = true
		health.ModelLoaded = true
		health.ModelVersion = a.Manifest.Version
		health.Encoding = a.Manifest.Encoding
	}
	writeJSON(w, status, health)
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if err := ms.service.Ready(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a := ms.service.Assets()
	fingerprints := make(map[string]string, len(a.Fingerprints))
	for k, v := range a.Fingerprints {
		fingerprints[k] = v
	}
	writeJSON(w, http.StatusOK, ModelInfo{
		Version:          a.Manifest.Version,
		Encoding:         a.Manifest.Encoding,
		TrainedAt:        a.Manifest.TrainedAt,
		ClassifierFormat: a.Manifest.Classifier.Format,
		NumFeatures:      a.Schema.Len(),
		Columns:          a.Schema.Names(),
		Fingerprints:     fingerprints,
		Labels:           []string{common.LabelNoDiabetes, common.LabelDiabetes},
		Disclaimer:       common.Disclaimer,
	})
}

// decodeRecord reads a JSON object or form body into a raw record.
func decodeRecord(w http.ResponseWriter, r *http.Request) (patient.Raw, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxRequestBytes)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("invalid form: %v", err), nil)
			return nil, false
		}
		return patient.FromForm(r.PostForm), true
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw patient.Raw
	if err := dec.Decode(&raw); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidJSON, fmt.Sprintf("invalid request: %v", err), nil)
		return nil, false
	}
	if raw == nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidJSON, "request body must be a JSON object", nil)
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidJSON, "request body must hold a single JSON object", nil)
		return nil, false
	}
	return raw, true
}

// writeServiceError maps an error kind to a status code and structured body.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var e *common.Error
	if !errors.As(err, &e) {
		log.Error().Err(err).Msg("unclassified prediction error")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "internal error", nil)
		return
	}

	switch e.Kind {
	case common.KindValidation:
		writeError(w, r, http.StatusBadRequest, ErrCodeValidation, e.Message, e.Fields)
		return
	case common.KindAssetLoad:
		writeError(w, r, http.StatusInternalServerError, ErrCodeAssetsNotReady, common.ErrMsgAssetsNotLoaded, nil)
	case common.KindSchemaMismatch:
		writeError(w, r, http.StatusInternalServerError, ErrCodeSchemaMismatch, e.Error(), nil)
	default:
		msg := e.Message
		if e.Err != nil {
			msg = e.Err.Error()
		}
		writeError(w, r, http.StatusInternalServerError, ErrCodeInference, "Prediction Error: "+msg, nil)
	}
	log.Error().Err(err).Str("kind", e.Kind.String()).Str("request_id", middleware.GetReqID(r.Context())).Msg("prediction failed")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string, fields map[string]string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		Fields:    fields,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func accessLog(m HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			if m != nil {
				m.RequestObserve(route, status)
			}
			log.Info().
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
