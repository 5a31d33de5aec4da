package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"diabetes-risk/internal/common"
	"diabetes-risk/internal/ml"
	"diabetes-risk/internal/patient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Predict(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/predict", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, ml.PredictResponse{
			Prediction:          1,
			ProbabilityDiabetes: 0.91,
			Probabilities:       map[string]float64{common.LabelNoDiabetes: 0.09, common.LabelDiabetes: 0.91},
			ModelVersion:        "v1",
			PredictionID:        "abc",
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	resp, err := c.Predict(context.Background(), patient.Sample().Raw())
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Prediction)
	assert.InDelta(t, 0.91, resp.ProbabilityDiabetes, 1e-12)
	assert.Equal(t, "v1", resp.ModelVersion)
	assert.Equal(t, "Female", got[patient.FieldGender])
	assert.Equal(t, 6.6, got[patient.FieldHbA1cLevel])
}

func TestClient_ValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, ml.ErrorResponse{
			Error:   "Bad Request",
			Message: "invalid input record",
			Code:    ml.ErrCodeValidation,
			Fields:  map[string]string{"gender": `unknown category "X"`},
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Predict(context.Background(), patient.Raw{"gender": "X"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, ml.ErrCodeValidation, apiErr.Code)
	assert.Contains(t, apiErr.Fields, "gender")
	assert.Contains(t, apiErr.Error(), "gender")
}

func TestAPIError_FieldsInKeyOrder(t *testing.T) {
	e := &APIError{
		Status:  http.StatusBadRequest,
		Code:    ml.ErrCodeValidation,
		Message: "invalid input record",
		Fields:  map[string]string{"smoking_history": "s", "age": "a", "bmi": "b", "gender": "g"},
	}
	want := "server returned 400 VALIDATION_ERROR: invalid input record (age: a; bmi: b; gender: g; smoking_history: s)"
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, e.Error())
	}
}

func TestClient_HealthUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, ml.HealthResponse{LastError: "read manifest: no such file"})
	}))
	defer srv.Close()

	h, err := New(srv.URL, time.Second).Health(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.False(t, h.Healthy)
	assert.Equal(t, "read manifest: no such file", h.LastError)
}

func TestClient_ModelInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/model/info", r.URL.Path)
		writeJSON(w, http.StatusOK, ml.ModelInfo{Version: "v1", NumFeatures: 13, Columns: []string{"age"}})
	}))
	defer srv.Close()

	info, err := New(srv.URL, 0).ModelInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", info.Version)
	assert.Equal(t, 13, info.NumFeatures)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, 200*time.Millisecond).ModelInfo(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
