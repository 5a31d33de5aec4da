// Package client is a typed HTTP client for a running prediction server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"diabetes-risk/internal/ml"
	"diabetes-risk/internal/patient"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    ml.ErrorCode
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("server returned %d %s: %s (%s)", e.Status, e.Code, e.Message, strings.Join(parts, "; "))
}

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict posts one record to /v1/predict.
func (c *Client) Predict(ctx context.Context, raw patient.Raw) (ml.PredictResponse, error) {
	var out ml.PredictResponse
	err := c.do(ctx, http.MethodPost, "/v1/predict", raw, &out)
	return out, err
}

// Explain posts one record to /v1/explain.
func (c *Client) Explain(ctx context.Context, raw patient.Raw) (ml.Trace, error) {
	var out ml.Trace
	err := c.do(ctx, http.MethodPost, "/v1/explain", raw, &out)
	return out, err
}

// Health reads /health. An unhealthy server answers 503 with a body, which is
// returned alongside the *APIError.
func (c *Client) Health(ctx context.Context) (ml.HealthResponse, error) {
	var out ml.HealthResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Get(c.base + "/health")
	if err != nil {
		return out, fmt.Errorf("health: %w", err)
	}
	if resp.IsError() {
		return out, &APIError{Status: resp.StatusCode(), Code: ml.ErrCodeAssetsNotReady, Message: out.LastError}
	}
	return out, nil
}

// ModelInfo reads /v1/model/info.
func (c *Client) ModelInfo(ctx context.Context) (ml.ModelInfo, error) {
	var out ml.ModelInfo
	err := c.do(ctx, http.MethodGet, "/v1/model/info", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := &ml.ErrorResponse{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &APIError{
			Status:  resp.StatusCode(),
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Fields:  apiErr.Fields,
		}
	}
	return nil
}
