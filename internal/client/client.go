// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/httpclient"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
)

// Client is a client for the stepchain API.
type Client struct {
	httpClient *http.Client

	// stream shares httpClient's transport without its timeout, for
	// server-sent event streams.
	stream  *http.Client
	baseURL string
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithLogger sets the logger for request logs of the default HTTP client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// New creates a client for the API at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &errors.ValidationError{
			Field:      "server",
			Message:    fmt.Sprintf("invalid server URL %q", baseURL),
			Suggestion: "use a URL such as http://localhost:8080",
		}
	}

	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = 30 * time.Second
		cfg.UserAgent = "stepchain-cli/1.0"
		cfg.Logger = c.logger
		if c.httpClient, err = httpclient.New(cfg); err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	stream := *c.httpClient
	stream.Timeout = 0
	c.stream = &stream

	return c, nil
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// HealthResponse is the response from /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// PlanSummary is a plan listed without its steps.
type PlanSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Steps       int      `json:"steps"`
	CostBudget  *float64 `json:"cost_budget,omitempty"`
}

// RunFilter narrows ListRuns. Zero fields are ignored.
type RunFilter struct {
	PlanID string
	Status plan.RunStatus
	Limit  int
	Offset int
}

// Health returns the server health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPlans returns every plan the server knows.
func (c *Client) ListPlans(ctx context.Context) ([]PlanSummary, error) {
	var out struct {
		Plans []PlanSummary `json:"plans"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/plans", nil, &out); err != nil {
		return nil, err
	}
	return out.Plans, nil
}

// GetPlan returns a plan with its steps.
func (c *Client) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	var out plan.Plan
	if err := c.do(ctx, http.MethodGet, "/v1/plans/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns returns runs, newest first.
func (c *Client) ListRuns(ctx context.Context, filter RunFilter) ([]*plan.Run, error) {
	q := url.Values{}
	if filter.PlanID != "" {
		q.Set("plan_id", filter.PlanID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	path := "/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Runs []*plan.Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// StartRun starts a run of planID. The returned run is pending.
func (c *Client) StartRun(ctx context.Context, planID string, metadata map[string]any) (*plan.Run, error) {
	body := map[string]any{"plan_id": planID}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	var out plan.Run
	if err := c.do(ctx, http.MethodPost, "/v1/runs", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun returns a run.
func (c *Client) GetRun(ctx context.Context, id string) (*plan.Run, error) {
	var out plan.Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStepRuns returns a run's step records ordered by step order.
func (c *Client) ListStepRuns(ctx context.Context, runID string) ([]*plan.StepRun, error) {
	var out struct {
		Steps []*plan.StepRun `json:"steps"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/steps", nil, &out); err != nil {
		return nil, err
	}
	return out.Steps, nil
}

// CancelRun cancels a run and returns its state afterwards.
func (c *Client) CancelRun(ctx context.Context, id string) (*plan.Run, error) {
	var out plan.Run
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModels returns the available models.
func (c *Client) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	var out struct {
		Models []llm.ModelInfo `json:"models"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// do sends a request with an optional JSON body and decodes the JSON
// response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// checkResponse converts an error status into *APIError, using the API's
// {"error": "..."} body when present.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
