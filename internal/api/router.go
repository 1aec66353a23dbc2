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

// Package api serves the stepchain HTTP API.
//
// Routes:
//
//	GET  /health
//	GET  /metrics
//	GET  /v1/plans
//	GET  /v1/plans/{id}
//	GET  /v1/plans/{id}/runs
//	GET  /v1/runs
//	POST /v1/runs
//	GET  /v1/runs/{id}
//	GET  /v1/runs/{id}/steps
//	POST /v1/runs/{id}/cancel
//	GET  /v1/runs/{id}/events   (server-sent events)
//	GET  /v1/events             (server-sent events, all runs)
//	GET  /v1/models
//	GET  /v1/models/cheapest
//	GET  /v1/models/{id}
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/internal/tracing"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
)

// RunController starts and cancels runs. *runner.Manager satisfies it.
type RunController interface {
	Start(ctx context.Context, planID string, metadata map[string]any) (*plan.Run, error)
	Cancel(ctx context.Context, runID string) error
}

// ModelCatalog serves model information. *catalog.Catalog satisfies it.
type ModelCatalog interface {
	Get(ctx context.Context, id string) (llm.ModelInfo, error)
	List(ctx context.Context) []llm.ModelInfo
	Cheapest(ctx context.Context) (llm.ModelInfo, error)
}

// ProgressSource streams progress events. *progress.Broadcaster satisfies it.
type ProgressSource interface {
	Subscribe(runID string) (<-chan plan.ProgressEvent, func())
}

// Config holds the router's dependencies.
type Config struct {
	Plans    store.PlanStore
	Runs     store.RunStore
	Runner   RunController
	Catalog  ModelCatalog
	Progress ProgressSource

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Version is reported by /health.
	Version string

	// Heartbeat is the interval between SSE keep-alive comments.
	// Default: 15s
	Heartbeat time.Duration

	Logger *slog.Logger
}

// Router routes API requests.
type Router struct {
	cfg     Config
	mux     *http.ServeMux
	logger  *slog.Logger
	started time.Time
}

// NewRouter creates a Router and registers all routes.
func NewRouter(cfg Config) *Router {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	r := &Router{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		logger:  log.WithComponent(log.OrDefault(cfg.Logger), "api"),
		started: time.Now(),
	}
	r.registerRoutes()
	return r
}

func (r *Router) registerRoutes() {
	r.mux.HandleFunc("GET /health", r.handleHealth)
	if r.cfg.Metrics != nil {
		r.mux.Handle("GET /metrics", r.cfg.Metrics)
	}

	r.mux.HandleFunc("GET /v1/plans", r.handleListPlans)
	r.mux.HandleFunc("GET /v1/plans/{id}", r.handleGetPlan)
	r.mux.HandleFunc("GET /v1/plans/{id}/runs", r.handleListPlanRuns)

	r.mux.HandleFunc("GET /v1/runs", r.handleListRuns)
	r.mux.HandleFunc("POST /v1/runs", r.handleStartRun)
	r.mux.HandleFunc("GET /v1/runs/{id}", r.handleGetRun)
	r.mux.HandleFunc("GET /v1/runs/{id}/steps", r.handleListSteps)
	r.mux.HandleFunc("POST /v1/runs/{id}/cancel", r.handleCancelRun)
	r.mux.HandleFunc("GET /v1/runs/{id}/events", r.handleRunEvents)
	r.mux.HandleFunc("GET /v1/events", r.handleAllEvents)

	r.mux.HandleFunc("GET /v1/models", r.handleListModels)
	r.mux.HandleFunc("GET /v1/models/cheapest", r.handleCheapestModel)
	r.mux.HandleFunc("GET /v1/models/{id}", r.handleGetModel)
}

// Handler returns the router wrapped in request logging and trace context
// extraction.
func (r *Router) Handler() http.Handler {
	return tracing.HTTPMiddleware(log.HTTPMiddleware(r.logger, r.mux))
}

// ServeHTTP implements http.Handler without middleware.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
