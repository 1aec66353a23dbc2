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

// Package metrics holds the Prometheus collectors for run execution. All
// collectors register with the default registry and are served by the API's
// /metrics endpoint.
package metrics

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/stepchain/pkg/llm"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepchain_runs_total",
			Help: "Total runs finished by terminal status",
		},
		[]string{"status"},
	)

	runsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepchain_runs_active",
			Help: "Runs currently executing",
		},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepchain_run_duration_seconds",
			Help:    "Wall time of finished runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"status"},
	)

	stepAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepchain_step_attempts_total",
			Help: "Step attempts by model and outcome (passed, criteria_failed, call_failed)",
		},
		[]string{"model", "outcome"},
	)

	modelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepchain_model_call_duration_seconds",
			Help:    "Latency of model calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	modelCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepchain_model_call_errors_total",
			Help: "Failed model calls by model and error kind",
		},
		[]string{"model", "kind"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepchain_tokens_total",
			Help: "Tokens consumed by model, including judge calls",
		},
		[]string{"model"},
	)

	costTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepchain_cost_usd_total",
			Help: "Estimated spend in USD by model, including judge calls",
		},
		[]string{"model"},
	)

	progressDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepchain_progress_events_dropped_total",
			Help: "Progress events dropped because a buffer was full",
		},
	)

	persistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepchain_persistence_errors_total",
			Help: "Total persistence operation errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)
)

// Step attempt outcomes.
const (
	OutcomePassed         = "passed"
	OutcomeCriteriaFailed = "criteria_failed"
	OutcomeCallFailed     = "call_failed"
)

// RunStarted marks a run as executing.
func RunStarted() {
	runsActive.Inc()
}

// RunFinished records a run reaching a terminal status.
func RunFinished(status string, elapsed time.Duration) {
	runsActive.Dec()
	runsTotal.WithLabelValues(status).Inc()
	runDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordAttempt counts one step attempt.
func RecordAttempt(model, outcome string) {
	stepAttempts.WithLabelValues(model, outcome).Inc()
}

// RecordModelCall observes one model call. err is nil on success.
func RecordModelCall(model string, elapsed time.Duration, err error) {
	modelCallDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	if err != nil {
		modelCallErrors.WithLabelValues(model, string(llm.KindOf(err))).Inc()
	}
}

// RecordUsage adds tokens and cost attributed to model.
func RecordUsage(model string, tokens int, cost float64) {
	if tokens > 0 {
		tokensTotal.WithLabelValues(model).Add(float64(tokens))
	}
	if cost > 0 {
		costTotal.WithLabelValues(model).Add(cost)
	}
}

// ProgressDropped counts one dropped progress event.
func ProgressDropped() {
	progressDropped.Inc()
}

// RecordPersistenceError increments the persistence error counter.
// operation names the store call, e.g. UpdateRun or CreateStepRun.
func RecordPersistenceError(operation string, err error) {
	persistenceErrors.WithLabelValues(operation, ErrorType(err)).Inc()
}

// ErrorType buckets err for the error_type label.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case stderrors.Is(err, context.Canceled):
		return "context_canceled"
	case stderrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "unknown"
	}
}
