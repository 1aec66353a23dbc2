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

// Package executor runs plans: the Orchestrator walks a plan's steps in
// order and the StepRunner executes each step with retries.
//
// A run moves pending → running → completed | failed | cancelled and
// reaches exactly one terminal state. Run totals are the sum of the totals
// reported by each step, judge calls included.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/metrics"
	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/internal/tracing"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/plan"
	"github.com/tombee/stepchain/pkg/promptctx"
)

// ProgressSink receives progress events. Publish must not block.
type ProgressSink interface {
	Publish(ev plan.ProgressEvent)
}

// StepExecutor runs one step. *StepRunner satisfies it.
type StepExecutor interface {
	Run(ctx context.Context, runID string, step plan.Step, incoming string, prior []promptctx.StepOutput) (StepResult, error)
}

// Result summarises a finished run.
type Result struct {
	RunID       string
	PlanID      string
	Status      plan.RunStatus
	TotalCost   float64
	TotalTokens int
	Error       string

	// Outputs holds the raw response of every completed step.
	Outputs []promptctx.StepOutput
}

// Orchestrator executes runs.
type Orchestrator struct {
	plans     store.PlanStore
	runs      store.RunStore
	steps     StepExecutor
	extractor *promptctx.Extractor
	sink      ProgressSink
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgress sets the progress sink.
func WithProgress(sink ProgressSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithExtractor sets the context extractor.
func WithExtractor(e *promptctx.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock sets the clock used for run timestamps and events.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(plans store.PlanStore, runs store.RunStore, steps StepExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		plans: plans,
		runs:  runs,
		steps: steps,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = log.WithComponent(log.OrDefault(o.logger), "orchestrator")
	if o.extractor == nil {
		o.extractor = promptctx.NewExtractor(promptctx.DefaultSummaryThreshold, o.logger)
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("stepchain")
	}
	return o
}

// runState is the accumulated state of one run.
type runState struct {
	runID      string
	planID     string
	totalSteps int
	completed  int
	cost       float64
	tokens     int
	outputs    []promptctx.StepOutput
}

// errCancelled stops execution when the run has been cancelled.
var errCancelled = stderrors.New("run cancelled")

// Run executes the steps of planID for the existing run runID and settles
// the run in exactly one terminal state. It never returns an error and
// never panics; failures are recorded on the run and in the Result.
func (o *Orchestrator) Run(ctx context.Context, planID, runID string) (res Result) {
	start := time.Now()
	logger := log.WithRunContext(o.logger, runID, planID)
	st := &runState{runID: runID, planID: planID}

	ctx, span := tracing.StartRun(ctx, o.tracer, runID, planID)
	metrics.RunStarted()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "panic", r)
			res = o.settle(ctx, st, plan.RunFailed, fmt.Sprintf("internal error: %v", r))
		}

		metrics.RunFinished(string(res.Status), time.Since(start))
		span.SetAttributes(map[string]any{
			"run.status":       string(res.Status),
			"run.total_cost":   res.TotalCost,
			"run.total_tokens": res.TotalTokens,
		})
		if res.Status == plan.RunCompleted {
			span.OK()
		} else {
			span.Fail(res.Error)
		}
		span.End()
	}()

	err := o.execute(ctx, st, logger)
	switch {
	case err == nil:
		logger.Info("run completed", "cost", st.cost, "tokens", st.tokens)
		return o.settle(ctx, st, plan.RunCompleted, "")
	case stderrors.Is(err, errCancelled):
		logger.Info("run cancelled", "completed_steps", st.completed)
		return o.settle(ctx, st, plan.RunCancelled, "run cancelled")
	default:
		logger.Warn("run failed", log.Error(err))
		return o.settle(ctx, st, plan.RunFailed, err.Error())
	}
}

func (o *Orchestrator) execute(ctx context.Context, st *runState, logger *slog.Logger) error {
	p, err := o.plans.GetPlanWithSteps(ctx, st.planID)
	if err != nil {
		return err
	}
	if len(p.Steps) == 0 {
		return &errors.EmptyPlanError{PlanID: st.planID}
	}

	steps := slices.Clone(p.Steps)
	slices.SortStableFunc(steps, func(a, b plan.Step) int { return a.Order - b.Order })
	st.totalSteps = len(steps)

	run, err := o.runs.GetRun(ctx, st.runID)
	if err != nil {
		return err
	}
	if run.Status == plan.RunCancelled {
		return errCancelled
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", st.runID, run.Status)
	}

	now := o.now()
	run.Status = plan.RunRunning
	run.StartedAt = &now
	if err := o.runs.UpdateRun(ctx, run); err != nil {
		metrics.RecordPersistenceError("update_run", err)
		return fmt.Errorf("mark run running: %w", err)
	}
	logger.Info("run started", "steps", st.totalSteps)
	o.publish(st, plan.RunRunning, 0, "")

	var incoming string
	for idx, step := range steps {
		if o.cancelled(ctx, st.runID) {
			return errCancelled
		}
		o.publish(st, plan.RunRunning, idx+1, "")

		result, err := o.steps.Run(ctx, st.runID, step, incoming, st.outputs)
		if err != nil {
			return err
		}

		st.cost += result.Cost
		st.tokens += result.Tokens

		if p.CostBudget != nil && st.cost > *p.CostBudget {
			return &errors.BudgetExceededError{Budget: *p.CostBudget, Actual: st.cost}
		}

		if !result.Success {
			if o.cancelled(ctx, st.runID) {
				return errCancelled
			}
			return &errors.StepFailedError{Order: step.Order, Name: step.Name, Reason: result.Error}
		}

		incoming = o.extractor.Extract(result.Output, step.ContextMode, step.ContextSelector)
		st.outputs = append(st.outputs, promptctx.StepOutput{Order: step.Order, Output: result.Output})
		st.completed++
	}
	return nil
}

// cancelled reports whether ctx is done or the stored run was cancelled.
func (o *Orchestrator) cancelled(ctx context.Context, runID string) bool {
	if ctx.Err() != nil {
		return true
	}
	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		o.logger.Warn("failed to re-read run status", log.RunIDKey, runID, log.Error(err))
		return false
	}
	return run.Status == plan.RunCancelled
}

// settle writes the terminal state. A run that is already terminal in the
// store, typically cancelled, is left untouched and reported as stored.
func (o *Orchestrator) settle(ctx context.Context, st *runState, status plan.RunStatus, errMsg string) Result {
	ctx = context.WithoutCancel(ctx)

	run, err := o.runs.GetRun(ctx, st.runID)
	switch {
	case err != nil:
		metrics.RecordPersistenceError("get_run", err)
		o.logger.Error("failed to load run for final update", log.RunIDKey, st.runID, log.Error(err))
	case run.Status.Terminal():
		status = run.Status
		errMsg = run.Error
	default:
		now := o.now()
		run.Status = status
		run.TotalCost = st.cost
		run.TotalTokens = st.tokens
		run.Error = errMsg
		run.CompletedAt = &now
		if err := o.runs.UpdateRun(ctx, run); err != nil {
			metrics.RecordPersistenceError("update_run", err)
			o.logger.Error("failed to persist run result", log.RunIDKey, st.runID, log.Error(err))
		}
	}

	o.publish(st, status, 0, errMsg)

	return Result{
		RunID:       st.runID,
		PlanID:      st.planID,
		Status:      status,
		TotalCost:   st.cost,
		TotalTokens: st.tokens,
		Error:       errMsg,
		Outputs:     st.outputs,
	}
}

func (o *Orchestrator) publish(st *runState, status plan.RunStatus, current int, errMsg string) {
	if o.sink == nil {
		return
	}
	completed := st.completed
	if current > 0 {
		completed = current - 1
	}
	o.sink.Publish(plan.ProgressEvent{
		RunID:          st.runID,
		Status:         status,
		CurrentStep:    current,
		TotalSteps:     st.totalSteps,
		CompletedSteps: completed,
		TotalCost:      st.cost,
		TotalTokens:    st.tokens,
		Error:          errMsg,
		Timestamp:      o.now(),
	})
}
