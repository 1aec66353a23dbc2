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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/metrics"
	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/internal/tracing"
	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
	"github.com/tombee/stepchain/pkg/promptctx"
)

// Evaluator checks a response against a completion policy.
// *criteria.Evaluator satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, response string, c criteria.Criteria) criteria.Result
}

// StepResult is the outcome of running one step, retries included.
type StepResult struct {
	StepRunID string
	Success   bool

	// Output is the raw text of the accepted response.
	Output string

	// Cost and Tokens include every attempt and every judge call.
	Cost   float64
	Tokens int

	// Attempts is the number of model calls made.
	Attempts int

	// Error is the failure message when Success is false.
	Error string
}

// StepRunner executes a single step: prompt assembly, model call, criteria
// evaluation and retries with exponential backoff.
type StepRunner struct {
	client      llm.Client
	evaluator   Evaluator
	runs        store.RunStore
	costs       criteria.CostCalculator
	sleeper     Sleeper
	backoffBase time.Duration
	temperature float64
	maxTokens   int
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// StepOption configures a StepRunner.
type StepOption func(*StepRunner)

// WithCosts prices model calls. Without it every call costs zero.
func WithCosts(costs criteria.CostCalculator) StepOption {
	return func(r *StepRunner) { r.costs = costs }
}

// WithSleeper replaces the timer used between attempts.
func WithSleeper(s Sleeper) StepOption {
	return func(r *StepRunner) { r.sleeper = s }
}

// WithBackoffBase sets the backoff base.
func WithBackoffBase(base time.Duration) StepOption {
	return func(r *StepRunner) { r.backoffBase = base }
}

// WithGeneration sets the temperature and token limit sent with step calls.
func WithGeneration(temperature float64, maxTokens int) StepOption {
	return func(r *StepRunner) {
		r.temperature = temperature
		r.maxTokens = maxTokens
	}
}

// WithStepTracer sets the tracer used for step spans.
func WithStepTracer(tracer trace.Tracer) StepOption {
	return func(r *StepRunner) { r.tracer = tracer }
}

// WithStepLogger sets the logger.
func WithStepLogger(logger *slog.Logger) StepOption {
	return func(r *StepRunner) { r.logger = logger }
}

// WithStepClock sets the clock used for step run timestamps.
func WithStepClock(now func() time.Time) StepOption {
	return func(r *StepRunner) { r.now = now }
}

// NewStepRunner creates a StepRunner.
func NewStepRunner(client llm.Client, evaluator Evaluator, runs store.RunStore, opts ...StepOption) *StepRunner {
	r := &StepRunner{
		client:      client,
		evaluator:   evaluator,
		runs:        runs,
		sleeper:     TimerSleeper{},
		backoffBase: DefaultBackoffBase,
		temperature: llm.DefaultTemperature,
		maxTokens:   llm.DefaultMaxTokens,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("stepchain")
	}
	r.logger = log.WithComponent(log.OrDefault(r.logger), "step_runner")
	return r
}

// Run executes step for runID. incoming is the context carried from the
// previous step and prior lists every earlier step's extracted output.
//
// The returned error is reserved for infrastructure failures that prevent
// the step from being recorded at all. Model and criteria failures are
// reported through StepResult.
func (r *StepRunner) Run(ctx context.Context, runID string, step plan.Step, incoming string, prior []promptctx.StepOutput) (StepResult, error) {
	ctx, span := tracing.StartStep(ctx, r.tracer, step.Order, step.Name, step.ModelID)
	defer span.End()

	logger := log.WithStepContext(r.logger, runID, step.Order).With(log.ModelKey, step.ModelID)

	started := r.now()
	sr := &plan.StepRun{
		ID:          uuid.NewString(),
		RunID:       runID,
		StepID:      step.ID,
		StepOrder:   step.Order,
		Status:      plan.StepRunning,
		ContextUsed: incoming,
		StartedAt:   &started,
	}
	if err := r.runs.CreateStepRun(ctx, sr); err != nil {
		metrics.RecordPersistenceError("create_step_run", err)
		span.RecordError(err)
		return StepResult{}, fmt.Errorf("create step run: %w", err)
	}

	res := StepResult{StepRunID: sr.ID}
	sr.Prompt = promptctx.Inject(step.PromptTemplate, incoming, prior)
	log.Trace(logger, "step prompt", slog.String("prompt", sr.Prompt))

	for attempt := 0; attempt <= step.RetryLimit; attempt++ {
		sr.RetryCount = attempt
		if attempt > 0 {
			sr.Status = plan.StepRetrying
		}
		r.persist(ctx, sr)
		res.Attempts = attempt + 1
		attemptLogger := logger.With(log.AttemptKey, attempt)

		resp, err := r.call(ctx, step, sr.Prompt)
		if err != nil {
			metrics.RecordAttempt(step.ModelID, metrics.OutcomeCallFailed)
			span.AddEvent("attempt.call_failed", map[string]any{"attempt": attempt, "error": err.Error()})
			attemptLogger.Warn("model call failed", log.Error(err), "kind", string(llm.KindOf(err)))

			if ctx.Err() != nil {
				return r.fail(ctx, span, sr, res, fmt.Sprintf("run cancelled: %v", ctx.Err())), nil
			}
			if attempt < step.RetryLimit {
				if err := r.sleep(ctx, attempt); err != nil {
					return r.fail(ctx, span, sr, res, fmt.Sprintf("run cancelled: %v", err)), nil
				}
				continue
			}
			return r.fail(ctx, span, sr, res, fmt.Sprintf("model call failed after %d attempts: %v", attempt+1, err)), nil
		}

		callCost := r.cost(ctx, step.ModelID, resp.Usage)
		callTokens := resp.Usage.Total()
		res.Cost += callCost
		res.Tokens += callTokens
		metrics.RecordUsage(step.ModelID, callTokens, callCost)
		log.Trace(attemptLogger, "step response", slog.String("response", resp.Content))

		eval := r.evaluate(ctx, resp.Content, step.Criteria)
		res.Cost += eval.Cost
		res.Tokens += eval.TokensUsed

		sr.Response = resp.Content
		sr.Evaluation = &eval
		sr.Cost = res.Cost
		sr.Tokens = res.Tokens

		if eval.Passed {
			metrics.RecordAttempt(step.ModelID, metrics.OutcomePassed)
			completed := r.now()
			sr.Status = plan.StepCompleted
			sr.CompletedAt = &completed
			r.persist(ctx, sr)

			res.Success = true
			res.Output = resp.Content
			span.SetAttributes(map[string]any{
				"step.attempts": res.Attempts,
				"step.cost":     res.Cost,
				"step.tokens":   res.Tokens,
			})
			span.OK()
			attemptLogger.Info("step completed", "cost", res.Cost, "tokens", res.Tokens)
			return res, nil
		}

		metrics.RecordAttempt(step.ModelID, metrics.OutcomeCriteriaFailed)
		span.AddEvent("attempt.criteria_failed", map[string]any{"attempt": attempt, "reason": eval.Reason})
		attemptLogger.Info("completion criteria not met", "reason", eval.Reason, "conclusive", eval.Conclusive)

		if attempt < step.RetryLimit {
			if err := r.sleep(ctx, attempt); err != nil {
				return r.fail(ctx, span, sr, res, fmt.Sprintf("run cancelled: %v", err)), nil
			}
			continue
		}
		return r.fail(ctx, span, sr, res, fmt.Sprintf("completion criteria not met after %d attempts: %s", attempt+1, eval.Reason)), nil
	}

	// Unreachable for RetryLimit >= 0; plan validation rejects negatives.
	return r.fail(ctx, span, sr, res, fmt.Sprintf("invalid retry limit %d", step.RetryLimit)), nil
}

func (r *StepRunner) call(ctx context.Context, step plan.Step, prompt string) (*llm.Response, error) {
	start := time.Now()
	resp, err := r.client.Complete(ctx, llm.Request{
		Model:       step.ModelID,
		Prompt:      prompt,
		Temperature: llm.Float64(r.temperature),
		MaxTokens:   llm.Int(r.maxTokens),
	})
	metrics.RecordModelCall(step.ModelID, time.Since(start), err)
	if err == nil && resp == nil {
		err = &llm.CallError{Kind: llm.ErrorKindGeneric, Message: "empty response"}
	}
	return resp, err
}

func (r *StepRunner) cost(ctx context.Context, modelID string, usage llm.TokenUsage) float64 {
	if r.costs == nil {
		return 0
	}
	return r.costs.CalculateCost(ctx, modelID, usage.PromptTokens, usage.CompletionTokens)
}

// evaluate accepts any response when the step has no policy.
func (r *StepRunner) evaluate(ctx context.Context, response string, c criteria.Criteria) criteria.Result {
	if c == nil {
		return criteria.Result{Passed: true, Reason: "no completion criteria", Conclusive: true}
	}
	return r.evaluator.Evaluate(ctx, response, c)
}

// sleep waits before the attempt following attempt.
func (r *StepRunner) sleep(ctx context.Context, attempt int) error {
	return r.sleeper.Sleep(ctx, Backoff(r.backoffBase, attempt+1))
}

func (r *StepRunner) fail(ctx context.Context, span *tracing.Span, sr *plan.StepRun, res StepResult, msg string) StepResult {
	completed := r.now()
	sr.Status = plan.StepFailed
	sr.Error = msg
	sr.Cost = res.Cost
	sr.Tokens = res.Tokens
	sr.CompletedAt = &completed
	r.persist(ctx, sr)

	span.Fail(msg)
	r.logger.Warn("step failed", log.RunIDKey, sr.RunID, log.StepOrderKey, sr.StepOrder, "error", msg)

	res.Success = false
	res.Error = msg
	return res
}

// persist writes sr, detached from cancellation so a cancelled run still
// records its final step state.
func (r *StepRunner) persist(ctx context.Context, sr *plan.StepRun) {
	if err := r.runs.UpdateStepRun(context.WithoutCancel(ctx), sr); err != nil {
		metrics.RecordPersistenceError("update_step_run", err)
		r.logger.Error("failed to persist step run", "step_run_id", sr.ID, log.Error(err))
	}
}
