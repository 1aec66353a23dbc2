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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/store/memory"
	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
)

// fakeClient answers model calls with a handler and records every request.
type fakeClient struct {
	mu       sync.Mutex
	requests []llm.Request
	handler  func(n int, req llm.Request) (*llm.Response, error)
}

func (c *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	n := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return c.handler(n, req)
}

func (c *fakeClient) prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.requests))
	for i, r := range c.requests {
		out[i] = r.Prompt
	}
	return out
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// reply returns a response with 10 prompt and 20 completion tokens.
func reply(content string) *llm.Response {
	return &llm.Response{
		Content: content,
		Usage:   llm.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

func always(content string) func(int, llm.Request) (*llm.Response, error) {
	return func(int, llm.Request) (*llm.Response, error) { return reply(content), nil }
}

// flatCosts prices every token at $0.001.
type flatCosts struct{}

func (flatCosts) CalculateCost(_ context.Context, _ string, promptTokens, completionTokens int) float64 {
	return float64(promptTokens+completionTokens) * 0.001
}

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// recordingSink collects progress events.
type recordingSink struct {
	mu     sync.Mutex
	events []plan.ProgressEvent
}

func (s *recordingSink) Publish(ev plan.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []plan.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]plan.ProgressEvent(nil), s.events...)
}

func containsRule(value string) criteria.Criteria {
	return &criteria.RuleCriteria{
		Logic: criteria.LogicAND,
		Rules: []criteria.Rule{{Type: criteria.RuleContains, Value: criteria.Value(value)}},
	}
}

func newStep(order int, name, template string, c criteria.Criteria, retryLimit int) plan.Step {
	return plan.Step{
		ID:             fmt.Sprintf("step-%d", order),
		PlanID:         "plan-1",
		Order:          order,
		Name:           name,
		ModelID:        "gpt-3.5-turbo",
		PromptTemplate: template,
		Criteria:       c,
		RetryLimit:     retryLimit,
	}
}

type harness struct {
	store   *memory.Store
	client  *fakeClient
	sleeper *recordingSleeper
	sink    *recordingSink
	runner  *StepRunner
	orch    *Orchestrator
}

func newHarness(t *testing.T, handler func(int, llm.Request) (*llm.Response, error)) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		client:  &fakeClient{handler: handler},
		sleeper: &recordingSleeper{},
		sink:    &recordingSink{},
	}
	evaluator := criteria.NewEvaluator(nil, nil, log.Discard())
	h.runner = NewStepRunner(h.client, evaluator, h.store,
		WithCosts(flatCosts{}),
		WithSleeper(h.sleeper),
		WithBackoffBase(10*time.Millisecond),
		WithStepLogger(log.Discard()),
	)
	h.orch = New(h.store, h.store, h.runner,
		WithProgress(h.sink),
		WithLogger(log.Discard()),
	)
	return h
}

func (h *harness) savePlan(t *testing.T, p *plan.Plan) {
	t.Helper()
	require.NoError(t, h.store.SavePlan(context.Background(), p))
}

func (h *harness) createRun(t *testing.T, runID, planID string) {
	t.Helper()
	require.NoError(t, h.store.CreateRun(context.Background(), &plan.Run{
		ID:     runID,
		PlanID: planID,
		Status: plan.RunPending,
	}))
}

func (h *harness) stepRuns(t *testing.T, runID string) []*plan.StepRun {
	t.Helper()
	srs, err := h.store.ListStepRuns(context.Background(), runID)
	require.NoError(t, err)
	return srs
}
