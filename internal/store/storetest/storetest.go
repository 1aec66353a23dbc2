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

// Package storetest provides a behavioural test suite shared by every
// store.Store implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
	"github.com/tombee/stepchain/pkg/promptctx"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

// SamplePlan returns a two-step plan exercising rule and hybrid criteria.
func SamplePlan(id string) *plan.Plan {
	budget := 5.0
	return &plan.Plan{
		ID:          id,
		Name:        "Hello World Workflow",
		Description: "A simple two-step workflow",
		RetryBudget: 3,
		CostBudget:  &budget,
		Steps: []plan.Step{
			{
				ID:             id + "-step-1",
				PlanID:         id,
				Order:          1,
				Name:           "Generate Greeting",
				ModelID:        "gpt-3.5-turbo",
				PromptTemplate: "Write a friendly greeting message.",
				Criteria: &criteria.RuleCriteria{
					Logic: criteria.LogicAND,
					Rules: []criteria.Rule{
						{Type: criteria.RuleContains, Value: "hello"},
						{Type: criteria.RuleMinLength, Value: "10"},
					},
				},
				RetryLimit:  2,
				ContextMode: promptctx.ModeFull,
			},
			{
				ID:             id + "-step-2",
				PlanID:         id,
				Order:          2,
				Name:           "Generate Joke",
				ModelID:        "gpt-3.5-turbo",
				PromptTemplate: "Based on this greeting: {{previous_output}}\nTell a joke.",
				Criteria: &criteria.HybridCriteria{
					Primary: &criteria.RuleCriteria{
						Logic: criteria.LogicAND,
						Rules: []criteria.Rule{{Type: criteria.RuleMaxLength, Value: "500"}},
					},
					Fallback: &criteria.JudgeCriteria{JudgeModel: "gpt-4-turbo", JudgePrompt: "Is it funny?"},
				},
				RetryLimit:      0,
				ContextMode:     promptctx.ModeSelective,
				ContextSelector: "json",
			},
		},
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("plans", func(t *testing.T) { testPlans(t, newStore(t)) })
	t.Run("runs", func(t *testing.T) { testRuns(t, newStore(t)) })
	t.Run("list runs", func(t *testing.T) { testListRuns(t, newStore(t)) })
	t.Run("step runs", func(t *testing.T) { testStepRuns(t, newStore(t)) })
	t.Run("models", func(t *testing.T) { testModels(t, newStore(t)) })
}

func testPlans(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetPlanWithSteps(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	p := SamplePlan("plan-1")
	require.NoError(t, s.SavePlan(ctx, p))

	got, err := s.GetPlanWithSteps(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Description, got.Description)
	assert.Equal(t, 3, got.RetryBudget)
	require.NotNil(t, got.CostBudget)
	assert.InDelta(t, 5.0, *got.CostBudget, 1e-9)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, 1, got.Steps[0].Order)
	assert.Equal(t, 2, got.Steps[0].RetryLimit)
	assert.Equal(t, 0, got.Steps[1].RetryLimit)
	assert.Equal(t, promptctx.ModeSelective, got.Steps[1].ContextMode)
	assert.Equal(t, "json", got.Steps[1].ContextSelector)
	assert.Equal(t, "plan-1", got.Steps[1].PlanID)

	rules, ok := got.Steps[0].Criteria.(*criteria.RuleCriteria)
	require.True(t, ok)
	assert.Equal(t, criteria.Value("hello"), rules.Rules[0].Value)
	hybrid, ok := got.Steps[1].Criteria.(*criteria.HybridCriteria)
	require.True(t, ok)
	assert.Equal(t, criteria.TypeJudge, hybrid.Fallback.Type())

	// Saving again replaces the steps.
	p.Name = "Renamed"
	p.Steps = p.Steps[:1]
	require.NoError(t, s.SavePlan(ctx, p))
	got, err = s.GetPlanWithSteps(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Len(t, got.Steps, 1)

	require.NoError(t, s.SavePlan(ctx, &plan.Plan{ID: "plan-0", Name: "Alpha"}))
	plans, err := s.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "Alpha", plans[0].Name)
	assert.Empty(t, plans[0].Steps)
}

func testRuns(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(s.UpdateRun(ctx, &plan.Run{ID: "missing"})))

	run := &plan.Run{
		ID:       "run-1",
		PlanID:   "plan-1",
		Status:   plan.RunPending,
		Metadata: map[string]any{"source": "test"},
	}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	started := time.Now().Add(-time.Second).Truncate(time.Millisecond)
	completed := time.Now().Truncate(time.Millisecond)
	run.Status = plan.RunFailed
	run.TotalCost = 0.0125
	run.TotalTokens = 420
	run.Error = "step 1 (draft) failed: boom"
	run.StartedAt = &started
	run.CompletedAt = &completed
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, plan.RunFailed, got.Status)
	assert.InDelta(t, 0.0125, got.TotalCost, 1e-12)
	assert.Equal(t, 420, got.TotalTokens)
	assert.Equal(t, run.Error, got.Error)
	assert.Equal(t, "test", got.Metadata["source"])
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, started.Equal(*got.StartedAt))
	assert.True(t, completed.Equal(*got.CompletedAt))

	// Returned values are independent of the store.
	got.Status = plan.RunCompleted
	again, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, plan.RunFailed, again.Status)
}

func testListRuns(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		planID := "plan-a"
		if i%2 == 1 {
			planID = "plan-b"
		}
		status := plan.RunCompleted
		if i == 4 {
			status = plan.RunFailed
		}
		require.NoError(t, s.CreateRun(ctx, &plan.Run{ID: fmt.Sprintf("run-%d", i), PlanID: planID, Status: status}))
		time.Sleep(2 * time.Millisecond)
	}

	all, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "run-4", all[0].ID, "newest first")

	byPlan, err := s.ListRuns(ctx, store.RunFilter{PlanID: "plan-a"})
	require.NoError(t, err)
	assert.Len(t, byPlan, 3)

	failed, err := s.ListRuns(ctx, store.RunFilter{Status: plan.RunFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "run-4", failed[0].ID)

	page, err := s.ListRuns(ctx, store.RunFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "run-3", page[0].ID)
}

func testStepRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &plan.Run{ID: "run-1", PlanID: "plan-1", Status: plan.RunRunning}))

	now := time.Now().Truncate(time.Millisecond)
	second := &plan.StepRun{ID: "sr-2", RunID: "run-1", StepID: "s2", StepOrder: 2, Status: plan.StepRunning, StartedAt: &now}
	first := &plan.StepRun{ID: "sr-1", RunID: "run-1", StepID: "s1", StepOrder: 1, Status: plan.StepRunning, StartedAt: &now}
	require.NoError(t, s.CreateStepRun(ctx, second))
	require.NoError(t, s.CreateStepRun(ctx, first))

	first.Status = plan.StepCompleted
	first.Prompt = "say hello"
	first.Response = "hello there"
	first.RetryCount = 1
	first.Cost = 0.002
	first.Tokens = 30
	first.CompletedAt = &now
	first.Evaluation = &criteria.Result{Passed: true, Reason: "All 2 criteria met", Conclusive: true}
	require.NoError(t, s.UpdateStepRun(ctx, first))

	assert.True(t, errors.IsNotFound(s.UpdateStepRun(ctx, &plan.StepRun{ID: "missing", RunID: "run-1"})))

	list, err := s.ListStepRuns(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].StepOrder)
	assert.Equal(t, plan.StepCompleted, list[0].Status)
	assert.Equal(t, "hello there", list[0].Response)
	assert.Equal(t, 1, list[0].RetryCount)
	assert.InDelta(t, 0.002, list[0].Cost, 1e-12)
	require.NotNil(t, list[0].Evaluation)
	assert.True(t, list[0].Evaluation.Passed)
	assert.Equal(t, "All 2 criteria met", list[0].Evaluation.Reason)
	assert.Nil(t, list[1].Evaluation)

	empty, err := s.ListStepRuns(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testModels(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx, s, []llm.ModelInfo{
		{ID: "b", Provider: "openai", DisplayName: "B", InputPricePer1K: 0.01, OutputPricePer1K: 0.03, ContextWindow: 1000, Available: true,
			Capabilities: map[string]bool{"vision": true}},
		{ID: "a", Provider: "anthropic", DisplayName: "A", InputPricePer1K: 0.001, OutputPricePer1K: 0.002, ContextWindow: 2000, Available: true},
		{ID: "off", Provider: "openai", DisplayName: "Off", Available: false},
	}))

	models, err := s.ListAvailableModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "a", models[0].ID)
	assert.Equal(t, "b", models[1].ID)
	assert.True(t, models[1].Capabilities["vision"])
	assert.InDelta(t, 0.03, models[1].OutputPricePer1K, 1e-12)

	require.NoError(t, s.UpsertModel(ctx, llm.ModelInfo{ID: "a", Provider: "anthropic", DisplayName: "A", Available: false}))
	models, err = s.ListAvailableModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "b", models[0].ID)
}
