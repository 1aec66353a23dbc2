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

// Package store defines the persistence interfaces used by the executor and
// the API.
//
// # Interface Hierarchy
//
// Storage is split by concern so that components accept only what they use:
//
//   - PlanStore: GetPlanWithSteps, ListPlans, SavePlan
//   - RunStore: CreateRun, GetRun, UpdateRun, ListRuns, and step-run records
//   - ModelStore: ListAvailableModels, UpsertModel
//   - io.Closer (optional): Close
//
// The Store interface composes all of these for full-featured backends
// (memory, sqlstore). planfs provides a PlanStore over a directory of plan
// documents.
package store

import (
	"context"
	"io"

	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
)

// PlanStore loads and saves plans.
type PlanStore interface {
	// GetPlanWithSteps returns the plan with its steps sorted by order.
	// Missing plans return *errors.NotFoundError.
	GetPlanWithSteps(ctx context.Context, id string) (*plan.Plan, error)

	// ListPlans returns all plans sorted by name.
	ListPlans(ctx context.Context) ([]*plan.Plan, error)

	// SavePlan inserts or replaces a plan and its steps.
	SavePlan(ctx context.Context, p *plan.Plan) error
}

// RunStore persists runs and their step runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *plan.Run) error
	GetRun(ctx context.Context, id string) (*plan.Run, error)
	UpdateRun(ctx context.Context, run *plan.Run) error

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*plan.Run, error)

	CreateStepRun(ctx context.Context, sr *plan.StepRun) error
	UpdateStepRun(ctx context.Context, sr *plan.StepRun) error

	// ListStepRuns returns a run's step runs ordered by step order.
	ListStepRuns(ctx context.Context, runID string) ([]*plan.StepRun, error)
}

// ModelStore holds model metadata and pricing.
type ModelStore interface {
	// ListAvailableModels returns models flagged available.
	ListAvailableModels(ctx context.Context) ([]llm.ModelInfo, error)

	// UpsertModel inserts or replaces a model by ID.
	UpsertModel(ctx context.Context, m llm.ModelInfo) error
}

// Store is the full storage interface.
type Store interface {
	PlanStore
	RunStore
	ModelStore
	io.Closer
}

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 50

// RunFilter contains filtering options for listing runs.
type RunFilter struct {
	PlanID string
	Status plan.RunStatus
	Limit  int
	Offset int
}

// EffectiveLimit returns Limit, or DefaultListLimit when unset.
func (f RunFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Seed upserts models into s.
func Seed(ctx context.Context, s ModelStore, models []llm.ModelInfo) error {
	for _, m := range models {
		if err := s.UpsertModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
