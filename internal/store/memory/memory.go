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

// Package memory provides an in-memory store implementation.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
)

// Compile-time interface assertions.
var (
	_ store.PlanStore  = (*Store)(nil)
	_ store.RunStore   = (*Store)(nil)
	_ store.ModelStore = (*Store)(nil)
	_ store.Store      = (*Store)(nil)
)

// Store is an in-memory storage backend. Values are copied on the way in and
// out so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	plans    map[string]*plan.Plan
	runs     map[string]*plan.Run
	stepRuns map[string]*plan.StepRun
	models   map[string]llm.ModelInfo
	now      func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		plans:    make(map[string]*plan.Plan),
		runs:     make(map[string]*plan.Run),
		stepRuns: make(map[string]*plan.StepRun),
		models:   make(map[string]llm.ModelInfo),
		now:      time.Now,
	}
}

// GetPlanWithSteps retrieves a plan by ID.
func (s *Store) GetPlanWithSteps(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "plan", ID: id}
	}
	return copyPlan(p), nil
}

// ListPlans returns all plans sorted by name.
func (s *Store) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		result = append(result, copyPlan(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SavePlan inserts or replaces a plan.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plans[p.ID] = copyPlan(p)
	return nil
}

// CreateRun creates a new run.
func (s *Store) CreateRun(ctx context.Context, run *plan.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}

	run.CreatedAt = s.now()
	run.UpdatedAt = run.CreatedAt
	s.runs[run.ID] = copyRun(run)
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*plan.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	return copyRun(run), nil
}

// UpdateRun updates an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *plan.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.runs[run.ID]
	if !exists {
		return &errors.NotFoundError{Resource: "run", ID: run.ID}
	}

	run.CreatedAt = existing.CreatedAt
	run.UpdatedAt = s.now()
	s.runs[run.ID] = copyRun(run)
	return nil
}

// ListRuns lists runs newest first with optional filtering.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]*plan.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*plan.Run
	for _, run := range s.runs {
		if filter.PlanID != "" && run.PlanID != filter.PlanID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, copyRun(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if limit := filter.EffectiveLimit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CreateStepRun records a new step run.
func (s *Store) CreateStepRun(ctx context.Context, sr *plan.StepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[sr.RunID]; !ok {
		return &errors.NotFoundError{Resource: "run", ID: sr.RunID}
	}
	if _, exists := s.stepRuns[sr.ID]; exists {
		return fmt.Errorf("step run already exists: %s", sr.ID)
	}
	s.stepRuns[sr.ID] = copyStepRun(sr)
	return nil
}

// UpdateStepRun updates an existing step run.
func (s *Store) UpdateStepRun(ctx context.Context, sr *plan.StepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stepRuns[sr.ID]; !exists {
		return &errors.NotFoundError{Resource: "step run", ID: sr.ID}
	}
	s.stepRuns[sr.ID] = copyStepRun(sr)
	return nil
}

// ListStepRuns returns the step runs of a run ordered by step order.
func (s *Store) ListStepRuns(ctx context.Context, runID string) ([]*plan.StepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*plan.StepRun
	for _, sr := range s.stepRuns {
		if sr.RunID == runID {
			result = append(result, copyStepRun(sr))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StepOrder != result[j].StepOrder {
			return result[i].StepOrder < result[j].StepOrder
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ListAvailableModels returns models flagged available, sorted by ID.
func (s *Store) ListAvailableModels(ctx context.Context) ([]llm.ModelInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []llm.ModelInfo
	for _, m := range s.models {
		if m.Available {
			m.Capabilities = maps.Clone(m.Capabilities)
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpsertModel inserts or replaces a model.
func (s *Store) UpsertModel(ctx context.Context, m llm.ModelInfo) error {
	if m.ID == "" {
		return fmt.Errorf("model id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Capabilities = maps.Clone(m.Capabilities)
	s.models[m.ID] = m
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	return nil
}

func copyPlan(p *plan.Plan) *plan.Plan {
	cp := *p
	cp.Steps = append([]plan.Step(nil), p.Steps...)
	if p.CostBudget != nil {
		budget := *p.CostBudget
		cp.CostBudget = &budget
	}
	return &cp
}

func copyRun(r *plan.Run) *plan.Run {
	cp := *r
	cp.Metadata = maps.Clone(r.Metadata)
	cp.StartedAt = copyTime(r.StartedAt)
	cp.CompletedAt = copyTime(r.CompletedAt)
	return &cp
}

func copyStepRun(sr *plan.StepRun) *plan.StepRun {
	cp := *sr
	if sr.Evaluation != nil {
		eval := *sr.Evaluation
		eval.Details = maps.Clone(sr.Evaluation.Details)
		cp.Evaluation = &eval
	}
	cp.StartedAt = copyTime(sr.StartedAt)
	cp.CompletedAt = copyTime(sr.CompletedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
