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

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/plan"
	"github.com/tombee/stepchain/pkg/promptctx"
)

// GetPlanWithSteps retrieves a plan and its steps sorted by order.
func (s *Store) GetPlanWithSteps(ctx context.Context, id string) (*plan.Plan, error) {
	var p plan.Plan
	var description sql.NullString
	var costBudget sql.NullFloat64

	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, name, description, retry_budget, cost_budget
		FROM plans WHERE id = ?
	`), id).Scan(&p.ID, &p.Name, &description, &p.RetryBudget, &costBudget)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "plan", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	p.Description = description.String
	if costBudget.Valid {
		budget := costBudget.Float64
		p.CostBudget = &budget
	}

	steps, err := s.listSteps(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Steps = steps
	return &p, nil
}

func (s *Store) listSteps(ctx context.Context, planID string) ([]plan.Step, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, step_order, name, model_id, prompt_template, criteria,
			retry_limit, context_mode, context_selector
		FROM plan_steps WHERE plan_id = ? ORDER BY step_order
	`), planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan steps: %w", err)
	}
	defer rows.Close()

	var steps []plan.Step
	for rows.Next() {
		var step plan.Step
		var criteriaJSON string
		var mode string
		var selector sql.NullString

		if err := rows.Scan(&step.ID, &step.Order, &step.Name, &step.ModelID, &step.PromptTemplate,
			&criteriaJSON, &step.RetryLimit, &mode, &selector); err != nil {
			return nil, fmt.Errorf("failed to scan plan step: %w", err)
		}

		c, err := criteria.Unmarshal([]byte(criteriaJSON))
		if err != nil {
			return nil, fmt.Errorf("step %s: failed to decode criteria: %w", step.ID, err)
		}
		step.PlanID = planID
		step.Criteria = c
		step.ContextMode = promptctx.Mode(mode)
		step.ContextSelector = selector.String
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// ListPlans returns all plans with their steps, sorted by name.
func (s *Store) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM plans ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	plans := make([]*plan.Plan, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPlanWithSteps(ctx, id)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// SavePlan inserts or replaces a plan and all of its steps.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	var costBudget sql.NullFloat64
	if p.CostBudget != nil {
		costBudget = sql.NullFloat64{Float64: *p.CostBudget, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO plans (id, name, description, retry_budget, cost_budget, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			retry_budget = excluded.retry_budget,
			cost_budget = excluded.cost_budget,
			updated_at = excluded.updated_at
	`), p.ID, p.Name, nullString(p.Description), p.RetryBudget, costBudget, now, now); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM plan_steps WHERE plan_id = ?`), p.ID); err != nil {
		return fmt.Errorf("failed to replace plan steps: %w", err)
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		criteriaJSON, err := criteria.Marshal(step.Criteria)
		if err != nil {
			return fmt.Errorf("failed to marshal criteria for %s: %w", step.Label(), err)
		}
		stepID := step.ID
		if stepID == "" {
			stepID = fmt.Sprintf("%s-step-%d", p.ID, step.Order)
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO plan_steps (id, plan_id, step_order, name, model_id, prompt_template,
				criteria, retry_limit, context_mode, context_selector)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), stepID, p.ID, step.Order, step.Name, step.ModelID, step.PromptTemplate,
			string(criteriaJSON), step.RetryLimit, string(step.ContextMode), nullString(step.ContextSelector)); err != nil {
			return fmt.Errorf("failed to save %s: %w", step.Label(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}
	return nil
}
