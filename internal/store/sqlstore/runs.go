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
	"encoding/json"
	"fmt"
	"time"

	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/plan"
)

const runColumns = `id, plan_id, status, total_cost, total_tokens, error, metadata,
	started_at, completed_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateRun creates a new run.
func (s *Store) CreateRun(ctx context.Context, run *plan.Run) error {
	metadata, err := marshalMetadata(run.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		run.ID, run.PlanID, string(run.Status), run.TotalCost, run.TotalTokens,
		nullString(run.Error), metadata,
		formatTimePtr(run.StartedAt), formatTimePtr(run.CompletedAt),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	run.CreatedAt = now
	run.UpdatedAt = now
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*plan.Run, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRun updates an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *plan.Run) error {
	metadata, err := marshalMetadata(run.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE runs SET
			plan_id = ?, status = ?, total_cost = ?, total_tokens = ?, error = ?,
			metadata = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`),
		run.PlanID, string(run.Status), run.TotalCost, run.TotalTokens, nullString(run.Error),
		metadata, formatTimePtr(run.StartedAt), formatTimePtr(run.CompletedAt), formatTime(now),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return &errors.NotFoundError{Resource: "run", ID: run.ID}
	}

	run.UpdatedAt = now
	return nil
}

// ListRuns lists runs newest first with optional filtering.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]*plan.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}

	if filter.PlanID != "" {
		query += " AND plan_id = ?"
		args = append(args, filter.PlanID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.EffectiveLimit())
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*plan.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*plan.Run, error) {
	var run plan.Run
	var status string
	var errorStr, metadata sql.NullString
	var startedAt, completedAt, createdAt, updatedAt sql.NullString

	if err := row.Scan(
		&run.ID, &run.PlanID, &status, &run.TotalCost, &run.TotalTokens,
		&errorStr, &metadata,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	run.Status = plan.RunStatus(status)
	run.Error = errorStr.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &run.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	run.StartedAt = parseTimePtr(startedAt)
	run.CompletedAt = parseTimePtr(completedAt)
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

const stepRunColumns = `id, run_id, step_id, step_order, status, prompt, context_used,
	retry_count, response, evaluation, cost, tokens, error, started_at, completed_at`

// CreateStepRun records a new step run.
func (s *Store) CreateStepRun(ctx context.Context, sr *plan.StepRun) error {
	evaluation, err := marshalEvaluation(sr.Evaluation)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO step_runs (`+stepRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		sr.ID, sr.RunID, sr.StepID, sr.StepOrder, string(sr.Status),
		nullString(sr.Prompt), nullString(sr.ContextUsed), sr.RetryCount,
		nullString(sr.Response), evaluation, sr.Cost, sr.Tokens, nullString(sr.Error),
		formatTimePtr(sr.StartedAt), formatTimePtr(sr.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create step run: %w", err)
	}
	return nil
}

// UpdateStepRun updates an existing step run.
func (s *Store) UpdateStepRun(ctx context.Context, sr *plan.StepRun) error {
	evaluation, err := marshalEvaluation(sr.Evaluation)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE step_runs SET
			status = ?, prompt = ?, context_used = ?, retry_count = ?, response = ?,
			evaluation = ?, cost = ?, tokens = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`),
		string(sr.Status), nullString(sr.Prompt), nullString(sr.ContextUsed), sr.RetryCount,
		nullString(sr.Response), evaluation, sr.Cost, sr.Tokens, nullString(sr.Error),
		formatTimePtr(sr.StartedAt), formatTimePtr(sr.CompletedAt),
		sr.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return &errors.NotFoundError{Resource: "step run", ID: sr.ID}
	}
	return nil
}

// ListStepRuns returns a run's step runs ordered by step order.
func (s *Store) ListStepRuns(ctx context.Context, runID string) ([]*plan.StepRun, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+stepRunColumns+` FROM step_runs WHERE run_id = ? ORDER BY step_order, id
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step runs: %w", err)
	}
	defer rows.Close()

	var result []*plan.StepRun
	for rows.Next() {
		var sr plan.StepRun
		var status string
		var prompt, contextUsed, response, evaluation, errorStr sql.NullString
		var startedAt, completedAt sql.NullString

		if err := rows.Scan(
			&sr.ID, &sr.RunID, &sr.StepID, &sr.StepOrder, &status, &prompt, &contextUsed,
			&sr.RetryCount, &response, &evaluation, &sr.Cost, &sr.Tokens, &errorStr,
			&startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step run: %w", err)
		}

		sr.Status = plan.StepStatus(status)
		sr.Prompt = prompt.String
		sr.ContextUsed = contextUsed.String
		sr.Response = response.String
		sr.Error = errorStr.String
		sr.StartedAt = parseTimePtr(startedAt)
		sr.CompletedAt = parseTimePtr(completedAt)
		if evaluation.Valid && evaluation.String != "" {
			var eval criteria.Result
			if err := json.Unmarshal([]byte(evaluation.String), &eval); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evaluation: %w", err)
			}
			sr.Evaluation = &eval
		}
		result = append(result, &sr)
	}
	return result, rows.Err()
}

func marshalEvaluation(r *criteria.Result) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal evaluation: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
