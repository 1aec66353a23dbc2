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

package plan

import (
	"time"

	"github.com/tombee/stepchain/pkg/criteria"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StepStatus is the lifecycle state of a step run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepRetrying  StepStatus = "retrying"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Run is one execution of a plan.
type Run struct {
	ID          string         `json:"id"`
	PlanID      string         `json:"plan_id"`
	Status      RunStatus      `json:"status"`
	TotalCost   float64        `json:"total_cost"`
	TotalTokens int            `json:"total_tokens"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// StepRun records the execution of one step within one run, including its
// retries.
type StepRun struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	StepID      string           `json:"step_id"`
	StepOrder   int              `json:"step_order"`
	Status      StepStatus       `json:"status"`
	Prompt      string           `json:"prompt,omitempty"`
	ContextUsed string           `json:"context_used,omitempty"`
	RetryCount  int              `json:"retry_count"`
	Response    string           `json:"response,omitempty"`
	Evaluation  *criteria.Result `json:"evaluation,omitempty"`
	Cost        float64          `json:"cost"`
	Tokens      int              `json:"tokens"`
	Error       string           `json:"error,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ProgressEvent reports a run's state to observers.
type ProgressEvent struct {
	RunID          string    `json:"run_id"`
	Status         RunStatus `json:"status"`
	CurrentStep    int       `json:"current_step,omitempty"`
	TotalSteps     int       `json:"total_steps"`
	CompletedSteps int       `json:"completed_steps"`
	TotalCost      float64   `json:"total_cost"`
	TotalTokens    int       `json:"total_tokens"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
