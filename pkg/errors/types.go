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

// Package errors defines the typed errors shared across stepchain.
package errors

import (
	"fmt"
	"time"
)

// ValidationError represents invalid user input: a malformed plan document,
// a bad API request body or an out-of-range setting.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a missing plan, run, step run or model.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "plan", "run", "model")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Is matches any *NotFoundError with the same resource, or any resource when
// the target leaves Resource empty.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// EmptyPlanError is returned when a plan has no steps to execute.
type EmptyPlanError struct {
	PlanID string
}

// Error implements the error interface.
func (e *EmptyPlanError) Error() string {
	return fmt.Sprintf("plan %s has no steps", e.PlanID)
}

// BudgetExceededError is returned when a run's accumulated cost goes over the
// plan's cost budget.
type BudgetExceededError struct {
	Budget float64
	Actual float64
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("cost budget exceeded: $%.4f > $%.4f", e.Actual, e.Budget)
}

// StepFailedError records why a single step could not complete.
type StepFailedError struct {
	// Order is the 1-based position of the step in its plan.
	Order int

	// Name is the step's display name.
	Name string

	// Reason is the step runner's failure message.
	Reason string
}

// Error implements the error interface.
func (e *StepFailedError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("step %d failed: %s", e.Order, e.Reason)
	}
	return fmt.Sprintf("step %d (%s) failed: %s", e.Order, e.Name, e.Reason)
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "model.base_url")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents an operation that ran past its deadline.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "model request", "shutdown")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
