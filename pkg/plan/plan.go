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

// Package plan defines plans, runs and the records produced while executing
// them.
package plan

import (
	"encoding/json"
	"fmt"

	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/promptctx"
)

// DefaultRetryLimit applies to steps whose document omits retry_limit.
const DefaultRetryLimit = 3

// Plan is an ordered list of steps executed as one run.
type Plan struct {
	ID          string `json:"id" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// RetryBudget is informational; per-step limits govern retries.
	RetryBudget int `json:"retry_budget,omitempty" yaml:"retry_budget,omitempty"`

	// CostBudget caps a run's cumulative cost in USD. Nil means unlimited.
	CostBudget *float64 `json:"cost_budget,omitempty" yaml:"cost_budget,omitempty"`

	// Steps are sorted ascending by Order.
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is one prompt sent to one model, with its completion policy.
type Step struct {
	ID              string
	PlanID          string
	Order           int
	Name            string
	ModelID         string
	PromptTemplate  string
	Criteria        criteria.Criteria
	RetryLimit      int
	ContextMode     promptctx.Mode
	ContextSelector string
}

// Label renders the step for messages, e.g. "step 2 (draft)".
func (s *Step) Label() string {
	if s.Name == "" {
		return fmt.Sprintf("step %d", s.Order)
	}
	return fmt.Sprintf("step %d (%s)", s.Order, s.Name)
}

// stepDocument is the wire form of a Step.
type stepDocument struct {
	ID              string             `json:"id,omitempty" yaml:"id,omitempty"`
	Order           int                `json:"order" yaml:"order"`
	Name            string             `json:"name" yaml:"name"`
	Model           string             `json:"model" yaml:"model"`
	Prompt          string             `json:"prompt" yaml:"prompt"`
	Criteria        *criteria.Document `json:"criteria" yaml:"criteria"`
	RetryLimit      *int               `json:"retry_limit,omitempty" yaml:"retry_limit,omitempty"`
	ContextMode     promptctx.Mode     `json:"context_mode,omitempty" yaml:"context_mode,omitempty"`
	ContextSelector string             `json:"context_selector,omitempty" yaml:"context_selector,omitempty"`
}

func (s *Step) toDocument() stepDocument {
	retry := s.RetryLimit
	return stepDocument{
		ID:              s.ID,
		Order:           s.Order,
		Name:            s.Name,
		Model:           s.ModelID,
		Prompt:          s.PromptTemplate,
		Criteria:        criteria.ToDocument(s.Criteria),
		RetryLimit:      &retry,
		ContextMode:     s.ContextMode,
		ContextSelector: s.ContextSelector,
	}
}

func (s *Step) fromDocument(doc stepDocument) error {
	c, err := doc.Criteria.Criteria()
	if err != nil {
		return fmt.Errorf("step %d: criteria: %w", doc.Order, err)
	}

	retry := DefaultRetryLimit
	if doc.RetryLimit != nil {
		retry = *doc.RetryLimit
	}
	mode := doc.ContextMode
	if mode == "" {
		mode = promptctx.ModeFull
	}

	*s = Step{
		ID:              doc.ID,
		Order:           doc.Order,
		Name:            doc.Name,
		ModelID:         doc.Model,
		PromptTemplate:  doc.Prompt,
		Criteria:        c,
		RetryLimit:      retry,
		ContextMode:     mode,
		ContextSelector: doc.ContextSelector,
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toDocument())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Step) UnmarshalJSON(data []byte) error {
	var doc stepDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return s.fromDocument(doc)
}

// MarshalYAML implements yaml.Marshaler.
func (s Step) MarshalYAML() (interface{}, error) {
	return s.toDocument(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Step) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var doc stepDocument
	if err := unmarshal(&doc); err != nil {
		return err
	}
	return s.fromDocument(doc)
}

// StepByOrder returns the step with the given order, or nil.
func (p *Plan) StepByOrder(order int) *Step {
	for i := range p.Steps {
		if p.Steps[i].Order == order {
			return &p.Steps[i]
		}
	}
	return nil
}
