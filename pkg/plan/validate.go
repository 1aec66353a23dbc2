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
	"fmt"

	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/errors"
)

// Validate checks the plan for structural problems. Step-level errors name
// the offending field as steps[i].field. An empty step list is valid here;
// executing such a plan fails with *errors.EmptyPlanError.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "plan name is required"}
	}
	if p.RetryBudget < 0 {
		return &errors.ValidationError{Field: "retry_budget", Message: "must be >= 0"}
	}
	if p.CostBudget != nil && *p.CostBudget <= 0 {
		return &errors.ValidationError{
			Field:      "cost_budget",
			Message:    fmt.Sprintf("must be > 0, got %v", *p.CostBudget),
			Suggestion: "omit cost_budget for an unlimited run",
		}
	}

	seen := make(map[int]int, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		field := fmt.Sprintf("steps[%d]", i)

		if s.Order < 1 {
			return &errors.ValidationError{Field: field + ".order", Message: "must be >= 1"}
		}
		if prev, dup := seen[s.Order]; dup {
			return &errors.ValidationError{
				Field:   field + ".order",
				Message: fmt.Sprintf("order %d already used by steps[%d]", s.Order, prev),
			}
		}
		seen[s.Order] = i

		if s.Name == "" {
			return &errors.ValidationError{Field: field + ".name", Message: "step name is required"}
		}
		if s.ModelID == "" {
			return &errors.ValidationError{Field: field + ".model", Message: "model is required"}
		}
		if s.PromptTemplate == "" {
			return &errors.ValidationError{Field: field + ".prompt", Message: "prompt template is required"}
		}
		if s.RetryLimit < 0 {
			return &errors.ValidationError{Field: field + ".retry_limit", Message: "must be >= 0"}
		}
		if !s.ContextMode.Valid() {
			return &errors.ValidationError{
				Field:      field + ".context_mode",
				Message:    fmt.Sprintf("unknown context mode %q", s.ContextMode),
				Suggestion: "use full, summary, selective or custom",
			}
		}
		if err := criteria.Validate(s.Criteria, field+".criteria"); err != nil {
			return err
		}
	}
	return nil
}
