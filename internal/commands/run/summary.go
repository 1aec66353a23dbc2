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

package run

import (
	"fmt"
	"io"

	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/pkg/plan"
)

// printSteps lists the plan's steps for --dry-run.
func printSteps(out io.Writer, p *plan.Plan) {
	fmt.Fprintf(out, "%s %s\n", shared.Header.Render("Plan:"), p.Name)
	if p.CostBudget != nil {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Cost budget:"), shared.FormatCost(*p.CostBudget))
	}
	fmt.Fprintln(out)
	for _, s := range p.Steps {
		criteriaType := "none"
		if s.Criteria != nil {
			criteriaType = string(s.Criteria.Type())
		}
		fmt.Fprintf(out, "  %d. %s %s\n", s.Order, s.Name,
			shared.Muted.Render(fmt.Sprintf("(model %s, criteria %s, retries %d, context %s)",
				s.ModelID, criteriaType, s.RetryLimit, s.ContextMode)))
	}
}

// printSummary shows one line per executed step.
func printSummary(out io.Writer, p *plan.Plan, stepRuns []*plan.StepRun) {
	if len(stepRuns) == 0 {
		return
	}
	fmt.Fprintln(out, "\n---")
	for _, sr := range stepRuns {
		label := fmt.Sprintf("step %d", sr.StepOrder)
		if s := p.StepByOrder(sr.StepOrder); s != nil {
			label = s.Label()
		}
		fmt.Fprintf(out, "%s %s %s\n",
			shared.RenderStepStatus(sr.Status),
			label,
			shared.Muted.Render(fmt.Sprintf("retries %d · %s · %d tokens",
				sr.RetryCount, shared.FormatCost(sr.Cost), sr.Tokens)))
		if sr.Status == plan.StepFailed && sr.Error != "" {
			fmt.Fprintf(out, "    %s %s\n", shared.RenderLabel("error:"), sr.Error)
		}
	}
}
