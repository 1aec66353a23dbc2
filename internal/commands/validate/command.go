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

package validate

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/catalog"
	"github.com/tombee/stepchain/internal/commands/completion"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
)

// PlanReport is the validation outcome for one plan file.
type PlanReport struct {
	File     string   `json:"file"`
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Steps    int      `json:"steps"`
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <plan-file>...",
		Short: "Validate plan documents",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Validate checks that each plan file parses and is structurally valid:
step orders are unique, every step names a model and a prompt, criteria are
well formed and context modes are known.

Models referenced by steps and judges are checked against the built-in model
catalog. Unknown models are warnings unless --strict is set.

See also: stepchain run`,
		Example: `  # Example 1: Validate a plan
  stepchain validate plans/blog-post.yaml

  # Example 2: Validate several plans with JSON output
  stepchain validate plans/*.yaml --json

  # Example 3: Treat unknown models as errors
  stepchain validate plans/blog-post.yaml --strict`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.CompletePlanArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when a step references a model missing from the catalog")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string, strict bool) error {
	models := catalog.DefaultModels()

	reports := make([]PlanReport, 0, len(args))
	var jsonErrors []shared.JSONError
	for _, path := range args {
		report, jsonErr := validateFile(path, models, strict)
		reports = append(reports, report)
		if jsonErr != nil {
			jsonErrors = append(jsonErrors, *jsonErr)
		}
	}

	failed := len(jsonErrors)
	out := cmd.OutOrStdout()

	if shared.GetJSON() {
		resp := struct {
			shared.JSONResponse
			Plans  []PlanReport       `json:"plans"`
			Errors []shared.JSONError `json:"errors,omitempty"`
		}{
			JSONResponse: shared.NewJSONResponse("validate", failed == 0),
			Plans:        reports,
			Errors:       jsonErrors,
		}
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
		if failed > 0 {
			return &shared.ExitError{Code: shared.ExitInvalidPlan}
		}
		return nil
	}

	for _, r := range reports {
		if !r.Valid {
			fmt.Fprintln(out, shared.RenderError(fmt.Sprintf("%s: %s", r.File, r.Error)))
			continue
		}
		if !shared.GetQuiet() {
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s %s",
				r.File, shared.Muted.Render(fmt.Sprintf("(%s, %d steps)", r.Name, r.Steps)))))
		}
		for _, w := range r.Warnings {
			fmt.Fprintln(out, "  "+shared.RenderWarn(w))
		}
	}

	if failed > 0 {
		return shared.NewInvalidPlanError(fmt.Sprintf("%d of %d plan(s) invalid", failed, len(args)), nil)
	}
	return nil
}

// validateFile loads path and checks its models against the catalog.
func validateFile(path string, models []llm.ModelInfo, strict bool) (PlanReport, *shared.JSONError) {
	report := PlanReport{File: path}

	p, err := plan.LoadFile(path)
	if err != nil {
		report.Error = err.Error()
		code := shared.ErrorCodeInvalidPlan
		suggestion := "Review the plan document against the error above"
		if errors.Is(err, fs.ErrNotExist) {
			code = shared.ErrorCodeFileNotFound
			suggestion = "Check that the file path is correct and the file exists"
		}
		return report, &shared.JSONError{Code: code, Message: err.Error(), Suggestion: suggestion, File: path}
	}

	report.ID = p.ID
	report.Name = p.Name
	report.Steps = len(p.Steps)
	report.Valid = true

	if len(p.Steps) == 0 {
		report.Warnings = append(report.Warnings, "plan has no steps; runs of it will fail")
	}

	for _, s := range p.Steps {
		for _, id := range referencedModels(s) {
			if llm.GetModelByID(models, id) != nil {
				continue
			}
			msg := fmt.Sprintf("%s uses unknown model %q", s.Label(), id)
			if strict {
				report.Valid = false
				report.Error = msg
				return report, &shared.JSONError{
					Code:       shared.ErrorCodeUnknownModel,
					Message:    msg,
					Suggestion: "Run 'stepchain models' to list known models",
					File:       path,
					StepOrder:  s.Order,
				}
			}
			report.Warnings = append(report.Warnings, msg+"; its cost will be counted as zero")
		}
	}
	return report, nil
}

// referencedModels returns the step model followed by any judge models.
func referencedModels(s plan.Step) []string {
	ids := []string{s.ModelID}
	var walk func(c criteria.Criteria)
	walk = func(c criteria.Criteria) {
		switch c := c.(type) {
		case *criteria.JudgeCriteria:
			ids = append(ids, c.JudgeModel)
		case *criteria.HybridCriteria:
			walk(c.Primary)
			walk(c.Fallback)
		}
	}
	walk(s.Criteria)
	return ids
}
