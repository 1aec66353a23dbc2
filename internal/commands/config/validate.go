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

package config

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/config"
)

// ValidationResult holds the outcome of config validation
type ValidationResult struct {
	shared.JSONResponse
	File     string   `json:"file,omitempty"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration",
		Long: `Validate loads the effective configuration and reports errors and
warnings. Errors exit with code 3; with --strict, warnings do too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := ValidationResult{File: configFile(), Valid: true}

			cfg, err := config.Load(result.File)
			if err != nil {
				result.Valid = false
				result.Errors = []string{err.Error()}
			} else {
				result.Warnings = configWarnings(cfg)
			}

			failed := !result.Valid || (strict && len(result.Warnings) > 0)
			result.JSONResponse = shared.NewJSONResponse("config validate", !failed)
			if err := outputValidationResult(cmd.OutOrStdout(), result); err != nil {
				return err
			}

			switch {
			case !result.Valid:
				return &shared.ExitError{Code: shared.ExitConfigError, Message: "configuration is invalid"}
			case failed:
				return &shared.ExitError{Code: shared.ExitConfigError, Message: "configuration has warnings (strict mode)"}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	return cmd
}

// configWarnings reports settings that are valid but likely unintended.
func configWarnings(cfg *config.Config) []string {
	var warnings []string

	if cfg.Model.APIKey == "" {
		warnings = append(warnings, "model.api_key is not set; set STEPCHAIN_API_KEY if the backend requires authentication")
	}
	if cfg.Store.Type == config.StoreMemory {
		warnings = append(warnings, "store.type is memory; runs are lost when the server stops")
	}
	if cfg.Plans.Watch && cfg.Plans.Dir == "" {
		warnings = append(warnings, "plans.watch has no effect without plans.dir")
	}
	if cfg.Execution.BackoffBase == 0 {
		warnings = append(warnings, "execution.backoff_base is 0; failed steps are retried immediately")
	}

	return warnings
}

func outputValidationResult(out io.Writer, result ValidationResult) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, result)
	}

	if result.Valid {
		fmt.Fprintln(out, shared.RenderOK("Configuration is valid"))
	} else {
		fmt.Fprintln(out, shared.RenderError("Configuration validation failed"))
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.Header.Render("Errors:"))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  %s %s\n", shared.StatusError.Render(shared.SymbolError), e)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.Header.Render("Warnings:"))
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  %s %s\n", shared.StatusWarn.Render(shared.SymbolWarn), w)
		}
	}

	return nil
}
