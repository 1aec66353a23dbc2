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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/commands/completion"
	configcmd "github.com/tombee/stepchain/internal/commands/config"
	"github.com/tombee/stepchain/internal/commands/example"
	"github.com/tombee/stepchain/internal/commands/model"
	"github.com/tombee/stepchain/internal/commands/run"
	"github.com/tombee/stepchain/internal/commands/runs"
	"github.com/tombee/stepchain/internal/commands/serve"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/commands/validate"
	"github.com/tombee/stepchain/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for stepchain with every
// subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stepchain",
		Short: "stepchain - multi-step LLM plan execution",
		Long: `stepchain executes plans: ordered chains of LLM prompts where each
step's output must pass completion criteria (rules, an LLM judge, or both)
before it flows into the next step. Failed steps are retried with
exponential backoff and every run tracks its cost against an optional
budget.

Run 'stepchain run <plan-file>' to execute a plan locally.
Run 'stepchain serve' to start the HTTP API and 'stepchain runs' to
manage runs on it.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	shared.RegisterPersistentFlags(cmd.PersistentFlags())

	cmd.AddCommand(run.NewCommand())
	cmd.AddCommand(validate.NewCommand())
	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(runs.NewCommand())
	cmd.AddCommand(model.NewCommand())
	cmd.AddCommand(example.NewCommand())
	cmd.AddCommand(configcmd.NewCommand())
	cmd.AddCommand(completion.NewCommand())
	cmd.AddCommand(version.NewVersionCommand())
	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
