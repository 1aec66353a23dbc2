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

// Package example implements the example command group for browsing and
// copying the plans embedded in the binary.
package example

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/commands/completion"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/examples"
)

// NewCommand creates the example command group
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "example",
		Aliases: []string{"examples"},
		Annotations: map[string]string{
			"group": "plans",
		},
		Short: "Browse and copy example plans",
		Long: `Browse and copy the example plans embedded in stepchain.

Examples work offline and can be run directly by name:

  stepchain run hello-world`,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newCopyCmd())

	// Default to list if no subcommand specified
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return newListCmd().RunE(cmd, args)
	}

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List example plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			list, err := examples.List()
			if err != nil {
				return fmt.Errorf("failed to list examples: %w", err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(out, map[string][]examples.Example{"examples": list})
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tDESCRIPTION")
			for _, ex := range list {
				fmt.Fprintf(w, "%s\t%d\t%s\n", ex.Name, ex.Steps, ex.Description)
			}
			w.Flush()

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Use 'stepchain example show <name>' to view an example")
			fmt.Fprintln(out, "Use 'stepchain run <name>' to execute an example")
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print an example plan",
		Example: `  # Save an example as a starting point
  stepchain example show code-review > my-plan.yaml`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteExampleNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := examples.Get(args[0])
			if err != nil {
				return unknownExample(args[0], err)
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
}

func newCopyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <name> [dest]",
		Short: "Copy an example plan to a file",
		Long: `Copy an example plan to dest, or to <name>.yaml in the current
directory. Existing files are never overwritten.`,
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: completion.CompleteExampleNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !examples.Exists(name) {
				return unknownExample(name, nil)
			}

			dest := name + ".yaml"
			if len(args) == 2 {
				dest = args[1]
			}
			if err := examples.CopyTo(name, dest); err != nil {
				return err
			}

			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Copied %s to %s", name, filepath.Clean(dest))))
			}
			return nil
		},
	}
}

func unknownExample(name string, cause error) error {
	return &shared.ExitError{
		Code:    shared.ExitInvalidPlan,
		Message: fmt.Sprintf("unknown example %q; run 'stepchain example list'", name),
		Cause:   cause,
	}
}
