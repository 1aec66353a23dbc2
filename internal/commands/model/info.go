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

package model

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/catalog"
	"github.com/tombee/stepchain/internal/commands/completion"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/llm"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <model>",
		Short: "Show detailed information about a model",
		Long: `Display model metadata including pricing, context window and
capabilities.

Examples:
  # Show info for a specific model
  stepchain model info claude-3-haiku

  # Get JSON output
  stepchain model info claude-3-haiku --json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteModelIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(cmd.Context(), func(c *catalog.Catalog) error {
				m, err := c.Get(cmd.Context(), args[0])
				if err != nil {
					if errors.IsNotFound(err) {
						return fmt.Errorf("model not found: %s. Run 'stepchain model list' to see available models", args[0])
					}
					return err
				}
				return printModel(cmd.OutOrStdout(), m)
			})
		},
	}
}

func newCheapestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cheapest",
		Short: "Show the cheapest available model",
		Long: `Show the available model with the lowest combined input and output
price per 1000 tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(cmd.Context(), func(c *catalog.Catalog) error {
				m, err := c.Cheapest(cmd.Context())
				if err != nil {
					return err
				}
				return printModel(cmd.OutOrStdout(), m)
			})
		},
	}
}

func printModel(out io.Writer, m llm.ModelInfo) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, m)
	}

	fmt.Fprintf(out, "%s %s\n", shared.Header.Render("Model:"), m.ID)
	if m.DisplayName != "" {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Name:"), m.DisplayName)
	}
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Provider:"), m.Provider)
	if m.ContextWindow > 0 {
		fmt.Fprintf(out, "%s %d tokens\n", shared.RenderLabel("Context window:"), m.ContextWindow)
	}
	fmt.Fprintf(out, "%s %s per 1K tokens\n", shared.RenderLabel("Input price:"), shared.FormatCost(m.InputPricePer1K))
	fmt.Fprintf(out, "%s %s per 1K tokens\n", shared.RenderLabel("Output price:"), shared.FormatCost(m.OutputPricePer1K))

	var caps []string
	for name, ok := range m.Capabilities {
		if ok {
			caps = append(caps, name)
		}
	}
	if len(caps) > 0 {
		sort.Strings(caps)
		fmt.Fprintf(out, "%s %v\n", shared.RenderLabel("Capabilities:"), caps)
	}
	return nil
}
