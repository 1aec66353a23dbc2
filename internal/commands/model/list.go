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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/catalog"
	"github.com/tombee/stepchain/internal/commands/completion"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/pkg/llm"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [provider]",
		Short: "List available models",
		Long: `List all available models, optionally filtered by provider.

Prices are USD per 1000 tokens.`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completion.CompleteProviders,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var filterProvider string
			if len(args) > 0 {
				filterProvider = args[0]
			}

			return withCatalog(cmd.Context(), func(c *catalog.Catalog) error {
				var models []llm.ModelInfo
				for _, m := range c.List(cmd.Context()) {
					if filterProvider != "" && m.Provider != filterProvider {
						continue
					}
					models = append(models, m)
				}

				if shared.GetJSON() {
					if models == nil {
						models = []llm.ModelInfo{}
					}
					return shared.EmitJSON(out, map[string][]llm.ModelInfo{"models": models})
				}

				if len(models) == 0 {
					if filterProvider != "" {
						fmt.Fprintf(out, "No models available for provider %q.\n", filterProvider)
					} else {
						fmt.Fprintln(out, "No models available.")
					}
					return nil
				}

				printTable(out, models)
				return nil
			})
		},
	}
}

func printTable(out io.Writer, models []llm.ModelInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPROVIDER\tCONTEXT\tINPUT/1K\tOUTPUT/1K")
	for _, m := range models {
		context := "-"
		if m.ContextWindow > 0 {
			context = fmt.Sprintf("%d", m.ContextWindow)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.Provider, context,
			shared.FormatCost(m.InputPricePer1K), shared.FormatCost(m.OutputPricePer1K))
	}
	w.Flush()
}
