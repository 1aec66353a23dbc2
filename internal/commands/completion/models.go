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

package completion

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/catalog"
	"github.com/tombee/stepchain/internal/config"
)

// CompleteModelIDs completes built-in model IDs with their display names.
// The configured store is not opened.
func CompleteModelIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		var out []string
		for _, m := range catalog.DefaultModels() {
			out = append(out, m.ID+"\t"+m.DisplayName)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteProviders completes the providers of the built-in models.
func CompleteProviders(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		seen := map[string]bool{}
		var out []string
		for _, m := range catalog.DefaultModels() {
			if !seen[m.Provider] {
				seen[m.Provider] = true
				out = append(out, m.Provider)
			}
		}
		sort.Strings(out)
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteStoreTypes provides completion for --store flag values.
func CompleteStoreTypes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			config.StoreMemory + "\tIn-process, lost on exit",
			config.StoreSQLite + "\tLocal SQLite file",
			config.StorePostgres + "\tPostgreSQL database",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}
