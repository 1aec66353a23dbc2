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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/stepchain/internal/examples"
)

const (
	maxPlanFiles   = 100
	maxSearchDepth = 2
)

type planFile struct {
	path    string
	modTime int64
}

// CompleteExampleNames completes embedded example names with their
// descriptions as hints.
func CompleteExampleNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return exampleNames(), cobra.ShellCompDirectiveNoFileComp
	})
}

// CompletePlanArgs completes plan documents under the current directory
// (newest first, at most two levels deep). The run command also gets
// example names.
func CompletePlanArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		files, _ := discoverPlanFiles(".", maxSearchDepth)
		sort.Slice(files, func(i, j int) bool { return files[i].modTime > files[j].modTime })
		if len(files) > maxPlanFiles {
			files = files[:maxPlanFiles]
		}

		var out []string
		for _, f := range files {
			out = append(out, f.path)
		}
		if cmd.Name() == "run" && len(args) == 0 {
			out = append(out, exampleNames()...)
		}
		return out, cobra.ShellCompDirectiveDefault
	})
}

func exampleNames() []string {
	list, err := examples.List()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, ex := range list {
		out = append(out, ex.Name+"\t"+ex.Description)
	}
	return out
}

// discoverPlanFiles finds plan documents up to maxDepth directories below
// root. Hidden directories and symlinks are skipped.
func discoverPlanFiles(root string, maxDepth int) ([]planFile, error) {
	var files []planFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		relPath, _ := filepath.Rel(root, path)
		if strings.Count(relPath, string(filepath.Separator)) > maxDepth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" && ext != ".json" {
			return nil
		}
		if !isPlanFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, planFile{path: path, modTime: info.ModTime().UnixNano()})
		return nil
	})

	return files, err
}

// isPlanFile reports whether the document at path has top-level name and
// steps keys.
func isPlanFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}

	_, hasName := doc["name"]
	_, hasSteps := doc["steps"]
	return hasName && hasSteps
}
