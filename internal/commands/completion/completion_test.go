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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planDoc = `name: Demo
steps:
  - order: 1
    name: one
    model: gpt-3.5-turbo
    prompt: hi
    criteria:
      type: rule
      rules:
        - type: minLength
          value: 1
`

func TestSafeCompletionWrapper_RecoversPanic(t *testing.T) {
	results, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	assert.Empty(t, results)
	assert.NotNil(t, results)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestSafeCompletionWrapper_NilResults(t *testing.T) {
	results, _ := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	assert.NotNil(t, results)
}

func TestCompleteExampleNames(t *testing.T) {
	results, directive := CompleteExampleNames(&cobra.Command{Use: "show"}, nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	assert.Contains(t, results, "hello-world\tTwo-step greeting that checks each reply with simple rules")

	results, _ = CompleteExampleNames(&cobra.Command{Use: "show"}, []string{"hello-world"}, "")
	assert.Empty(t, results)
}

func TestDiscoverPlanFiles(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	write("plan.yaml", planDoc)
	write("nested/other.yml", planDoc)
	write("config.yaml", "log:\n  level: debug\n")
	write(".hidden/plan.yaml", planDoc)
	write("a/b/c/deep.yaml", planDoc)
	write("notes.txt", planDoc)

	files, err := discoverPlanFiles(root, maxSearchDepth)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f.path)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.ElementsMatch(t, []string{"plan.yaml", "nested/other.yml"}, rel)
}

func TestCompleteModelIDs(t *testing.T) {
	results, directive := CompleteModelIDs(&cobra.Command{}, nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	assert.Contains(t, results, "claude-3-haiku\tClaude 3 Haiku")
	assert.Len(t, results, 5)
}

func TestCompleteProviders(t *testing.T) {
	results, _ := CompleteProviders(&cobra.Command{}, nil, "")
	assert.Equal(t, []string{"anthropic", "openai"}, results)
}

func TestCompleteStoreTypes(t *testing.T) {
	results, _ := CompleteStoreTypes(&cobra.Command{}, nil, "")
	assert.Len(t, results, 3)
	assert.Contains(t, results[0], "memory")
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "stepchain"}
	root.AddCommand(NewCommand())

	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			var buf bytes.Buffer
			root.SetOut(&buf)
			root.SetArgs([]string{"completion", shell})
			require.NoError(t, root.Execute())
			assert.Contains(t, buf.String(), "stepchain")
		})
	}

	root.SetArgs([]string{"completion", "tcsh"})
	assert.Error(t, root.Execute())
}
