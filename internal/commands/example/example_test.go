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

package example

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/commands/shared"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "hello-world")
	assert.Contains(t, out, "code-review")
}

func TestList_Default(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "hello-world")
}

func TestList_JSON(t *testing.T) {
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)

	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"examples"`)
	assert.Contains(t, out, `"name": "code-review"`)
}

func TestShow(t *testing.T) {
	out, err := execute(t, "show", "hello-world")
	require.NoError(t, err)
	assert.Contains(t, out, "name: Hello World")
}

func TestShow_Unknown(t *testing.T) {
	_, err := execute(t, "show", "nope")
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidPlan, shared.ExitCode(err))
	assert.Contains(t, err.Error(), `unknown example "nope"`)
}

func TestCopy(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "mine.yaml")

	out, err := execute(t, "copy", "code-review", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "Copied code-review")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Code Review")

	_, err = execute(t, "copy", "code-review", dest)
	assert.Error(t, err)
}

func TestNewCommand_Subcommands(t *testing.T) {
	var names []string
	for _, c := range NewCommand().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"list", "show", "copy"}, names)
}
