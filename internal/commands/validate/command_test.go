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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/commands/shared"
)

const validPlan = `
name: Greeting
steps:
  - order: 1
    name: greet
    model: gpt-3.5-turbo
    prompt: Say hello.
    criteria:
      type: hybrid
      primary:
        type: rule
        rules:
          - type: contains
            value: hello
      fallback:
        type: llm_judge
        judge_model: gpt-4-turbo
        judge_prompt: Is this a greeting?
`

const unknownModelPlan = `
name: Mystery
steps:
  - order: 1
    name: guess
    model: mystery-model
    prompt: Guess.
`

func writePlan(t *testing.T, name, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

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

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, writePlan(t, "greeting.yaml", validPlan))
	require.NoError(t, err)
	assert.Contains(t, out, "Greeting, 1 steps")
}

func TestValidate_UnknownModelWarns(t *testing.T) {
	out, err := execute(t, writePlan(t, "mystery.yaml", unknownModelPlan))
	require.NoError(t, err)
	assert.Contains(t, out, `step 1 (guess) uses unknown model "mystery-model"`)
}

func TestValidate_UnknownModelStrict(t *testing.T) {
	_, err := execute(t, "--strict", writePlan(t, "mystery.yaml", unknownModelPlan))
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidPlan, shared.ExitCode(err))
}

func TestValidate_Invalid(t *testing.T) {
	path := writePlan(t, "broken.yaml", "name: Broken\nsteps:\n  - order: 0\n    name: x\n")
	out, err := execute(t, path)
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidPlan, shared.ExitCode(err))
	assert.Contains(t, out, "steps[0].order")
	assert.Contains(t, err.Error(), "1 of 1 plan(s) invalid")
}

func TestValidate_JSON(t *testing.T) {
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)

	good := writePlan(t, "greeting.yaml", validPlan)
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	out, err := execute(t, good, missing)
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidPlan, shared.ExitCode(err))

	var resp struct {
		Success bool         `json:"success"`
		Plans   []PlanReport `json:"plans"`
		Errors  []shared.JSONError
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Success)
	require.Len(t, resp.Plans, 2)
	assert.True(t, resp.Plans[0].Valid)
	assert.False(t, resp.Plans[1].Valid)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, shared.ErrorCodeFileNotFound, resp.Errors[0].Code)
}
