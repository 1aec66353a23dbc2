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

package run

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/pkg/llm"
)

const greetingPlan = `
name: Greeting
steps:
  - order: 1
    name: greet
    model: gpt-3.5-turbo
    prompt: Say hello.
    retry_limit: 0
    criteria:
      type: rule
      rules:
        - type: contains
          value: hello
  - order: 2
    name: shout
    model: gpt-3.5-turbo
    prompt: "Shout this: {{previous_output}}"
    retry_limit: 0
    criteria:
      type: rule
      rules:
        - type: minLength
          value: 1
`

type fixedClient struct {
	content string
}

func (c fixedClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Content: c.content,
		Model:   req.Model,
		Usage:   llm.TokenUsage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	}, nil
}

type blockingClient struct{}

func (blockingClient) Complete(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// isolate keeps tests away from the user's config and environment.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	for _, key := range []string{"STEPCHAIN_STORE", "STEPCHAIN_PLANS_DIR", "STEPCHAIN_TRACING_EXPORTER", "STEPCHAIN_BACKOFF_BASE"} {
		t.Setenv(key, "")
	}
	shared.SetConfigPathForTest("")
}

func writePlan(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func newCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return cmd, &buf
}

func TestRun_Completed(t *testing.T) {
	isolate(t)
	cmd, buf := newCmd()
	outFile := filepath.Join(t.TempDir(), "out.txt")

	err := runPlan(context.Background(), cmd, writePlan(t, greetingPlan), options{
		outputFile: outFile,
		client:     fixedClient{content: "hello world"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Running plan:")
	assert.Contains(t, out, "step 1 (greet)")
	assert.Contains(t, out, "step 2 (shout)")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "20 tokens")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestRun_Failed(t *testing.T) {
	isolate(t)
	cmd, buf := newCmd()

	err := runPlan(context.Background(), cmd, writePlan(t, greetingPlan), options{
		client: fixedClient{content: "goodbye"},
	})
	require.Error(t, err)
	assert.Equal(t, shared.ExitRunFailed, shared.ExitCode(err))
	assert.Contains(t, err.Error(), "step 1 (greet) failed")
	assert.Contains(t, buf.String(), "completion criteria not met")
}

func TestRun_Cancelled(t *testing.T) {
	isolate(t)
	cmd, _ := newCmd()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runPlan(ctx, cmd, writePlan(t, greetingPlan), options{client: blockingClient{}})
	require.Error(t, err)
	assert.Equal(t, shared.ExitCancelled, shared.ExitCode(err))
}

func TestRun_InvalidPlan(t *testing.T) {
	isolate(t)
	cmd, _ := newCmd()

	err := runPlan(context.Background(), cmd, writePlan(t, "steps: []\n"), options{})
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidPlan, shared.ExitCode(err))
}

func TestRun_DryRun(t *testing.T) {
	cmd, buf := newCmd()

	err := runPlan(context.Background(), cmd, writePlan(t, greetingPlan), options{
		dryRun: true,
		model:  "claude-3-haiku",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "1. greet")
	assert.Contains(t, out, "2. shout")
	assert.Contains(t, out, "model claude-3-haiku, criteria rule, retries 0, context full")
}

func TestRun_JSON(t *testing.T) {
	isolate(t)
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)
	cmd, buf := newCmd()

	err := runPlan(context.Background(), cmd, writePlan(t, greetingPlan), options{
		client:   fixedClient{content: "hello world"},
		metadata: map[string]string{"ticket": "42"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "Running plan:")
	assert.Contains(t, out, `"success": true`)
	assert.Contains(t, out, `"ticket": "42"`)
	assert.Contains(t, out, `"step_order": 2`)
}

func TestRun_EmbeddedExample(t *testing.T) {
	isolate(t)
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)
	cmd, buf := newCmd()

	err := runPlan(context.Background(), cmd, "hello-world", options{
		client: fixedClient{content: "hello world"},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"source": "example:hello-world"`)
}

func TestRun_MockFixture(t *testing.T) {
	isolate(t)
	cmd, buf := newCmd()

	fixture := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(`
responses:
  - when:
      prompt_contains: shout
    return: HELLO WORLD
  - error: timeout
    times: 1
  - default: true
    return: hello world
`), 0o600))

	t.Setenv("STEPCHAIN_BACKOFF_BASE", "1ms")
	doc := strings.Replace(greetingPlan, "retry_limit: 0", "retry_limit: 1", 1)
	err := runPlan(context.Background(), cmd, writePlan(t, doc), options{mockFile: fixture})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "HELLO WORLD")
}

func TestRun_MockFixtureInvalid(t *testing.T) {
	isolate(t)
	cmd, _ := newCmd()

	err := runPlan(context.Background(), cmd, writePlan(t, greetingPlan), options{
		mockFile: filepath.Join(t.TempDir(), "missing.yaml"),
	})
	require.Error(t, err)
	assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
}

func TestFinalOutput(t *testing.T) {
	assert.Equal(t, "", finalOutput(nil))
}
