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

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/config"
)

var envKeys = []string{
	"LOG_FORMAT", "LOG_LEVEL", "LOG_SOURCE", "OPENAI_API_KEY", "STEPCHAIN_ADDR", "STEPCHAIN_API_KEY",
	"STEPCHAIN_BACKOFF_BASE", "STEPCHAIN_LOG_LEVEL", "STEPCHAIN_MAX_CONCURRENT_RUNS", "STEPCHAIN_MODEL_BASE_URL",
	"STEPCHAIN_PLANS_DIR", "STEPCHAIN_POSTGRES_URL", "STEPCHAIN_SQLITE_PATH", "STEPCHAIN_STORE",
	"STEPCHAIN_TRACING_ENDPOINT", "STEPCHAIN_TRACING_EXPORTER",
}

// isolate keeps tests away from the user's config and environment.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	shared.SetConfigPathForTest("")
	t.Cleanup(func() { shared.SetConfigPathForTest("") })
}

func useConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	shared.SetConfigPathForTest(path)
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

func TestShow_MasksSecrets(t *testing.T) {
	isolate(t)
	path := useConfig(t, `
store:
  type: postgres
  postgres_url: postgres://app:hunter2@db:5432/stepchain
model:
  api_key: sk-live-abcdef123456
`)

	out, err := execute(t, "show")
	require.NoError(t, err)

	assert.Contains(t, out, "# Configuration: "+path)
	assert.Contains(t, out, "...3456")
	assert.Contains(t, out, "postgres://app:redacted@db:5432/stepchain")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "sk-live-abcdef123456")
}

func TestShow_JSONUsesFileKeys(t *testing.T) {
	isolate(t)
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)

	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, `"max_concurrent_runs"`)
	assert.Contains(t, out, `"shutdown_timeout"`)
}

func TestPath(t *testing.T) {
	isolate(t)

	out, err := execute(t, "path")
	require.NoError(t, err)
	assert.Equal(t, config.ConfigPath()+"\n", out)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		args      []string
		wantCode  int
		wantInOut []string
	}{
		{
			name:      "valid with warnings",
			doc:       "store:\n  type: memory\n",
			args:      []string{"validate"},
			wantInOut: []string{"Configuration is valid", "model.api_key is not set", "store.type is memory"},
		},
		{
			name:      "strict turns warnings into errors",
			doc:       "store:\n  type: memory\n",
			args:      []string{"validate", "--strict"},
			wantCode:  shared.ExitConfigError,
			wantInOut: []string{"store.type is memory"},
		},
		{
			name:      "invalid",
			doc:       "store:\n  type: redis\n",
			args:      []string{"validate"},
			wantCode:  shared.ExitConfigError,
			wantInOut: []string{"Configuration validation failed", "store.type must be one of"},
		},
		{
			name:      "watch without dir",
			doc:       "plans:\n  watch: true\nmodel:\n  api_key: sk-abcdefgh\n",
			args:      []string{"validate"},
			wantInOut: []string{"plans.watch has no effect"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			useConfig(t, tt.doc)

			out, err := execute(t, tt.args...)
			if tt.wantCode == 0 {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, shared.ExitCode(err))
			}
			for _, want := range tt.wantInOut {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestValidate_JSON(t *testing.T) {
	isolate(t)
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)
	useConfig(t, "model:\n  api_key: sk-abcdefgh\nstore:\n  type: sqlite\n")

	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, `"command": "config validate"`)
	assert.Contains(t, out, `"valid": true`)
}

func TestNewCommand_Subcommands(t *testing.T) {
	var names []string
	for _, c := range NewCommand().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"show", "path", "validate"}, names)
}
