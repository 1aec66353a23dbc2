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

package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/commands/shared"
)

func newTestRoot() *cobra.Command {
	rootCmd := &cobra.Command{Use: "test", Short: "Test command"}
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	sampleCmd := &cobra.Command{
		Use:     "sample",
		Short:   "Sample subcommand",
		Long:    "This is a sample subcommand for testing",
		Example: "  test sample --flag value",
		Annotations: map[string]string{
			"group": "testing",
		},
		Run: func(cmd *cobra.Command, args []string) {},
	}
	sampleCmd.Flags().String("flag", "", "A sample flag")
	sampleCmd.AddCommand(&cobra.Command{Use: "child", Short: "Child", Run: func(*cobra.Command, []string) {}})
	sampleCmd.AddCommand(&cobra.Command{Use: "secret", Hidden: true, Run: func(*cobra.Command, []string) {}})
	rootCmd.AddCommand(sampleCmd)

	rootCmd.SetHelpCommand(NewHelpCommand(rootCmd))
	return rootCmd
}

func runHelp(t *testing.T, args ...string) (HelpResponse, error) {
	t.Helper()
	shared.SetJSONForTest(true)
	t.Cleanup(func() { shared.SetJSONForTest(false) })

	rootCmd := newTestRoot()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"help"}, args...))

	err := rootCmd.Execute()
	var resp HelpResponse
	if err == nil {
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	}
	return resp, err
}

func TestHelpCommandJSON_AllCommands(t *testing.T) {
	resp, err := runHelp(t)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "help", resp.JSONResponse.Command)
	require.NotEmpty(t, resp.Commands)

	var sample *CommandMetadata
	for i := range resp.Commands {
		if resp.Commands[i].Name == "sample" {
			sample = &resp.Commands[i]
		}
	}
	require.NotNil(t, sample)
	assert.Equal(t, "testing", sample.Group)

	require.Len(t, resp.GlobalFlags, 1)
	assert.Equal(t, "verbose", resp.GlobalFlags[0].Name)
}

func TestHelpCommandJSON_SingleCommand(t *testing.T) {
	resp, err := runHelp(t, "sample")
	require.NoError(t, err)

	require.NotNil(t, resp.Target)
	assert.Equal(t, "sample", resp.Target.Name)
	assert.Equal(t, "This is a sample subcommand for testing", resp.Target.Long)
	assert.Equal(t, []string{"child"}, resp.Target.Subcommands)
	require.Len(t, resp.Target.Flags, 1)
	assert.Equal(t, "flag", resp.Target.Flags[0].Name)
}

func TestHelpCommandJSON_UnknownCommand(t *testing.T) {
	_, err := runHelp(t, "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestHelpCommandHumanOutput(t *testing.T) {
	rootCmd := newTestRoot()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"help", "sample"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "This is a sample subcommand for testing")
	assert.Contains(t, out.String(), "--flag")
}

func TestExtractGlobalFlags_SkipsHidden(t *testing.T) {
	rootCmd := &cobra.Command{Use: "test"}
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Quiet")
	rootCmd.PersistentFlags().Bool("internal", false, "Internal")
	require.NoError(t, rootCmd.PersistentFlags().MarkHidden("internal"))

	flags := extractGlobalFlags(rootCmd)
	require.Len(t, flags, 1)
	assert.Equal(t, "quiet", flags[0].Name)
	assert.Equal(t, "q", flags[0].Shorthand)
	assert.Equal(t, "false", flags[0].Default)
}
