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

// Package runs implements the `stepchain runs` command group, which manages
// runs on a server started with `stepchain serve`.
package runs

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/client"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/log"
)

// ServerEnv names the environment variable holding the server URL.
const ServerEnv = "STEPCHAIN_SERVER"

// NewCommand creates the runs command group.
func NewCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use: "runs",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Manage runs on a stepchain server",
		Long: `Commands for starting, watching and cancelling runs on a server
started with 'stepchain serve'.

The server is taken from --server, then $STEPCHAIN_SERVER, then the
configured listen address on localhost.`,
	}

	cmd.PersistentFlags().StringVar(&server, "server", "", "Server URL (default from $STEPCHAIN_SERVER or config)")

	connect := func() (*client.Client, error) {
		url, err := resolveServer(server)
		if err != nil {
			return nil, err
		}
		logger := log.Discard()
		if shared.GetVerbose() {
			logger = log.New(&log.Config{Level: "debug", Format: log.FormatText, Output: cmd.ErrOrStderr()})
		}
		c, err := client.New(url, client.WithLogger(logger))
		if err != nil {
			return nil, &shared.ExitError{Code: shared.ExitConfigError, Message: "invalid server", Cause: err}
		}
		return c, nil
	}

	cmd.AddCommand(newListCommand(connect))
	cmd.AddCommand(newShowCommand(connect))
	cmd.AddCommand(newStartCommand(connect))
	cmd.AddCommand(newWatchCommand(connect))
	cmd.AddCommand(newCancelCommand(connect))

	return cmd
}

type connectFunc func() (*client.Client, error)

// resolveServer picks the server URL from the flag, the environment or the
// configured listen address.
func resolveServer(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(ServerEnv); env != "" {
		return env, nil
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		return "", err
	}
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr, nil
}
