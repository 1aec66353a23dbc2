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

// Package config implements the config command group: show, path and
// validate.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/config"
	"github.com/tombee/stepchain/internal/log"
)

// NewCommand creates the config command with subcommands
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and check configuration",
		Annotations: map[string]string{
			"group": "configuration",
		},
		Long: `View and check stepchain configuration.

The effective configuration is the config file (--config, or the default
location when it exists) with environment variables applied on top.

Subcommands:
  show     - Display the effective configuration
  path     - Show the default config file location
  validate - Check the configuration for errors and warnings`,
	}

	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newPathCommand())
	cmd.AddCommand(newValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return newShowCommand().RunE(cmd, args)
	}

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration.

Sensitive values (API key, database password) are masked.
Use --json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			doc, err := toDocument(maskSensitiveConfig(cfg))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, doc)
			}

			if path := configFile(); path != "" {
				fmt.Fprintf(out, "# Configuration: %s\n", path)
			} else {
				fmt.Fprintln(out, "# Configuration: defaults and environment")
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			return enc.Close()
		},
	}
}

func newPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := shared.GetConfigPath()
			if path == "" {
				path = config.ConfigPath()
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

// configFile returns the file LoadConfig reads, or "" when only defaults and
// environment apply.
func configFile() string {
	if path := shared.GetConfigPath(); path != "" {
		return path
	}
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		return config.ConfigPath()
	}
	return ""
}

// maskSensitiveConfig returns a copy of cfg with secrets masked
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	if masked.Model.APIKey != "" {
		masked.Model.APIKey = log.SanitizeAPIKey(masked.Model.APIKey)
	}
	masked.Store.PostgresURL = maskURLPassword(masked.Store.PostgresURL)

	if len(cfg.Observability.Tracing.Headers) > 0 {
		headers := make(map[string]string, len(cfg.Observability.Tracing.Headers))
		for k := range cfg.Observability.Tracing.Headers {
			headers[k] = "[REDACTED]"
		}
		masked.Observability.Tracing.Headers = headers
	}
	return &masked
}

func maskURLPassword(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}

// toDocument converts cfg to its YAML key layout so JSON output uses the
// same names as the config file.
func toDocument(cfg *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return doc, nil
}
