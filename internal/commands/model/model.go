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

package model

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/catalog"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/controller"
	"github.com/tombee/stepchain/internal/log"
)

// NewCommand creates the model command group
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "model",
		Aliases: []string{"models"},
		Short:   "Inspect the model catalog",
		Long: `Inspect the models steps may use, with their pricing.

The catalog is read from the configured store, which is seeded with the
built-in models unless store.seed_models is false.

Examples:
  # List all available models
  stepchain model list

  # List one provider's models
  stepchain model list anthropic

  # Show pricing for a model
  stepchain model info gpt-4-turbo

  # Show the cheapest available model
  stepchain model cheapest`,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newCheapestCmd())

	// Default to list if no subcommand specified
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return newListCmd().RunE(cmd, args)
	}

	return cmd
}

// withCatalog builds the service from configuration and passes its catalog
// to fn.
func withCatalog(ctx context.Context, fn func(*catalog.Catalog) error) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Plans.Dir = ""

	v, _, _ := shared.GetVersion()
	ctrl, err := controller.New(ctx, cfg, controller.Options{Version: v, Logger: log.Discard()})
	if err != nil {
		return &shared.ExitError{Code: shared.ExitConfigError, Message: "failed to open model catalog", Cause: err}
	}
	defer func() { _ = ctrl.Shutdown(context.Background()) }()

	return fn(ctrl.Catalog())
}
