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

// Package serve implements the serve command, which runs the HTTP API.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/commands/completion"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/config"
	"github.com/tombee/stepchain/internal/controller"
	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/pkg/llm"
)

type options struct {
	addr      string
	store     string
	plansDir  string
	watch     bool
	metricsOn bool
	mockFile  string

	// client and ready are test hooks.
	client llm.Client
	ready  func(addr string)
}

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stepchain API server",
		Annotations: map[string]string{
			"group": "server",
		},
		Long: `Serve starts the HTTP API: plans, runs, models, progress streams and
Prometheus metrics.

Flags override the configuration file and environment.

On SIGINT or SIGTERM the server stops accepting runs, waits up to
server.shutdown_timeout for active runs to finish, cancels the rest and
exits.`,
		Example: `  # Example 1: Serve with the default SQLite store
  stepchain serve

  # Example 2: Serve plans from a directory, reloading on change
  stepchain serve --plans-dir ./plans --watch

  # Example 3: Serve on another port with PostgreSQL
  STEPCHAIN_POSTGRES_URL=postgres://localhost/stepchain stepchain serve --addr :9090 --store postgres`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, opts)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default :8080)")
	cmd.Flags().StringVar(&opts.store, "store", "", "Store type: memory, sqlite or postgres")
	cmd.Flags().StringVar(&opts.plansDir, "plans-dir", "", "Directory of plan documents to serve")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload the plans directory when files change")
	cmd.Flags().BoolVar(&opts.metricsOn, "metrics", true, "Serve Prometheus metrics at /metrics")
	cmd.Flags().StringVar(&opts.mockFile, "mock", "", "Answer model calls from a fixture file instead of the backend")

	_ = cmd.RegisterFlagCompletionFunc("store", completion.CompleteStoreTypes)

	return cmd
}

// applyFlags overrides cfg with flags the user set.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts options) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = opts.addr
	}
	if flags.Changed("store") {
		cfg.Store.Type = opts.store
	}
	if flags.Changed("plans-dir") {
		cfg.Plans.Dir = opts.plansDir
	}
	if flags.Changed("watch") {
		cfg.Plans.Watch = opts.watch
	}
	if flags.Changed("metrics") {
		cfg.Observability.MetricsEnabled = opts.metricsOn
	}
}

// serve runs the controller until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, cfg *config.Config, opts options) error {
	if err := cfg.Validate(); err != nil {
		return &shared.ExitError{Code: shared.ExitConfigError, Message: "invalid configuration", Cause: err}
	}

	logger := log.New(cfg.Log.LoggerConfig())
	slog.SetDefault(logger)

	client := opts.client
	if client == nil && opts.mockFile != "" {
		var err error
		if client, err = shared.LoadMockClient(opts.mockFile); err != nil {
			return err
		}
		logger.Warn("serving with scripted model responses", "fixture", opts.mockFile)
	}

	v, c, b := shared.GetVersion()
	ctrl, err := controller.New(ctx, cfg, controller.Options{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		Logger:    logger,
		Client:    client,
	})
	if err != nil {
		return &shared.ExitError{Code: shared.ExitConfigError, Message: "failed to start", Cause: err}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- ctrl.Start(ctx)
	}()

	if opts.ready != nil {
		go waitReady(ctx, ctrl, opts.ready)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", log.Error(serveErr))
		}
	}

	if err := ctrl.Shutdown(context.Background()); err != nil {
		logger.Warn("shutdown incomplete", log.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}

func waitReady(ctx context.Context, ctrl *controller.Controller, ready func(string)) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if addr := ctrl.Addr(); addr != "" {
			ready(addr)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
