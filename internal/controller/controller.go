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

package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/stepchain/internal/api"
	"github.com/tombee/stepchain/internal/catalog"
	"github.com/tombee/stepchain/internal/config"
	"github.com/tombee/stepchain/internal/executor"
	internallog "github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/progress"
	"github.com/tombee/stepchain/internal/runner"
	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/internal/store/memory"
	"github.com/tombee/stepchain/internal/store/planfs"
	"github.com/tombee/stepchain/internal/store/sqlstore"
	"github.com/tombee/stepchain/internal/tracing"
	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/llm/providers"
	"github.com/tombee/stepchain/pkg/promptctx"
)

// Options contains controller options set at build time or by tests.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Logger overrides the logger built from cfg.Log.
	Logger *slog.Logger

	// Client overrides the OpenAI-compatible model client.
	Client llm.Client

	// Store overrides the store built from cfg.Store. The controller closes
	// it on Shutdown.
	Store store.Store
}

// Controller is the stepchain service.
type Controller struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store    store.Store
	files    *planfs.Store
	plans    *store.Layered
	catalog  *catalog.Catalog
	progress *progress.Broadcaster
	tracer   *tracing.Provider
	runner   *runner.Manager
	router   *api.Router

	server *http.Server
	ln     net.Listener

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// New builds a controller from cfg. Nothing is served until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = internallog.New(cfg.Log.LoggerConfig())
	}
	logger = internallog.WithComponent(logger, "controller")

	c := &Controller{cfg: cfg, opts: opts, logger: logger}

	tracingCfg := cfg.Observability.Tracing
	if tracingCfg.ServiceVersion == "" {
		tracingCfg.ServiceVersion = opts.Version
	}
	tp, err := tracing.Setup(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	c.tracer = tp

	st := opts.Store
	if st == nil {
		st, err = openStore(ctx, cfg.Store, logger)
		if err != nil {
			c.release(ctx)
			return nil, err
		}
	}
	c.store = st

	if cfg.Store.SeedModels {
		if err := store.Seed(ctx, st, catalog.DefaultModels()); err != nil {
			c.release(ctx)
			return nil, fmt.Errorf("failed to seed models: %w", err)
		}
	}

	layers := []store.PlanStore{st}
	if cfg.Plans.Dir != "" {
		files, err := planfs.New(planfs.Config{Dir: cfg.Plans.Dir, Logger: logger})
		if err != nil {
			c.release(ctx)
			return nil, fmt.Errorf("failed to load plans directory: %w", err)
		}
		c.files = files
		layers = append(layers, files)
	}
	c.plans = store.NewLayered(layers...)

	c.catalog = catalog.New(st,
		catalog.WithTTL(cfg.Catalog.TTL),
		catalog.WithLogger(logger),
	)

	client := opts.Client
	if client == nil {
		client, err = providers.NewOpenAIClient(providers.OpenAIConfig{
			BaseURL: cfg.Model.BaseURL,
			APIKey:  cfg.Model.APIKey,
			HTTP:    httpConfig(cfg.Model, logger),
			Logger:  logger,
		})
		if err != nil {
			c.release(ctx)
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
	}
	client = tracing.WrapClient(client, tp.Tracer("stepchain/llm"))

	tracer := tp.Tracer("stepchain/executor")
	evaluator := criteria.NewEvaluator(client, c.catalog, logger)
	steps := executor.NewStepRunner(client, evaluator, st,
		executor.WithCosts(c.catalog),
		executor.WithBackoffBase(cfg.Execution.BackoffBase),
		executor.WithGeneration(cfg.Model.DefaultTemperature, cfg.Model.DefaultMaxTokens),
		executor.WithStepTracer(tracer),
		executor.WithStepLogger(logger),
	)

	c.progress = progress.New(cfg.Execution.ProgressBuffer, logger)
	orchestrator := executor.New(c.plans, st, steps,
		executor.WithProgress(c.progress),
		executor.WithExtractor(promptctx.NewExtractor(cfg.Execution.SummaryThreshold, logger)),
		executor.WithTracer(tracer),
		executor.WithLogger(logger),
	)

	c.runner = runner.New(c.plans, st, orchestrator, runner.Config{
		MaxConcurrent: cfg.Execution.MaxConcurrentRuns,
		Logger:        logger,
	})

	routerCfg := api.Config{
		Plans:    c.plans,
		Runs:     st,
		Runner:   c.runner,
		Catalog:  c.catalog,
		Progress: c.progress,
		Version:  opts.Version,
		Logger:   logger,
	}
	if cfg.Observability.MetricsEnabled {
		routerCfg.Metrics = promhttp.Handler()
	}
	c.router = api.NewRouter(routerCfg)

	logger.Info("controller initialized",
		slog.String("store", storeLabel(cfg.Store, opts.Store != nil)),
		slog.String("plans_dir", cfg.Plans.Dir),
		slog.String("model_base_url", cfg.Model.BaseURL),
		slog.Bool("tracing", tracingCfg.Enabled()),
		slog.Int("max_concurrent_runs", cfg.Execution.MaxConcurrentRuns))
	return c, nil
}

// openStore creates the configured persistence backend.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Type {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err := sqlstore.New(ctx, sqlstore.Config{
			Dialect: sqlstore.DialectSQLite,
			DSN:     cfg.SQLitePath,
			WAL:     true,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	case config.StorePostgres:
		st, err := sqlstore.New(ctx, sqlstore.Config{
			Dialect:         sqlstore.DialectPostgres,
			DSN:             cfg.PostgresURL,
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func storeLabel(cfg config.StoreConfig, injected bool) string {
	if injected {
		return "custom"
	}
	return cfg.Type
}

// Start serves the API on the configured address and, when enabled, watches
// the plans directory. It blocks until ctx is cancelled or the server fails.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	if c.shutdown {
		c.mu.Unlock()
		return fmt.Errorf("controller is shut down")
	}
	c.started = true

	ln, err := net.Listen("tcp", c.cfg.Server.Addr)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.Server.Addr, err)
	}
	c.ln = ln
	c.server = &http.Server{
		Handler:           c.router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.mu.Unlock()

	if c.files != nil && c.cfg.Plans.Watch {
		go func() {
			if err := c.files.Watch(ctx); err != nil {
				c.logger.Error("plan watcher stopped", internallog.Error(err))
			}
		}()
	}

	c.logger.Info("serving API", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the address the API is listening on, or "" before Start.
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return ""
	}
	return c.ln.Addr().String()
}

// Shutdown drains active runs, stops the HTTP server and releases
// resources. Runs still active when the drain window closes are cancelled.
// Calling Shutdown more than once is a no-op.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	server := c.server
	c.mu.Unlock()

	c.logger.Info("graceful shutdown initiated",
		slog.Int("active_runs", c.runner.ActiveRuns()))

	if server != nil {
		server.SetKeepAlivesEnabled(false)
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, c.cfg.Server.ShutdownTimeout)
	defer drainCancel()
	drainErr := c.runner.Shutdown(drainCtx)
	if drainErr != nil {
		c.logger.Warn("drain timeout exceeded", internallog.Error(drainErr))
	} else {
		c.logger.Info("all runs completed during drain")
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, c.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("HTTP server shutdown error", internallog.Error(err))
		}
	}

	c.release(ctx)
	c.logger.Info("controller stopped")
	return drainErr
}

// release closes the progress broadcaster, tracing provider and store.
func (c *Controller) release(ctx context.Context) {
	if c.progress != nil {
		c.progress.Close()
	}

	if c.tracer != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := c.tracer.Shutdown(flushCtx); err != nil {
			c.logger.Error("OpenTelemetry provider shutdown error", internallog.Error(err))
		}
	}

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Error("failed to close store", internallog.Error(err))
		}
	}
}

// Plans returns the combined plan store: stored plans, then plan files.
func (c *Controller) Plans() store.PlanStore { return c.plans }

// Runs returns the run store.
func (c *Controller) Runs() store.RunStore { return c.store }

// Runner returns the run manager.
func (c *Controller) Runner() *runner.Manager { return c.runner }

// Catalog returns the model catalog.
func (c *Controller) Catalog() *catalog.Catalog { return c.catalog }

// Progress returns the progress broadcaster.
func (c *Controller) Progress() *progress.Broadcaster { return c.progress }

// Handler returns the API handler without starting a listener.
func (c *Controller) Handler() http.Handler { return c.router.Handler() }
