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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/commands/completion"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/internal/config"
	"github.com/tombee/stepchain/internal/controller"
	"github.com/tombee/stepchain/internal/examples"
	"github.com/tombee/stepchain/internal/progress"
	"github.com/tombee/stepchain/internal/runner"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
)

// pollInterval is how often the stored run is re-read while waiting, in
// case the terminal progress event was dropped.
const pollInterval = 250 * time.Millisecond

type options struct {
	outputFile string
	noStats    bool
	model      string
	persist    bool
	dryRun     bool
	mockFile   string
	metadata   map[string]string

	// client replaces the configured model backend in tests.
	client llm.Client
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run <plan-file|example>",
		Short: "Execute a plan",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Run executes a plan document in this process and waits for it to finish.

Each step's prompt is sent to its model, checked against the step's
completion criteria and retried with exponential backoff until it passes or
its retry limit is spent. Accepted output flows into later steps according
to their context mode. The run stops at the first failed step or when the
plan's cost budget is exceeded.

The run is kept in memory unless --persist is set, in which case it is
recorded in the configured store.

Press Ctrl-C to cancel; the current step finishes its model call and the run
is recorded as cancelled.

Exit codes:
  0    run completed
  1    run failed
  2    plan invalid
  3    configuration error
  130  run cancelled`,
		Example: `  # Example 1: Run a plan
  stepchain run plans/blog-post.yaml

  # Example 2: Write the final step's output to a file
  stepchain run plans/blog-post.yaml -o post.md

  # Example 3: Run every step on one model and record the run
  stepchain run plans/blog-post.yaml --model claude-3-haiku --persist

  # Example 4: Run a built-in example plan
  stepchain run hello-world

  # Example 5: Run offline against scripted responses
  stepchain run plans/blog-post.yaml --mock fixtures/blog-post.yaml`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompletePlanArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlan(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "Write the final step's output to file")
	cmd.Flags().BoolVar(&opts.noStats, "no-stats", false, "Don't show the per-step cost and token summary")
	cmd.Flags().StringVar(&opts.model, "model", "", "Run every step on this model")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "Record the run in the configured store")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show the steps without running them")
	cmd.Flags().StringVar(&opts.mockFile, "mock", "", "Answer model calls from a fixture file instead of the backend")
	cmd.Flags().StringToStringVar(&opts.metadata, "metadata", nil, "Run metadata as key=value pairs")

	_ = cmd.RegisterFlagCompletionFunc("model", completion.CompleteModelIDs)

	return cmd
}

func runPlan(ctx context.Context, cmd *cobra.Command, path string, opts options) error {
	out := cmd.OutOrStdout()

	p, source, err := loadPlan(path)
	if err != nil {
		return shared.NewInvalidPlanError("invalid plan", err)
	}
	if opts.model != "" {
		for i := range p.Steps {
			p.Steps[i].ModelID = opts.model
		}
	}

	if opts.dryRun {
		printSteps(out, p)
		return nil
	}

	client := opts.client
	if client == nil && opts.mockFile != "" {
		if client, err = shared.LoadMockClient(opts.mockFile); err != nil {
			return err
		}
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if !opts.persist {
		cfg.Store.Type = config.StoreMemory
	}
	cfg.Plans.Dir = ""
	cfg.Plans.Watch = false
	if !shared.GetVerbose() && !shared.GetQuiet() {
		cfg.Log.Level = "warn"
	}
	cfg.Log.Format = "text"

	v, _, _ := shared.GetVersion()
	ctrl, err := controller.New(ctx, cfg, controller.Options{Version: v, Client: client})
	if err != nil {
		return &shared.ExitError{Code: shared.ExitConfigError, Message: "failed to start", Cause: err}
	}
	defer func() { _ = ctrl.Shutdown(context.Background()) }()

	if err := ctrl.Plans().SavePlan(ctx, p); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	events, unsubscribe := ctrl.Progress().Subscribe(progress.AllRuns)
	defer unsubscribe()

	metadata := map[string]any{"source": source}
	for k, v := range opts.metadata {
		metadata[k] = v
	}
	run, err := ctrl.Runner().Start(ctx, p.ID, metadata)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	display := shared.NewProgressDisplay(out, shared.GetQuiet() || shared.GetJSON())
	display.Start(p, run.ID)

	final, err := wait(ctx, ctrl, run.ID, events, display)
	if err != nil {
		return err
	}

	stepRuns, err := ctrl.Runs().ListStepRuns(context.Background(), run.ID)
	if err != nil {
		return fmt.Errorf("failed to load step results: %w", err)
	}

	if shared.GetJSON() {
		resp := struct {
			shared.JSONResponse
			Run   *plan.Run       `json:"run"`
			Steps []*plan.StepRun `json:"steps"`
		}{
			JSONResponse: shared.NewJSONResponse("run", final.Status == plan.RunCompleted),
			Run:          final,
			Steps:        stepRuns,
		}
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
	} else if !shared.GetQuiet() && !opts.noStats {
		printSummary(out, p, stepRuns)
	}

	if final.Status == plan.RunCompleted {
		if err := writeOutput(out, opts.outputFile, finalOutput(stepRuns)); err != nil {
			return err
		}
	}

	switch final.Status {
	case plan.RunCompleted:
		return nil
	case plan.RunCancelled:
		return shared.NewCancelledError("run cancelled")
	default:
		if shared.GetJSON() {
			return &shared.ExitError{Code: shared.ExitRunFailed}
		}
		return shared.NewRunFailedError("run failed", errors.New(final.Error))
	}
}

// wait follows the run's progress until it is terminal. Cancelling ctx
// cancels the run and keeps waiting for it to settle.
func wait(ctx context.Context, ctrl *controller.Controller, runID string, events <-chan plan.ProgressEvent, display *shared.ProgressDisplay) (*plan.Run, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.RunID != runID {
				continue
			}
			if !ev.Status.Terminal() {
				display.Update(ev)
				continue
			}
			display.Finish(ev)
			return ctrl.Runs().GetRun(context.Background(), runID)

		case <-ticker.C:
			r, err := ctrl.Runs().GetRun(context.Background(), runID)
			if err != nil {
				return nil, err
			}
			if r.Status.Terminal() {
				completed, _ := completedSteps(ctrl, runID)
				display.Finish(plan.ProgressEvent{
					RunID:          r.ID,
					Status:         r.Status,
					CompletedSteps: completed,
					TotalCost:      r.TotalCost,
					TotalTokens:    r.TotalTokens,
					Error:          r.Error,
				})
				return r, nil
			}

		case <-done:
			done = nil
			err := ctrl.Runner().Cancel(context.Background(), runID)
			if err != nil && !errors.Is(err, runner.ErrRunFinished) {
				return nil, fmt.Errorf("failed to cancel run: %w", err)
			}
		}
	}
}

func completedSteps(ctrl *controller.Controller, runID string) (int, error) {
	stepRuns, err := ctrl.Runs().ListStepRuns(context.Background(), runID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sr := range stepRuns {
		if sr.Status == plan.StepCompleted {
			n++
		}
	}
	return n, nil
}

// finalOutput returns the response of the last completed step.
func finalOutput(stepRuns []*plan.StepRun) string {
	for i := len(stepRuns) - 1; i >= 0; i-- {
		if stepRuns[i].Status == plan.StepCompleted {
			return stepRuns[i].Response
		}
	}
	return ""
}

// loadPlan reads the plan at path. A path that names no file but matches an
// embedded example runs that example instead.
func loadPlan(path string) (*plan.Plan, string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && examples.Exists(path) {
		p, err := examples.Load(path)
		return p, "example:" + path, err
	}
	p, err := plan.LoadFile(path)
	return p, path, err
}

func writeOutput(out io.Writer, path, content string) error {
	if path != "" {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}
	if shared.GetJSON() || content == "" {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, content)
	return nil
}
