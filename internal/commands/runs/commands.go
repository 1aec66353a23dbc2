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

package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stepchain/internal/client"
	"github.com/tombee/stepchain/internal/commands/shared"
	"github.com/tombee/stepchain/pkg/plan"
)

// requestTimeout bounds every non-streaming request.
const requestTimeout = 30 * time.Second

func newListCommand(connect connectFunc) *cobra.Command {
	var filter client.RunFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Long:  `List runs, newest first, optionally filtered by plan or status.`,
		Example: `  # Example 1: List recent runs
  stepchain runs list

  # Example 2: Failed runs of one plan
  stepchain runs list --plan blog-post --status failed

  # Example 3: Run IDs as JSON
  stepchain runs list --json | jq -r '.runs[].id'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			filter.Status = plan.RunStatus(status)
			runs, err := c.ListRuns(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				if runs == nil {
					runs = []*plan.Run{}
				}
				return shared.EmitJSON(out, map[string]any{"runs": runs, "count": len(runs)})
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}
			printRuns(out, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.PlanID, "plan", "", "Only runs of this plan")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of runs")

	_ = cmd.RegisterFlagCompletionFunc("status", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"pending", "running", "completed", "failed", "cancelled"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func newShowCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			run, err := c.GetRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}
			steps, err := c.ListStepRuns(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("failed to get steps: %w", err)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				if steps == nil {
					steps = []*plan.StepRun{}
				}
				return shared.EmitJSON(out, struct {
					shared.JSONResponse
					Run   *plan.Run       `json:"run"`
					Steps []*plan.StepRun `json:"steps"`
				}{
					JSONResponse: shared.NewJSONResponse("runs show", true),
					Run:          run,
					Steps:        steps,
				})
			}
			printRun(out, run, steps)
			return nil
		},
	}
}

func newStartCommand(connect connectFunc) *cobra.Command {
	var metadata map[string]string
	var wait bool

	cmd := &cobra.Command{
		Use:   "start <plan-id>",
		Short: "Start a run of a stored plan",
		Long: `Start a run of a plan the server has loaded.

With --wait the command follows the run's progress and exits with the
same codes as 'stepchain run'.`,
		Example: `  # Example 1: Start a run and print its ID
  stepchain runs start blog-post

  # Example 2: Start a run and wait for it
  stepchain runs start blog-post --wait --metadata user=ci`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}

			md := make(map[string]any, len(metadata))
			for k, v := range metadata {
				md[k] = v
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			run, err := c.StartRun(ctx, args[0], md)
			cancel()
			if err != nil {
				if client.IsNotFound(err) {
					return shared.NewInvalidPlanError("unknown plan", err)
				}
				return fmt.Errorf("failed to start run: %w", err)
			}

			if wait {
				return follow(cmd, c, run.ID)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, run)
			}
			fmt.Fprintln(out, shared.RenderOK("Started run "+run.ID))
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&metadata, "metadata", nil, "Run metadata as key=value pairs")
	cmd.Flags().BoolVar(&wait, "wait", false, "Follow the run until it finishes")

	return cmd
}

func newWatchCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run's progress until it finishes",
		Long: `Follow a run's progress until it finishes.

Exits with the same codes as 'stepchain run'. Ctrl-C stops watching
without cancelling the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			return follow(cmd, c, args[0])
		},
	}
}

func newCancelCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			run, err := c.CancelRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to cancel run: %w", err)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, run)
			}
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Run %s %s", run.ID, run.Status)))
			return nil
		},
	}
}

// follow streams a run's progress to the terminal and maps its final status
// to an exit code.
func follow(cmd *cobra.Command, c *client.Client, runID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	p, err := c.GetPlan(ctx, run.PlanID)
	if err != nil {
		return fmt.Errorf("failed to get plan: %w", err)
	}

	out := cmd.OutOrStdout()
	display := shared.NewProgressDisplay(out, shared.GetQuiet() || shared.GetJSON())
	display.Start(p, runID)

	var final plan.ProgressEvent
	err = c.WatchRun(ctx, runID, func(ev plan.ProgressEvent) error {
		if ev.Status.Terminal() {
			final = ev
			display.Finish(ev)
			return nil
		}
		display.Update(ev)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return shared.NewCancelledError("stopped watching run " + runID)
		}
		return fmt.Errorf("failed to watch run: %w", err)
	}

	if shared.GetJSON() {
		run, err := c.GetRun(context.Background(), runID)
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}
		if err := shared.EmitJSON(out, run); err != nil {
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

func printRuns(out io.Writer, runs []*plan.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAN\tSTATUS\tCOST\tTOKENS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.PlanID, r.Status, shared.FormatCost(r.TotalCost), r.TotalTokens,
			formatTime(r.CreatedAt))
	}
	w.Flush()
}

func printRun(out io.Writer, run *plan.Run, steps []*plan.StepRun) {
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Run:"), run.ID)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Plan:"), run.PlanID)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Status:"), shared.RenderRunStatus(run.Status))
	fmt.Fprintf(out, "%s %s · %d tokens\n", shared.RenderLabel("Usage:"), shared.FormatCost(run.TotalCost), run.TotalTokens)
	if run.StartedAt != nil {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Started:"), formatTime(*run.StartedAt))
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Completed:"), formatTime(*run.CompletedAt))
	}
	if run.Error != "" {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Error:"), run.Error)
	}

	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tRETRIES\tCOST\tTOKENS")
	for _, sr := range steps {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\n",
			sr.StepOrder, sr.Status, sr.RetryCount, shared.FormatCost(sr.Cost), sr.Tokens)
	}
	w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
