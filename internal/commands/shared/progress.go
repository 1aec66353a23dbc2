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

package shared

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/tombee/stepchain/pkg/plan"
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\033[K"

// ProgressDisplay renders run progress events. On a terminal the current
// step is redrawn in place; otherwise each transition prints a line.
type ProgressDisplay struct {
	mu    sync.Mutex
	out   io.Writer
	isTTY bool
	quiet bool

	labels    []string
	current   int
	completed int
	started   time.Time
	now       func() time.Time
}

// NewProgressDisplay creates a display writing to out.
func NewProgressDisplay(out io.Writer, quiet bool) *ProgressDisplay {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &ProgressDisplay{out: out, isTTY: isTTY, quiet: quiet, now: time.Now}
}

// Start prints the run header.
func (p *ProgressDisplay) Start(pl *plan.Plan, runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.labels = make([]string, len(pl.Steps))
	for i := range pl.Steps {
		p.labels[i] = pl.Steps[i].Label()
	}
	p.started = p.now()

	if p.quiet {
		return
	}
	header := fmt.Sprintf("Running plan: %s", Bold.Render(pl.Name))
	if runID != "" {
		header += " " + Muted.Render("("+runID+")")
	}
	fmt.Fprintln(p.out, header)
	fmt.Fprintln(p.out)
}

// Update applies a non-terminal progress event.
func (p *ProgressDisplay) Update(ev plan.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quiet {
		return
	}
	p.catchUp(ev.CompletedSteps)

	if ev.CurrentStep > 0 && ev.CurrentStep != p.current {
		p.current = ev.CurrentStep
		if !p.isTTY {
			fmt.Fprintf(p.out, "  %s %s...\n", Muted.Render(SymbolInfo), p.label(p.current))
		}
	}
	if p.isTTY && p.current > 0 {
		fmt.Fprintf(p.out, "%s  %s %s %s", clearLine,
			StatusInfo.Render(SymbolInfo),
			p.label(p.current),
			Muted.Render(usage(ev.TotalCost, ev.TotalTokens)))
	}
}

// Finish prints the outcome of a terminal event.
func (p *ProgressDisplay) Finish(ev plan.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quiet {
		return
	}
	p.catchUp(ev.CompletedSteps)
	if p.isTTY {
		fmt.Fprint(p.out, clearLine)
	}

	if ev.Status == plan.RunFailed && p.current > ev.CompletedSteps {
		fmt.Fprintf(p.out, "  %s\n", RenderError(p.label(p.current)))
	}

	elapsed := p.now().Sub(p.started).Round(time.Millisecond)
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "Run %s %s\n",
		RenderRunStatus(ev.Status),
		Muted.Render(fmt.Sprintf("%s · %s", usage(ev.TotalCost, ev.TotalTokens), elapsed)))
	if ev.Error != "" {
		fmt.Fprintf(p.out, "  %s %s\n", RenderLabel("error:"), ev.Error)
	}
}

// catchUp prints a completion line for each step finished since the last
// event.
func (p *ProgressDisplay) catchUp(completed int) {
	for p.completed < completed {
		p.completed++
		if p.isTTY {
			fmt.Fprint(p.out, clearLine)
		}
		fmt.Fprintf(p.out, "  %s\n", RenderOK(p.label(p.completed)))
	}
}

func (p *ProgressDisplay) label(order int) string {
	if order >= 1 && order <= len(p.labels) {
		return p.labels[order-1]
	}
	return fmt.Sprintf("step %d", order)
}

func usage(cost float64, tokens int) string {
	return fmt.Sprintf("%s · %d tokens", FormatCost(cost), tokens)
}
