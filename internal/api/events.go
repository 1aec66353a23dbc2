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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tombee/stepchain/internal/progress"
	"github.com/tombee/stepchain/pkg/plan"
)

// handleRunEvents handles GET /v1/runs/{id}/events. The stream opens with
// the run's current state and ends after its terminal event.
func (r *Router) handleRunEvents(w http.ResponseWriter, req *http.Request) {
	runID := req.PathValue("id")

	// Subscribe before the snapshot so no event falls between them.
	events, cancel := r.cfg.Progress.Subscribe(runID)
	defer cancel()

	run, err := r.cfg.Runs.GetRun(req.Context(), runID)
	if err != nil {
		r.writeErr(w, err)
		return
	}

	flusher, ok := startStream(w)
	if !ok {
		return
	}

	snapshot := plan.ProgressEvent{
		RunID:       run.ID,
		Status:      run.Status,
		TotalCost:   run.TotalCost,
		TotalTokens: run.TotalTokens,
		Error:       run.Error,
		Timestamp:   run.UpdatedAt,
	}
	if err := writeEvent(w, snapshot); err != nil {
		return
	}
	flusher.Flush()
	if run.Status.Terminal() {
		return
	}

	r.stream(w, req, flusher, events, true)
}

// handleAllEvents handles GET /v1/events, streaming progress of every run
// until the client disconnects.
func (r *Router) handleAllEvents(w http.ResponseWriter, req *http.Request) {
	events, cancel := r.cfg.Progress.Subscribe(progress.AllRuns)
	defer cancel()

	flusher, ok := startStream(w)
	if !ok {
		return
	}
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	r.stream(w, req, flusher, events, false)
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

func (r *Router) stream(w http.ResponseWriter, req *http.Request, flusher http.Flusher, events <-chan plan.ProgressEvent, untilTerminal bool) {
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				r.logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
			if untilTerminal && ev.Status.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev plan.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	return err
}
