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
	"net/http"

	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/plan"
)

// StartRunRequest is the body of POST /v1/runs.
type StartRunRequest struct {
	PlanID   string         `json:"plan_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleListRuns handles GET /v1/runs.
func (r *Router) handleListRuns(w http.ResponseWriter, req *http.Request) {
	r.listRuns(w, req, req.URL.Query().Get("plan_id"))
}

// handleStartRun handles POST /v1/runs.
func (r *Router) handleStartRun(w http.ResponseWriter, req *http.Request) {
	var body StartRunRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.PlanID == "" {
		r.writeErr(w, &errors.ValidationError{Field: "plan_id", Message: "plan_id is required"})
		return
	}

	run, err := r.cfg.Runner.Start(req.Context(), body.PlanID, body.Metadata)
	if err != nil {
		r.writeErr(w, err)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

// handleGetRun handles GET /v1/runs/{id}.
func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request) {
	run, err := r.cfg.Runs.GetRun(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListSteps handles GET /v1/runs/{id}/steps.
func (r *Router) handleListSteps(w http.ResponseWriter, req *http.Request) {
	runID := req.PathValue("id")
	if _, err := r.cfg.Runs.GetRun(req.Context(), runID); err != nil {
		r.writeErr(w, err)
		return
	}

	steps, err := r.cfg.Runs.ListStepRuns(req.Context(), runID)
	if err != nil {
		r.writeErr(w, err)
		return
	}
	if steps == nil {
		steps = []*plan.StepRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"steps": steps,
		"count": len(steps),
	})
}

// handleCancelRun handles POST /v1/runs/{id}/cancel.
func (r *Router) handleCancelRun(w http.ResponseWriter, req *http.Request) {
	runID := req.PathValue("id")
	if err := r.cfg.Runner.Cancel(req.Context(), runID); err != nil {
		r.writeErr(w, err)
		return
	}

	run, err := r.cfg.Runs.GetRun(req.Context(), runID)
	if err != nil {
		r.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
