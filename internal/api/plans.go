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
	"net/http"

	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/pkg/plan"
)

// planSummary is a plan without its steps.
type planSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Steps       int      `json:"steps"`
	CostBudget  *float64 `json:"cost_budget,omitempty"`
}

// handleListPlans handles GET /v1/plans.
func (r *Router) handleListPlans(w http.ResponseWriter, req *http.Request) {
	plans, err := r.cfg.Plans.ListPlans(req.Context())
	if err != nil {
		r.writeErr(w, err)
		return
	}

	out := make([]planSummary, 0, len(plans))
	for _, p := range plans {
		out = append(out, planSummary{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Steps:       len(p.Steps),
			CostBudget:  p.CostBudget,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plans": out,
		"count": len(out),
	})
}

// handleGetPlan handles GET /v1/plans/{id}.
func (r *Router) handleGetPlan(w http.ResponseWriter, req *http.Request) {
	p, err := r.cfg.Plans.GetPlanWithSteps(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleListPlanRuns handles GET /v1/plans/{id}/runs.
func (r *Router) handleListPlanRuns(w http.ResponseWriter, req *http.Request) {
	planID := req.PathValue("id")
	if _, err := r.cfg.Plans.GetPlanWithSteps(req.Context(), planID); err != nil {
		r.writeErr(w, err)
		return
	}
	r.listRuns(w, req, planID)
}

func (r *Router) listRuns(w http.ResponseWriter, req *http.Request, planID string) {
	limit, err := queryInt(req, "limit")
	if err != nil {
		r.writeErr(w, err)
		return
	}
	offset, err := queryInt(req, "offset")
	if err != nil {
		r.writeErr(w, err)
		return
	}

	filter := store.RunFilter{
		PlanID: planID,
		Status: plan.RunStatus(req.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	runs, err := r.cfg.Runs.ListRuns(req.Context(), filter)
	if err != nil {
		r.writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []*plan.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}
