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
)

// handleListModels handles GET /v1/models.
func (r *Router) handleListModels(w http.ResponseWriter, req *http.Request) {
	models := r.cfg.Catalog.List(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
	})
}

// handleGetModel handles GET /v1/models/{id}.
func (r *Router) handleGetModel(w http.ResponseWriter, req *http.Request) {
	model, err := r.cfg.Catalog.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// handleCheapestModel handles GET /v1/models/cheapest.
func (r *Router) handleCheapestModel(w http.ResponseWriter, req *http.Request) {
	model, err := r.cfg.Catalog.Cheapest(req.Context())
	if err != nil {
		r.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}
