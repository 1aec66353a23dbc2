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
	"runtime"
	"time"
)

// HealthResponse is the response format for /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// handleHealth handles GET /health.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	checks := map[string]string{
		"api":     "ok",
		"runtime": runtime.Version(),
	}
	if r.cfg.Catalog != nil {
		if models := r.cfg.Catalog.List(req.Context()); len(models) > 0 {
			checks["models"] = "ok"
		} else {
			checks["models"] = "none available"
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   r.cfg.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(r.started).Round(time.Second).String(),
		Checks:    checks,
	})
}
