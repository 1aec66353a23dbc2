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

/*
Package controller assembles the stepchain service from configuration.

The Controller owns every long-lived component and their lifecycles:

  - Store: plan, run and model persistence (memory, SQLite or PostgreSQL)
  - Plan files: an optional directory of plan documents, hot reloaded
  - Catalog: cached model metadata and pricing
  - Executor: step runner and orchestrator
  - Runner: bounded concurrent runs with cancellation
  - Progress: fan-out of run progress to subscribers
  - API: the HTTP router, served on the configured address
  - Tracing: the OpenTelemetry provider

# Usage

	cfg, _ := config.Load("")
	c, err := controller.New(ctx, cfg, controller.Options{Version: "1.0.0"})
	if err != nil {
	    log.Fatal(err)
	}

	// Start blocks until ctx is cancelled.
	go c.Start(ctx)

	// Drain runs, stop serving and release resources.
	c.Shutdown(context.Background())

Embedded callers that never call Start, such as the one-shot run command,
still call Shutdown to release the store and tracing provider.
*/
package controller
