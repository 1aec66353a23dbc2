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
Package tracing sets up OpenTelemetry tracing for stepchain.

Runs, steps and model calls each produce a span:

	stepchain.run         run_id, plan_id, status, total_cost, total_tokens
	  stepchain.step      step.order, step.name, step.model, step.attempts
	    llm.complete      llm.model, llm.usage.*, llm.response.*

Spans are exported by the configured exporter (none, stdout, otlp-http or
otlp-grpc). W3C trace context is propagated on outbound model calls by
pkg/httpclient and extracted from inbound API requests by HTTPMiddleware.

# Quick Start

	provider, err := tracing.Setup(ctx, tracing.Config{
	    Exporter:    tracing.ExporterOTLPHTTP,
	    Endpoint:    "localhost:4318",
	    ServiceName: "stepchain",
	})
	if err != nil {
	    return err
	}
	defer provider.Shutdown(ctx)

	tracer := provider.Tracer("executor")
*/
package tracing
