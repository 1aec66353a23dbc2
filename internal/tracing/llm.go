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

package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/stepchain/pkg/llm"
)

// TracedClient wraps an llm.Client so that every Complete call produces a
// client span with token usage attributes.
type TracedClient struct {
	client llm.Client
	tracer trace.Tracer
}

var _ llm.Client = (*TracedClient)(nil)

// WrapClient wraps client with tracing instrumentation.
func WrapClient(client llm.Client, tracer trace.Tracer) *TracedClient {
	return &TracedClient{client: client, tracer: tracer}
}

// Complete creates a span for the completion request and records token usage.
func (t *TracedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, span := t.tracer.Start(ctx, "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", req.Model),
			attribute.Float64("llm.temperature", req.TemperatureOrDefault()),
			attribute.Int("llm.max_tokens", req.MaxTokensOrDefault()),
			attribute.Int("llm.prompt_length", len(req.Prompt)),
		),
	)
	defer span.End()

	resp, err := t.client.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("llm.error_kind", string(llm.KindOf(err))))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("llm.response.model", resp.Model),
		attribute.String("llm.response.finish_reason", resp.FinishReason),
		attribute.String("llm.response.request_id", resp.RequestID),
		attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
		attribute.Int("llm.response.content_length", len(resp.Content)),
	)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}
