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

// Package llm defines the model caller contract used by the step runner and
// the completion judge.
package llm

import (
	"context"
)

// Default generation parameters applied when a Request leaves them unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// Client sends a single prompt to a model and returns its text response.
//
// Implementations must honour ctx cancellation and must return a *CallError
// for every failure so callers can distinguish rate limiting, authentication
// and timeouts from other failures.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a single-prompt completion request.
type Request struct {
	// Model is the model identifier known to the backend.
	Model string

	// Prompt is sent as a single user message.
	Prompt string

	// Temperature controls randomness. Nil uses DefaultTemperature.
	Temperature *float64

	// MaxTokens limits the response length. Nil uses DefaultMaxTokens.
	MaxTokens *int
}

// Response is a completed model response.
type Response struct {
	// Content is the generated text.
	Content string

	// Model is the model that served the request.
	Model string

	// Usage reports token consumption.
	Usage TokenUsage

	// FinishReason is the backend's stop reason, if reported.
	FinishReason string

	// RequestID is the backend's identifier for the request, if reported.
	RequestID string
}

// TokenUsage tracks token consumption for a single request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Total returns TotalTokens, or prompt plus completion tokens when the
// provider left the total unset.
func (u TokenUsage) Total() int {
	if u.TotalTokens == 0 {
		return u.PromptTokens + u.CompletionTokens
	}
	return u.TotalTokens
}

// Float64 returns a pointer to v. Useful for optional Request fields.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v. Useful for optional Request fields.
func Int(v int) *int { return &v }

// TemperatureOrDefault returns the request temperature or the default.
func (r Request) TemperatureOrDefault() float64 {
	if r.Temperature == nil {
		return DefaultTemperature
	}
	return *r.Temperature
}

// MaxTokensOrDefault returns the request token limit or the default.
func (r Request) MaxTokensOrDefault() int {
	if r.MaxTokens == nil || *r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return *r.MaxTokens
}
