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

package mock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/promptctx"
)

// Client is an llm.Client that answers from a Fixture. Token usage is
// estimated from the prompt and response text. Safe for concurrent use.
type Client struct {
	fixture *Fixture
	logger  *slog.Logger

	mu    sync.Mutex
	used  []int
	calls []llm.Request
}

// NewClient creates a Client for f.
func NewClient(f *Fixture, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		fixture: f,
		logger:  logger,
		used:    make([]int, len(f.Responses)),
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	resp, ok := c.match(req)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("[MOCK] no matching response", "model", req.Model)
		return nil, &llm.CallError{
			Kind:    llm.ErrorKindGeneric,
			Message: fmt.Sprintf("no fixture response matches model %q", req.Model),
		}
	}
	if resp.Error != "" {
		c.logger.Debug("[MOCK] scripted failure", "model", req.Model, "kind", string(resp.Error))
		return nil, &llm.CallError{Kind: resp.Error, Message: "scripted failure"}
	}

	c.logger.Debug("[MOCK] completion", "model", req.Model)
	prompt := promptctx.EstimateTokens(req.Prompt)
	completion := promptctx.EstimateTokens(resp.Return)
	return &llm.Response{
		Content:      resp.Return,
		Model:        req.Model,
		FinishReason: "stop",
		Usage: llm.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

// Calls returns the requests seen so far.
func (c *Client) Calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.calls))
	copy(out, c.calls)
	return out
}

// match finds the response for req and records its use. c.mu must be held.
func (c *Client) match(req llm.Request) (Response, bool) {
	if len(c.fixture.Responses) == 0 {
		return Response{Return: c.fixture.Response}, true
	}

	fallback := -1
	for i, r := range c.fixture.Responses {
		if r.Times > 0 && c.used[i] >= r.Times {
			continue
		}
		if r.Default {
			if fallback < 0 {
				fallback = i
			}
			continue
		}
		if !r.When.matches(req) {
			continue
		}
		c.used[i]++
		return r, true
	}

	if fallback >= 0 {
		c.used[fallback]++
		return c.fixture.Responses[fallback], true
	}
	return Response{}, false
}

func (w *Condition) matches(req llm.Request) bool {
	if w == nil {
		return true
	}
	if w.Model != "" && w.Model != req.Model {
		return false
	}
	if w.PromptContains != "" && !strings.Contains(strings.ToLower(req.Prompt), strings.ToLower(w.PromptContains)) {
		return false
	}
	return true
}
