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

// Package providers contains llm.Client implementations.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/tombee/stepchain/pkg/httpclient"
	"github.com/tombee/stepchain/pkg/llm"
)

const chatCompletionsPath = "/v1/chat/completions"

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	// BaseURL is the API root. A trailing /v1/chat/completions is stripped.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// HTTP configures the underlying client (timeout, rate limit).
	HTTP httpclient.Config

	// Logger receives call logs. Nil uses slog.Default().
	Logger *slog.Logger
}

// OpenAIClient calls any backend exposing POST /v1/chat/completions.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client from cfg.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTP.Logger == nil {
		cfg.HTTP.Logger = logger
	}

	httpClient, err := httpclient.New(cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	if cfg.APIKey == "" {
		logger.Warn("model API key not set, calls will likely fail")
	}

	return &OpenAIClient{
		baseURL:    strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), chatCompletionsPath),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.TokenUsage `json:"usage"`
}

// Complete implements llm.Client.
func (c *OpenAIClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.TemperatureOrDefault(),
		MaxTokens:   req.MaxTokensOrDefault(),
	})
	if err != nil {
		return nil, &llm.CallError{Kind: llm.ErrorKindGeneric, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, &llm.CallError{Kind: llm.ErrorKindGeneric, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("calling model", "model", req.Model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, classifyDecodeError(err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, &llm.CallError{Kind: llm.ErrorKindGeneric, StatusCode: resp.StatusCode, Message: "response contained no choices"}
	}

	c.logger.Debug("model response received", "model", req.Model, "total_tokens", chatResp.Usage.TotalTokens)

	return &llm.Response{
		Content:      chatResp.Choices[0].Message.Content,
		Model:        req.Model,
		Usage:        chatResp.Usage,
		FinishReason: chatResp.Choices[0].FinishReason,
		RequestID:    chatResp.ID,
	}, nil
}

// Ping sends a tiny request to verify connectivity and credentials.
func (c *OpenAIClient) Ping(ctx context.Context, model string) error {
	resp, err := c.Complete(ctx, llm.Request{Model: model, Prompt: `Say "OK"`, MaxTokens: llm.Int(10)})
	if err != nil {
		return err
	}
	if resp.Content == "" {
		return &llm.CallError{Kind: llm.ErrorKindGeneric, Message: "empty response"}
	}
	return nil
}

func statusError(status int, body string) *llm.CallError {
	kind := llm.ErrorKindGeneric
	switch status {
	case http.StatusTooManyRequests:
		kind = llm.ErrorKindRateLimit
	case http.StatusUnauthorized:
		kind = llm.ErrorKindAuth
	}
	return &llm.CallError{Kind: kind, StatusCode: status, Message: body}
}

func classifyTransportError(err error) *llm.CallError {
	if isTimeout(err) {
		return &llm.CallError{Kind: llm.ErrorKindTimeout, Message: err.Error(), Cause: err}
	}
	return &llm.CallError{Kind: llm.ErrorKindGeneric, Message: err.Error(), Cause: err}
}

func classifyDecodeError(err error) *llm.CallError {
	if isTimeout(err) {
		return &llm.CallError{Kind: llm.ErrorKindTimeout, Message: err.Error(), Cause: err}
	}
	return &llm.CallError{Kind: llm.ErrorKindGeneric, Message: "failed to parse response: " + err.Error(), Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ llm.Client = (*OpenAIClient)(nil)
