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

package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/pkg/httpclient"
	"github.com/tombee/stepchain/pkg/llm"
)

func newTestClient(t *testing.T, url string, timeout time.Duration) *OpenAIClient {
	t.Helper()
	httpCfg := httpclient.DefaultConfig()
	if timeout > 0 {
		httpCfg.Timeout = timeout
	}
	c, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: url,
		APIKey:  "sk-test",
		HTTP:    httpCfg,
		Logger:  log.Discard(),
	})
	require.NoError(t, err)
	return c
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got chatRequest
	var auth, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{"message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/v1/chat/completions", 0)
	resp, err := client.Complete(context.Background(), llm.Request{Model: "gpt-4-turbo", Prompt: "Say hi"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "gpt-4-turbo", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "Say hi", got.Messages[0].Content)
	assert.Equal(t, llm.DefaultTemperature, got.Temperature)
	assert.Equal(t, llm.DefaultMaxTokens, got.MaxTokens)

	assert.Equal(t, "Hello!", resp.Content)
	assert.Equal(t, "gpt-4-turbo", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "chatcmpl-1", resp.RequestID)
	assert.Equal(t, llm.TokenUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, resp.Usage)
}

func TestOpenAIClient_ExplicitParameters(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	resp, err := client.Complete(context.Background(), llm.Request{
		Model:       "judge",
		Prompt:      "evaluate",
		Temperature: llm.Float64(0.3),
		MaxTokens:   llm.Int(500),
	})
	require.NoError(t, err)

	assert.Equal(t, 0.3, got.Temperature)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Zero(t, resp.Usage.TotalTokens, "missing usage reads as zero")
}

func TestOpenAIClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   llm.ErrorKind
	}{
		{name: "rate limit", status: http.StatusTooManyRequests, want: llm.ErrorKindRateLimit},
		{name: "auth", status: http.StatusUnauthorized, want: llm.ErrorKindAuth},
		{name: "server error", status: http.StatusInternalServerError, want: llm.ErrorKindGeneric},
		{name: "bad request", status: http.StatusBadRequest, want: llm.ErrorKindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, 0)
			_, err := client.Complete(context.Background(), llm.Request{Model: "m", Prompt: "p"})
			require.Error(t, err)

			var callErr *llm.CallError
			require.ErrorAs(t, err, &callErr)
			assert.Equal(t, tt.want, callErr.Kind)
			assert.Equal(t, tt.status, callErr.StatusCode)
		})
	}
}

func TestOpenAIClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 30*time.Millisecond)
	_, err := client.Complete(context.Background(), llm.Request{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, llm.ErrorKindTimeout, llm.KindOf(err))
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	_, err := client.Complete(context.Background(), llm.Request{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, llm.ErrorKindGeneric, llm.KindOf(err))
}

func TestOpenAIClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "OK"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	assert.NoError(t, client.Ping(context.Background(), "gpt-3.5-turbo"))
}

func TestNewOpenAIClient_RequiresBaseURL(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{HTTP: httpclient.DefaultConfig()})
	assert.Error(t, err)
}
