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

package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelInfo_Cost(t *testing.T) {
	m := ModelInfo{ID: "gpt-4-turbo", InputPricePer1K: 0.01, OutputPricePer1K: 0.03}

	assert.InDelta(t, 0.04, m.Cost(1000, 1000), 1e-9)
	assert.InDelta(t, 0.0025, m.Cost(100, 50), 1e-9)
	assert.Zero(t, m.Cost(0, 0))
}

func TestGetModelByID(t *testing.T) {
	models := []ModelInfo{{ID: "a"}, {ID: "b"}}

	found := GetModelByID(models, "b")
	require.NotNil(t, found)
	assert.Equal(t, "b", found.ID)
	assert.Nil(t, GetModelByID(models, "c"))
}

func TestRequestDefaults(t *testing.T) {
	var req Request
	assert.Equal(t, DefaultTemperature, req.TemperatureOrDefault())
	assert.Equal(t, DefaultMaxTokens, req.MaxTokensOrDefault())

	req.Temperature = Float64(0)
	req.MaxTokens = Int(500)
	assert.Equal(t, 0.0, req.TemperatureOrDefault())
	assert.Equal(t, 500, req.MaxTokensOrDefault())
}

func TestCallError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("calling model: %w", &CallError{Kind: ErrorKindGeneric, Message: cause.Error(), Cause: cause})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorKindGeneric, KindOf(err))
	assert.Equal(t, ErrorKindRateLimit, KindOf(&CallError{Kind: ErrorKindRateLimit}))
	assert.Equal(t, ErrorKindGeneric, KindOf(errors.New("plain")))

	assert.Equal(t, "model call failed: status 500: boom", (&CallError{StatusCode: 500, Message: "boom"}).Error())
	assert.Equal(t, "rate limit exceeded, try again later", (&CallError{Kind: ErrorKindRateLimit}).Error())
}

func TestTokenUsage_Total(t *testing.T) {
	assert.Equal(t, 30, TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 30}.Total())
	assert.Equal(t, 15, TokenUsage{PromptTokens: 10, CompletionTokens: 5}.Total())
}
