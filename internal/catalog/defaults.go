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

package catalog

import "github.com/tombee/stepchain/pkg/llm"

// DefaultModels is the model list seeded into empty stores.
func DefaultModels() []llm.ModelInfo {
	return []llm.ModelInfo{
		{
			ID:               "gpt-4-turbo",
			Provider:         "openai",
			DisplayName:      "GPT-4 Turbo",
			InputPricePer1K:  0.01,
			OutputPricePer1K: 0.03,
			ContextWindow:    128000,
			Available:        true,
			Capabilities:     map[string]bool{"vision": true, "function_calling": true},
		},
		{
			ID:               "gpt-3.5-turbo",
			Provider:         "openai",
			DisplayName:      "GPT-3.5 Turbo",
			InputPricePer1K:  0.0005,
			OutputPricePer1K: 0.0015,
			ContextWindow:    16385,
			Available:        true,
			Capabilities:     map[string]bool{"function_calling": true},
		},
		{
			ID:               "claude-3-opus",
			Provider:         "anthropic",
			DisplayName:      "Claude 3 Opus",
			InputPricePer1K:  0.015,
			OutputPricePer1K: 0.075,
			ContextWindow:    200000,
			Available:        true,
			Capabilities:     map[string]bool{"vision": true},
		},
		{
			ID:               "claude-3-sonnet",
			Provider:         "anthropic",
			DisplayName:      "Claude 3 Sonnet",
			InputPricePer1K:  0.003,
			OutputPricePer1K: 0.015,
			ContextWindow:    200000,
			Available:        true,
			Capabilities:     map[string]bool{"vision": true},
		},
		{
			ID:               "claude-3-haiku",
			Provider:         "anthropic",
			DisplayName:      "Claude 3 Haiku",
			InputPricePer1K:  0.00025,
			OutputPricePer1K: 0.00125,
			ContextWindow:    200000,
			Available:        true,
		},
	}
}
