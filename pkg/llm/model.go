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

// ModelInfo describes a model's pricing and availability.
type ModelInfo struct {
	// ID is the identifier sent to the backend (e.g. "gpt-4-turbo").
	ID string `json:"id"`

	// Provider names the vendor (e.g. "openai", "anthropic").
	Provider string `json:"provider"`

	// DisplayName is the human-readable model name.
	DisplayName string `json:"display_name"`

	// InputPricePer1K is the USD cost per 1000 prompt tokens.
	InputPricePer1K float64 `json:"input_price_per_1k"`

	// OutputPricePer1K is the USD cost per 1000 completion tokens.
	OutputPricePer1K float64 `json:"output_price_per_1k"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window"`

	// Available marks models that may be selected for new steps.
	Available bool `json:"available"`

	// Capabilities lists optional features (e.g. "vision", "tools").
	Capabilities map[string]bool `json:"capabilities,omitempty"`
}

// Cost returns the USD cost of a call with the given token counts.
func (m ModelInfo) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*m.InputPricePer1K +
		float64(completionTokens)/1000*m.OutputPricePer1K
}

// GetModelByID returns the model with the specified ID, or nil.
func GetModelByID(models []ModelInfo, id string) *ModelInfo {
	for i := range models {
		if models[i].ID == id {
			return &models[i]
		}
	}
	return nil
}
