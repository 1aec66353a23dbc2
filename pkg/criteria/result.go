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

package criteria

// Result is the outcome of evaluating a response against a policy.
type Result struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`

	// Conclusive is false only when the evaluator could not reach a verdict,
	// such as a judge answer containing both or neither of its keywords.
	Conclusive bool `json:"conclusive"`

	// Cost and TokensUsed report model usage incurred by the evaluation
	// itself (judge calls). Zero for rule evaluation.
	Cost       float64 `json:"cost,omitempty"`
	TokensUsed int     `json:"tokens_used,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}

func failed(reason string) Result {
	return Result{Passed: false, Reason: reason, Conclusive: true}
}
