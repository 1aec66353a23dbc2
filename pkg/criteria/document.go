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

import (
	"encoding/json"
	"fmt"
)

// Document is the tagged wire form of a Criteria value.
//
//	type: hybrid
//	primary:
//	  type: llm_judge
//	  judge_model: gpt-3.5-turbo
//	  judge_prompt: Is this a haiku? Answer yes or no.
//	fallback:
//	  type: rule
//	  rules:
//	    - type: minLength
//	      value: 20
type Document struct {
	Type Type `json:"type" yaml:"type"`

	// rule
	Rules []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	Logic Logic  `json:"logic,omitempty" yaml:"logic,omitempty"`

	// llm_judge
	JudgeModel   string   `json:"judge_model,omitempty" yaml:"judge_model,omitempty"`
	JudgePrompt  string   `json:"judge_prompt,omitempty" yaml:"judge_prompt,omitempty"`
	PassKeywords []string `json:"pass_keywords,omitempty" yaml:"pass_keywords,omitempty"`
	FailKeywords []string `json:"fail_keywords,omitempty" yaml:"fail_keywords,omitempty"`

	// hybrid
	Primary  *Document `json:"primary,omitempty" yaml:"primary,omitempty"`
	Fallback *Document `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Criteria converts the document into its typed variant. Rule logic
// defaults to AND.
func (d *Document) Criteria() (Criteria, error) {
	if d == nil {
		return nil, fmt.Errorf("criteria is missing")
	}
	switch d.Type {
	case TypeRule:
		logic := d.Logic
		if logic == "" {
			logic = LogicAND
		}
		rules := make([]Rule, len(d.Rules))
		copy(rules, d.Rules)
		return &RuleCriteria{Rules: rules, Logic: logic}, nil
	case TypeJudge:
		return &JudgeCriteria{
			JudgeModel:   d.JudgeModel,
			JudgePrompt:  d.JudgePrompt,
			PassKeywords: d.PassKeywords,
			FailKeywords: d.FailKeywords,
		}, nil
	case TypeHybrid:
		primary, err := d.Primary.Criteria()
		if err != nil {
			return nil, fmt.Errorf("primary: %w", err)
		}
		fallback, err := d.Fallback.Criteria()
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		return &HybridCriteria{Primary: primary, Fallback: fallback}, nil
	default:
		return nil, fmt.Errorf("unknown criteria type %q", d.Type)
	}
}

// ToDocument converts a typed criteria value to its wire form.
func ToDocument(c Criteria) *Document {
	switch c := c.(type) {
	case *RuleCriteria:
		return &Document{Type: TypeRule, Rules: c.Rules, Logic: c.Logic}
	case *JudgeCriteria:
		return &Document{
			Type:         TypeJudge,
			JudgeModel:   c.JudgeModel,
			JudgePrompt:  c.JudgePrompt,
			PassKeywords: c.PassKeywords,
			FailKeywords: c.FailKeywords,
		}
	case *HybridCriteria:
		return &Document{Type: TypeHybrid, Primary: ToDocument(c.Primary), Fallback: ToDocument(c.Fallback)}
	default:
		return nil
	}
}

// Marshal encodes c as JSON.
func Marshal(c Criteria) ([]byte, error) {
	return json.Marshal(ToDocument(c))
}

// Unmarshal decodes a JSON criteria document.
func Unmarshal(data []byte) (Criteria, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Criteria()
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("rule value must be a string or number: %w", err)
	}
	*v = Value(n.String())
	return nil
}

// MarshalJSON writes numeric values as JSON numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	var n json.Number
	if err := json.Unmarshal([]byte(v), &n); err == nil {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}
