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

// Package criteria decides whether a model response satisfies a step's
// completion policy.
//
// A policy is one of three variants:
//
//   - *RuleCriteria: ordered atomic checks combined with AND or OR
//   - *JudgeCriteria: a second model grades the response
//   - *HybridCriteria: a primary policy with a fallback used only when the
//     primary is inconclusive
//
// Policies are encoded in plan documents as a tagged object, see Document.
package criteria

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/tombee/stepchain/pkg/errors"
)

// Type tags a criteria variant in plan documents.
type Type string

const (
	TypeRule   Type = "rule"
	TypeJudge  Type = "llm_judge"
	TypeHybrid Type = "hybrid"
)

// Criteria is a completion policy. The set of implementations is closed.
type Criteria interface {
	Type() Type
	sealed()
}

// Logic combines the results of atomic rules.
type Logic string

const (
	LogicAND Logic = "AND"
	LogicOR  Logic = "OR"
)

// RuleType names an atomic rule check.
type RuleType string

const (
	RuleContains     RuleType = "contains"
	RuleNotContains  RuleType = "notContains"
	RuleRegex        RuleType = "regex"
	RuleMinLength    RuleType = "minLength"
	RuleMaxLength    RuleType = "maxLength"
	RuleValidJSON    RuleType = "validJSON"
	RuleValidCode    RuleType = "validCode"
	RuleHasCodeBlock RuleType = "hasCodeBlock"
	// RuleExpr evaluates Value as a boolean expr-lang expression over
	// response, length and lines.
	RuleExpr RuleType = "expr"
)

// Rule is one atomic check.
type Rule struct {
	Type          RuleType `json:"type" yaml:"type"`
	Value         Value    `json:"value,omitempty" yaml:"value,omitempty"`
	Pattern       string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Language      string   `json:"language,omitempty" yaml:"language,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
}

// RuleCriteria applies Rules in order and combines them with Logic.
type RuleCriteria struct {
	Rules []Rule
	Logic Logic
}

// JudgeCriteria asks JudgeModel to grade the response.
type JudgeCriteria struct {
	JudgeModel   string
	JudgePrompt  string
	PassKeywords []string
	FailKeywords []string
}

// HybridCriteria evaluates Primary and falls back to Fallback when the
// primary result fails and is inconclusive.
type HybridCriteria struct {
	Primary  Criteria
	Fallback Criteria
}

func (*RuleCriteria) Type() Type   { return TypeRule }
func (*JudgeCriteria) Type() Type  { return TypeJudge }
func (*HybridCriteria) Type() Type { return TypeHybrid }

func (*RuleCriteria) sealed()   {}
func (*JudgeCriteria) sealed()  {}
func (*HybridCriteria) sealed() {}

// Value holds a rule operand. Plan documents may write it as a string or a
// number.
type Value string

// Int parses the value as an integer.
func (v Value) Int() (int, error) {
	n, err := strconv.Atoi(string(v))
	if err != nil {
		f, ferr := strconv.ParseFloat(string(v), 64)
		if ferr != nil {
			return 0, fmt.Errorf("value %q is not a number", string(v))
		}
		return int(f), nil
	}
	return n, nil
}

// Validate checks c for structural problems. field prefixes error field
// names (e.g. "steps[0].criteria").
func Validate(c Criteria, field string) error {
	switch c := c.(type) {
	case nil:
		return &errors.ValidationError{Field: field, Message: "criteria is required"}
	case *RuleCriteria:
		if c.Logic != LogicAND && c.Logic != LogicOR {
			return &errors.ValidationError{
				Field:      field + ".logic",
				Message:    fmt.Sprintf("unknown logic %q", c.Logic),
				Suggestion: "use AND or OR",
			}
		}
		for i, r := range c.Rules {
			if err := validateRule(r, fmt.Sprintf("%s.rules[%d]", field, i)); err != nil {
				return err
			}
		}
		return nil
	case *JudgeCriteria:
		if c.JudgeModel == "" {
			return &errors.ValidationError{Field: field + ".judge_model", Message: "judge model is required"}
		}
		if c.JudgePrompt == "" {
			return &errors.ValidationError{Field: field + ".judge_prompt", Message: "judge prompt is required"}
		}
		return nil
	case *HybridCriteria:
		if err := Validate(c.Primary, field+".primary"); err != nil {
			return err
		}
		return Validate(c.Fallback, field+".fallback")
	default:
		return &errors.ValidationError{Field: field, Message: fmt.Sprintf("unknown criteria type %T", c)}
	}
}

func validateRule(r Rule, field string) error {
	switch r.Type {
	case RuleContains, RuleNotContains:
		if r.Value == "" {
			return &errors.ValidationError{Field: field + ".value", Message: "value is required"}
		}
	case RuleRegex:
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return &errors.ValidationError{Field: field + ".pattern", Message: fmt.Sprintf("invalid regex: %v", err)}
		}
	case RuleMinLength, RuleMaxLength:
		if n, err := r.Value.Int(); err != nil || n < 0 {
			return &errors.ValidationError{Field: field + ".value", Message: "length must be a non-negative integer"}
		}
	case RuleExpr:
		if _, err := compileExpr(string(r.Value)); err != nil {
			return &errors.ValidationError{Field: field + ".value", Message: err.Error()}
		}
	case RuleValidJSON, RuleValidCode, RuleHasCodeBlock:
	default:
		return &errors.ValidationError{
			Field:   field + ".type",
			Message: fmt.Sprintf("unknown rule type %q", r.Type),
		}
	}
	return nil
}
