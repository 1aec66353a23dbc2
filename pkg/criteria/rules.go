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
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	codeBlockPattern  = regexp.MustCompile("(?s)```.*?```")
	codePunctuation   = regexp.MustCompile(`[{}\[\]();]`)
	codeAssignPattern = regexp.MustCompile(`\w+\s*[=:]`)
)

// RuleResult is the outcome of one atomic rule.
type RuleResult struct {
	Type   RuleType `json:"type"`
	Passed bool     `json:"passed"`
	Reason string   `json:"reason"`
}

// evaluateRules applies rules in order. Under AND the first failing rule
// decides; under OR the first passing rule decides.
func (e *Evaluator) evaluateRules(response string, c *RuleCriteria) Result {
	results := make([]RuleResult, 0, len(c.Rules))

	for _, rule := range c.Rules {
		r := e.evaluateRule(response, rule)
		results = append(results, r)

		if c.Logic == LogicAND && !r.Passed {
			return Result{
				Passed:     false,
				Reason:     r.Reason,
				Conclusive: true,
				Details:    map[string]any{"failed_rule": rule, "results": results},
			}
		}
		if c.Logic == LogicOR && r.Passed {
			return Result{
				Passed:     true,
				Reason:     r.Reason,
				Conclusive: true,
				Details:    map[string]any{"passed_rule": rule, "results": results},
			}
		}
	}

	// No short circuit: every rule passed under AND, or none did under OR
	// (or the rule list was empty).
	passed := c.Logic == LogicAND
	reason := fmt.Sprintf("All %s criteria met", c.Logic)
	if !passed {
		reason = fmt.Sprintf("Not all %s criteria met", c.Logic)
	}
	return Result{
		Passed:     passed,
		Reason:     reason,
		Conclusive: true,
		Details:    map[string]any{"results": results},
	}
}

func (e *Evaluator) evaluateRule(response string, rule Rule) RuleResult {
	passed, reason, err := checkRule(response, rule)
	if err != nil {
		e.logger.Warn("rule evaluation error", "rule", rule.Type, "error", err)
		return RuleResult{Type: rule.Type, Passed: false, Reason: fmt.Sprintf("Rule evaluation error: %v", err)}
	}
	return RuleResult{Type: rule.Type, Passed: passed, Reason: reason}
}

func checkRule(response string, rule Rule) (bool, string, error) {
	switch rule.Type {
	case RuleContains:
		ok := contains(response, string(rule.Value), rule.CaseSensitive)
		if ok {
			return true, fmt.Sprintf("Response contains %q", rule.Value), nil
		}
		return false, fmt.Sprintf("Response does not contain %q", rule.Value), nil

	case RuleNotContains:
		if contains(response, string(rule.Value), rule.CaseSensitive) {
			return false, fmt.Sprintf("Response should not contain %q", rule.Value), nil
		}
		return true, fmt.Sprintf("Response does not contain %q", rule.Value), nil

	case RuleRegex:
		pattern := rule.Pattern
		if pattern == "" {
			pattern = string(rule.Value)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Sprintf("Invalid regex pattern: %v", err), nil
		}
		if re.MatchString(response) {
			return true, fmt.Sprintf("Response matches pattern /%s/", pattern), nil
		}
		return false, fmt.Sprintf("Response does not match pattern /%s/", pattern), nil

	case RuleMinLength:
		limit, err := rule.Value.Int()
		if err != nil {
			return false, "", err
		}
		n := utf8.RuneCountInString(response)
		if n >= limit {
			return true, fmt.Sprintf("Response length %d >= %d", n, limit), nil
		}
		return false, fmt.Sprintf("Response length %d < %d", n, limit), nil

	case RuleMaxLength:
		limit, err := rule.Value.Int()
		if err != nil {
			return false, "", err
		}
		n := utf8.RuneCountInString(response)
		if n <= limit {
			return true, fmt.Sprintf("Response length %d <= %d", n, limit), nil
		}
		return false, fmt.Sprintf("Response length %d > %d", n, limit), nil

	case RuleValidJSON:
		if json.Valid([]byte(response)) {
			return true, "Response is valid JSON", nil
		}
		return false, "Response is not valid JSON", nil

	case RuleValidCode:
		looksLikeCode := codePunctuation.MatchString(response) && codeAssignPattern.MatchString(response)
		if codeBlockPattern.MatchString(response) || looksLikeCode {
			if rule.Language != "" {
				return true, fmt.Sprintf("Response contains valid code (%s)", rule.Language), nil
			}
			return true, "Response contains valid code", nil
		}
		return false, "Response does not appear to contain valid code", nil

	case RuleHasCodeBlock:
		if codeBlockPattern.MatchString(response) {
			return true, "Response contains code block(s)", nil
		}
		return false, "Response does not contain code blocks", nil

	case RuleExpr:
		ok, err := evalExpr(string(rule.Value), response)
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, fmt.Sprintf("Expression %q holds", rule.Value), nil
		}
		return false, fmt.Sprintf("Expression %q does not hold", rule.Value), nil

	default:
		return false, fmt.Sprintf("Unknown rule type: %s", rule.Type), nil
	}
}

func contains(response, value string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(response, value)
	}
	return strings.Contains(strings.ToLower(response), strings.ToLower(value))
}
