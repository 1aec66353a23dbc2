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
	"context"
	"fmt"
	"strings"

	"github.com/tombee/stepchain/pkg/llm"
)

const (
	judgeTemperature = 0.3
	judgeMaxTokens   = 500
	judgeReasonLimit = 200
)

var (
	defaultPassWords = []string{"yes", "pass", "success", "correct", "valid", "good"}
	defaultFailWords = []string{"no", "fail", "incorrect", "invalid", "bad", "wrong"}
)

// evaluateJudge asks the judge model to grade response and reads its verdict
// from keywords in the answer. Configured keywords are checked first, with
// fail keywords overriding pass keywords; when neither matches, a built-in
// vocabulary decides. A verdict containing both or neither of the built-in
// pass and fail words is inconclusive.
func (e *Evaluator) evaluateJudge(ctx context.Context, response string, c *JudgeCriteria) Result {
	if e.judge == nil {
		return failed("LLM judge error: no judge client configured")
	}

	prompt := c.JudgePrompt + "\n\nResponse to evaluate:\n" + response
	resp, err := e.judge.Complete(ctx, llm.Request{
		Model:       c.JudgeModel,
		Prompt:      prompt,
		Temperature: llm.Float64(judgeTemperature),
		MaxTokens:   llm.Int(judgeMaxTokens),
	})
	if err != nil {
		e.logger.Error("LLM judge evaluation error", "model", c.JudgeModel, "error", err)
		return failed(fmt.Sprintf("LLM judge error: %v", err))
	}

	var cost float64
	if e.costs != nil {
		cost = e.costs.CalculateCost(ctx, c.JudgeModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	judgement := strings.ToLower(resp.Content)
	excerpt := truncateRunes(resp.Content, judgeReasonLimit)

	result := Result{
		Conclusive: true,
		Cost:       cost,
		TokensUsed: resp.Usage.Total(),
		Details: map[string]any{
			"full_judgement": resp.Content,
			"model":          c.JudgeModel,
		},
	}

	if containsAny(judgement, c.PassKeywords) {
		result.Passed = true
		result.Reason = "LLM judge passed: " + excerpt
	}
	if containsAny(judgement, c.FailKeywords) {
		result.Passed = false
		result.Reason = "LLM judge failed: " + excerpt
	}

	if result.Reason == "" {
		hasPass := containsAny(judgement, defaultPassWords)
		hasFail := containsAny(judgement, defaultFailWords)
		switch {
		case hasPass && !hasFail:
			result.Passed = true
			result.Reason = "LLM judge passed: " + excerpt
		case hasFail && !hasPass:
			result.Passed = false
			result.Reason = "LLM judge failed: " + excerpt
		default:
			result.Passed = false
			result.Conclusive = false
			result.Reason = "LLM judge inconclusive: " + excerpt
			e.logger.Warn("LLM judge evaluation was inconclusive", "model", c.JudgeModel)
		}
	}

	return result
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
