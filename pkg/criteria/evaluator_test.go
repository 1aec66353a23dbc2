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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/pkg/llm"
)

type fakeJudge struct {
	mu       sync.Mutex
	reply    string
	err      error
	usage    llm.TokenUsage
	requests []llm.Request
}

func (f *fakeJudge) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply, Model: req.Model, Usage: f.usage}, nil
}

type flatPricer float64

func (p flatPricer) CalculateCost(_ context.Context, _ string, promptTokens, completionTokens int) float64 {
	return float64(p) * float64(promptTokens+completionTokens)
}

func newTestEvaluator(judge llm.Client) *Evaluator {
	return NewEvaluator(judge, flatPricer(0.001), log.Discard())
}

func TestEvaluate_RuleExample(t *testing.T) {
	c := &RuleCriteria{
		Logic: LogicAND,
		Rules: []Rule{
			{Type: RuleMinLength, Value: "10"},
			{Type: RuleContains, Value: "hello"},
		},
	}
	e := newTestEvaluator(nil)

	pass := e.Evaluate(context.Background(), "Hello there, friend", c)
	assert.True(t, pass.Passed)
	assert.True(t, pass.Conclusive)
	assert.Equal(t, "All AND criteria met", pass.Reason)

	fail := e.Evaluate(context.Background(), "Hi", c)
	assert.False(t, fail.Passed)
	assert.True(t, fail.Conclusive)
	assert.Contains(t, fail.Reason, "length")
	assert.Equal(t, "Response length 2 < 10", fail.Reason)
}

func TestEvaluate_ORShortCircuit(t *testing.T) {
	c := &RuleCriteria{
		Logic: LogicOR,
		Rules: []Rule{
			{Type: RuleContains, Value: "absent"},
			{Type: RuleHasCodeBlock},
			{Type: "bogus"},
		},
	}
	e := newTestEvaluator(nil)

	res := e.Evaluate(context.Background(), "here:\n```go\nx := 1\n```", c)
	assert.True(t, res.Passed)
	assert.Equal(t, "Response contains code block(s)", res.Reason)
	results := res.Details["results"].([]RuleResult)
	assert.Len(t, results, 2, "third rule must not run")

	res = e.Evaluate(context.Background(), "plain text", c)
	assert.False(t, res.Passed)
	assert.True(t, res.Conclusive)
	assert.Equal(t, "Not all OR criteria met", res.Reason)
}

func TestEvaluate_EmptyRules(t *testing.T) {
	e := newTestEvaluator(nil)

	assert.True(t, e.Evaluate(context.Background(), "x", &RuleCriteria{Logic: LogicAND}).Passed)
	assert.False(t, e.Evaluate(context.Background(), "x", &RuleCriteria{Logic: LogicOR}).Passed)
}

func TestEvaluate_Judge(t *testing.T) {
	tests := []struct {
		name           string
		reply          string
		pass, fail     []string
		wantPassed     bool
		wantConclusive bool
		wantPrefix     string
	}{
		{name: "default pass", reply: "Yes, this is right.", wantPassed: true, wantConclusive: true, wantPrefix: "LLM judge passed"},
		{name: "default fail", reply: "Wrong answer.", wantPassed: false, wantConclusive: true, wantPrefix: "LLM judge failed"},
		{name: "both inconclusive", reply: "Yes and no.", wantPassed: false, wantConclusive: false, wantPrefix: "LLM judge inconclusive"},
		{name: "neither inconclusive", reply: "Maybe.", wantPassed: false, wantConclusive: false, wantPrefix: "LLM judge inconclusive"},
		{name: "configured pass", reply: "APPROVED", pass: []string{"approved"}, wantPassed: true, wantConclusive: true, wantPrefix: "LLM judge passed"},
		{name: "fail overrides pass", reply: "approved but REJECTED", pass: []string{"approved"}, fail: []string{"rejected"}, wantPassed: false, wantConclusive: true, wantPrefix: "LLM judge failed"},
		{name: "configured miss falls back", reply: "good", pass: []string{"approved"}, wantPassed: true, wantConclusive: true, wantPrefix: "LLM judge passed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := &fakeJudge{reply: tt.reply, usage: llm.TokenUsage{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50}}
			e := newTestEvaluator(judge)

			res := e.Evaluate(context.Background(), "the answer", &JudgeCriteria{
				JudgeModel:   "judge-model",
				JudgePrompt:  "Is it right?",
				PassKeywords: tt.pass,
				FailKeywords: tt.fail,
			})

			assert.Equal(t, tt.wantPassed, res.Passed)
			assert.Equal(t, tt.wantConclusive, res.Conclusive)
			assert.Contains(t, res.Reason, tt.wantPrefix)
			assert.Equal(t, 50, res.TokensUsed)
			assert.InDelta(t, 0.05, res.Cost, 1e-9)

			require.Len(t, judge.requests, 1)
			req := judge.requests[0]
			assert.Equal(t, "judge-model", req.Model)
			assert.Equal(t, "Is it right?\n\nResponse to evaluate:\nthe answer", req.Prompt)
			assert.Equal(t, 0.3, *req.Temperature)
			assert.Equal(t, 500, *req.MaxTokens)
		})
	}
}

func TestEvaluate_JudgeReasonTruncated(t *testing.T) {
	long := "yes " + string(make([]rune, 300))
	e := newTestEvaluator(&fakeJudge{reply: long})

	res := e.Evaluate(context.Background(), "r", &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"})
	assert.Len(t, []rune(res.Reason), len("LLM judge passed: ")+200)
}

func TestEvaluate_JudgeError(t *testing.T) {
	e := newTestEvaluator(&fakeJudge{err: &llm.CallError{Kind: llm.ErrorKindTimeout}})

	res := e.Evaluate(context.Background(), "r", &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "LLM judge error")
	assert.True(t, res.Conclusive)
	assert.Zero(t, res.Cost)
}

func TestEvaluate_JudgeTokensWithoutTotal(t *testing.T) {
	judge := &fakeJudge{reply: "yes", usage: llm.TokenUsage{PromptTokens: 7, CompletionTokens: 3}}

	res := newTestEvaluator(judge).Evaluate(context.Background(), "r", &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"})
	assert.True(t, res.Passed)
	assert.Equal(t, 10, res.TokensUsed)
}

func TestEvaluate_Hybrid(t *testing.T) {
	fallback := &RuleCriteria{Logic: LogicAND, Rules: []Rule{{Type: RuleMinLength, Value: "3"}}}

	t.Run("inconclusive primary falls back", func(t *testing.T) {
		judge := &fakeJudge{reply: "hmm", usage: llm.TokenUsage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10}}
		e := newTestEvaluator(judge)

		res := e.Evaluate(context.Background(), "long enough", &HybridCriteria{
			Primary:  &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"},
			Fallback: fallback,
		})
		assert.True(t, res.Passed)
		assert.Equal(t, "All AND criteria met", res.Reason)
		assert.Equal(t, 10, res.TokensUsed, "primary judge usage is kept")
		assert.InDelta(t, 0.01, res.Cost, 1e-9)
	})

	t.Run("conclusive failure is kept", func(t *testing.T) {
		e := newTestEvaluator(&fakeJudge{reply: "wrong"})

		res := e.Evaluate(context.Background(), "long enough", &HybridCriteria{
			Primary:  &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"},
			Fallback: fallback,
		})
		assert.False(t, res.Passed)
		assert.Contains(t, res.Reason, "LLM judge failed")
	})

	t.Run("judge error does not fall back", func(t *testing.T) {
		e := newTestEvaluator(&fakeJudge{err: errors.New("connection refused")})

		res := e.Evaluate(context.Background(), "long enough", &HybridCriteria{
			Primary:  &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"},
			Fallback: fallback,
		})
		assert.False(t, res.Passed)
		assert.Equal(t, "LLM judge error: connection refused", res.Reason)
	})

	t.Run("rule primary never falls back", func(t *testing.T) {
		judge := &fakeJudge{reply: "yes"}
		e := newTestEvaluator(judge)

		res := e.Evaluate(context.Background(), "short", &HybridCriteria{
			Primary:  &RuleCriteria{Logic: LogicAND, Rules: []Rule{{Type: RuleContains, Value: "absent"}}},
			Fallback: &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"},
		})
		assert.False(t, res.Passed)
		assert.Empty(t, judge.requests)
	})
}

func TestEvaluate_NilCriteria(t *testing.T) {
	res := newTestEvaluator(nil).Evaluate(context.Background(), "r", nil)
	assert.False(t, res.Passed)
	assert.Equal(t, "unknown criteria type", res.Reason)
}

func TestEvaluate_NoJudgeClient(t *testing.T) {
	res := newTestEvaluator(nil).Evaluate(context.Background(), "r", &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "no judge client")
}

func TestEvaluate_JudgePlainError(t *testing.T) {
	res := newTestEvaluator(&fakeJudge{err: errors.New("connection refused")}).
		Evaluate(context.Background(), "r", &JudgeCriteria{JudgeModel: "j", JudgePrompt: "p"})
	assert.Equal(t, "LLM judge error: connection refused", res.Reason)
}
