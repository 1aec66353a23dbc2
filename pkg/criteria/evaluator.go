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
	"log/slog"

	"github.com/tombee/stepchain/pkg/llm"
)

// CostCalculator prices a model call. Unknown models cost zero.
type CostCalculator interface {
	CalculateCost(ctx context.Context, modelID string, promptTokens, completionTokens int) float64
}

// Evaluator evaluates responses against criteria. It is safe for concurrent
// use.
type Evaluator struct {
	judge  llm.Client
	costs  CostCalculator
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator. judge serves llm_judge criteria and may
// be nil when no plan uses them; costs may be nil to price judge calls at
// zero.
func NewEvaluator(judge llm.Client, costs CostCalculator, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		judge:  judge,
		costs:  costs,
		logger: logger.With("component", "criteria"),
	}
}

// Evaluate checks response against c. It never returns an error: internal
// failures produce a failed Result carrying the failure as its reason.
func (e *Evaluator) Evaluate(ctx context.Context, response string, c Criteria) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("criteria evaluation panicked", "panic", r)
			result = failed(fmt.Sprintf("evaluation error: %v", r))
		}
	}()

	switch c := c.(type) {
	case *RuleCriteria:
		return e.evaluateRules(response, c)
	case *JudgeCriteria:
		return e.evaluateJudge(ctx, response, c)
	case *HybridCriteria:
		return e.evaluateHybrid(ctx, response, c)
	default:
		e.logger.Error("unknown criteria type", "type", fmt.Sprintf("%T", c))
		return failed("unknown criteria type")
	}
}

func (e *Evaluator) evaluateHybrid(ctx context.Context, response string, c *HybridCriteria) Result {
	primary := e.Evaluate(ctx, response, c.Primary)
	if primary.Passed || primary.Conclusive {
		return primary
	}

	e.logger.Info("primary evaluation inconclusive, trying fallback", "reason", primary.Reason)
	fallback := e.Evaluate(ctx, response, c.Fallback)

	// The primary's judge call was still paid for.
	fallback.Cost += primary.Cost
	fallback.TokensUsed += primary.TokensUsed
	return fallback
}
