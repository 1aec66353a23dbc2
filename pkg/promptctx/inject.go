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

package promptctx

import (
	"cmp"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// StepOutput is the accepted output of a completed step.
type StepOutput struct {
	Order  int    `json:"order"`
	Output string `json:"output"`
}

var placeholderPattern = regexp.MustCompile(`\{\{(previous_output|all_outputs|step_(\d+)_output)\}\}`)

// Inject substitutes placeholders in template. Substitution is a single
// pass, so values that themselves contain placeholders are not expanded
// again. When prior lists an order twice the first entry wins.
func Inject(template, current string, prior []StepOutput) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	byOrder := make(map[string]string, len(prior))
	for _, p := range prior {
		key := strconv.Itoa(p.Order)
		if _, seen := byOrder[key]; !seen {
			byOrder[key] = p.Output
		}
	}

	var all *string
	allOutputs := func() string {
		if all == nil {
			s := joinAll(prior)
			all = &s
		}
		return *all
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		switch {
		case sub[1] == "previous_output":
			return current
		case sub[1] == "all_outputs":
			return allOutputs()
		default:
			if out, ok := byOrder[sub[2]]; ok {
				return out
			}
			return match
		}
	})
}

// joinAll renders prior outputs with step banners in ascending order.
func joinAll(prior []StepOutput) string {
	sorted := make([]StepOutput, len(prior))
	copy(sorted, prior)
	slices.SortStableFunc(sorted, func(a, b StepOutput) int {
		return cmp.Compare(a.Order, b.Order)
	})

	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = "=== Step " + strconv.Itoa(p.Order) + " ===\n" + p.Output
	}
	return strings.Join(parts, "\n\n")
}

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}

// TruncateToTokens shortens text to roughly maxTokens tokens using the same
// head and tail strategy as summary mode.
func TruncateToTokens(text string, maxTokens int, logger *slog.Logger) string {
	estimated := EstimateTokens(text)
	if estimated <= maxTokens {
		return text
	}
	if logger != nil {
		logger.Warn("context too large, truncating", "estimated_tokens", estimated, "max_tokens", maxTokens)
	}
	return summarize(text, maxTokens*4)
}
