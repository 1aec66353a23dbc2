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
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"
)

// Mode selects how a step's output is reduced before it is carried forward.
type Mode string

const (
	ModeFull      Mode = "full"
	ModeSummary   Mode = "summary"
	ModeSelective Mode = "selective"
	ModeCustom    Mode = "custom"
)

// Valid reports whether m is a known mode. The empty mode is valid and
// means full.
func (m Mode) Valid() bool {
	switch m {
	case "", ModeFull, ModeSummary, ModeSelective, ModeCustom:
		return true
	}
	return false
}

// DefaultSummaryThreshold is the summary mode size limit in characters.
const DefaultSummaryThreshold = 500

const (
	truncationMarker = "\n\n[... truncated ...]\n\n"
	jqPrefix         = "jq:"
)

var codeBlockPattern = regexp.MustCompile("(?s)```.*?```")

// Extractor reduces step outputs. The zero value is not usable; use
// NewExtractor.
type Extractor struct {
	summaryThreshold int
	logger           *slog.Logger
}

// NewExtractor creates an Extractor. A non-positive threshold uses
// DefaultSummaryThreshold.
func NewExtractor(summaryThreshold int, logger *slog.Logger) *Extractor {
	if summaryThreshold <= 0 {
		summaryThreshold = DefaultSummaryThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{summaryThreshold: summaryThreshold, logger: logger}
}

// Extract reduces output using the default Extractor.
func Extract(output string, mode Mode, selector string) string {
	return NewExtractor(DefaultSummaryThreshold, nil).Extract(output, mode, selector)
}

// Extract reduces output according to mode and selector. It never fails:
// selectors that cannot be applied yield the raw output.
func (e *Extractor) Extract(output string, mode Mode, selector string) string {
	switch mode {
	case "", ModeFull:
		return output
	case ModeSummary:
		return summarize(output, e.summaryThreshold)
	case ModeSelective:
		return e.selective(output, selector)
	case ModeCustom:
		if q, ok := strings.CutPrefix(selector, jqPrefix); ok {
			return e.jq(output, strings.TrimSpace(q))
		}
		return e.selective(output, selector)
	default:
		e.logger.Warn("unknown context mode, using full", "mode", string(mode))
		return output
	}
}

func (e *Extractor) selective(output, selector string) string {
	switch selector {
	case "", "code", "codeblocks":
		return e.codeBlocks(output)
	case "json":
		if v, ok := firstJSON(output); ok {
			return v
		}
		return output
	}

	re, err := regexp.Compile("(?s)" + selector)
	if err != nil {
		e.logger.Warn("invalid selector regex", "selector", selector, "error", err)
		return output
	}
	matches := re.FindAllString(output, -1)
	if len(matches) == 0 {
		return output
	}
	return strings.Join(matches, "\n")
}

func (e *Extractor) codeBlocks(output string) string {
	blocks := codeBlockPattern.FindAllString(output, -1)
	if len(blocks) == 0 {
		e.logger.Debug("no code blocks found in output")
		return output
	}
	return strings.Join(blocks, "\n\n")
}

// firstJSON returns the first object or array in text that decodes as JSON.
func firstJSON(text string) (string, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		return string(raw), true
	}
	return "", false
}

// jq runs query against output parsed as JSON. When output is prose the
// first embedded JSON value is used. String results are emitted raw, other
// results as compact JSON, one per line.
func (e *Extractor) jq(output, query string) string {
	parsed, err := gojq.Parse(query)
	if err != nil {
		e.logger.Warn("invalid jq selector", "query", query, "error", err)
		return output
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		e.logger.Warn("jq selector failed to compile", "query", query, "error", err)
		return output
	}

	doc := output
	if !json.Valid([]byte(strings.TrimSpace(doc))) {
		v, ok := firstJSON(output)
		if !ok {
			e.logger.Debug("jq selector found no JSON in output")
			return output
		}
		doc = v
	}

	var input any
	if err := json.Unmarshal([]byte(doc), &input); err != nil {
		return output
	}

	var lines []string
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			e.logger.Warn("jq selector failed", "query", query, "error", err)
			return output
		}
		if s, isString := v.(string); isString {
			lines = append(lines, s)
			continue
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			lines = append(lines, fmt.Sprint(v))
			continue
		}
		lines = append(lines, strings.TrimRight(buf.String(), "\n"))
	}
	if len(lines) == 0 {
		return output
	}
	return strings.Join(lines, "\n")
}

// summarize keeps the first and last threshold/2 characters of text when it
// exceeds threshold.
func summarize(text string, threshold int) string {
	r := []rune(text)
	if len(r) <= threshold {
		return text
	}
	half := threshold / 2
	return string(r[:half]) + truncationMarker + string(r[len(r)-half:])
}
