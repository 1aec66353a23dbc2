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

// Package mock provides a scripted model backend for running plans offline.
//
// A fixture lists canned responses. Each call returns the first response
// whose conditions match the request; a default response catches the rest.
//
//	responses:
//	  - when:
//	      prompt_contains: translate
//	    return: Bonjour le monde
//	  - when:
//	      model: gpt-3.5-turbo
//	    error: rate_limit
//	    times: 1
//	  - default: true
//	    return: hello world
package mock

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/stepchain/pkg/llm"
)

// Fixture scripts the responses of a Client.
type Fixture struct {
	// Responses contains conditional and default responses
	Responses []Response `yaml:"responses" json:"responses"`

	// Response answers every call when Responses is empty
	Response string `yaml:"response,omitempty" json:"response,omitempty"`
}

// Response is a single canned reply with optional conditions.
type Response struct {
	// When specifies the conditions for this response
	When *Condition `yaml:"when,omitempty" json:"when,omitempty"`

	// Return is the response text when conditions match
	Return string `yaml:"return,omitempty" json:"return,omitempty"`

	// Error fails the call with a model error of this kind instead
	Error llm.ErrorKind `yaml:"error,omitempty" json:"error,omitempty"`

	// Times limits how often this response is used. Zero means unlimited.
	Times int `yaml:"times,omitempty" json:"times,omitempty"`

	// Default indicates this is the fallback response
	Default bool `yaml:"default,omitempty" json:"default,omitempty"`
}

// Condition specifies when a response should be used. Empty fields match
// anything.
type Condition struct {
	// Model matches the requested model exactly
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// PromptContains matches a case-insensitive substring of the prompt
	PromptContains string `yaml:"prompt_contains,omitempty" json:"prompt_contains,omitempty"`
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// Validate checks that the fixture can answer at least one call.
func (f *Fixture) Validate() error {
	if len(f.Responses) == 0 && f.Response == "" {
		return fmt.Errorf("fixture has no responses")
	}

	defaults := 0
	for i, r := range f.Responses {
		if r.Default {
			defaults++
		}
		if r.Times < 0 {
			return fmt.Errorf("responses[%d].times must be >= 0", i)
		}
		switch r.Error {
		case "", llm.ErrorKindRateLimit, llm.ErrorKindAuth, llm.ErrorKindTimeout, llm.ErrorKindGeneric:
		default:
			return fmt.Errorf("responses[%d].error: unknown error kind %q", i, r.Error)
		}
	}
	if defaults > 1 {
		return fmt.Errorf("fixture has %d default responses, want at most 1", defaults)
	}
	return nil
}
