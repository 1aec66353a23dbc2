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

package plan

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML or JSON plan document, applies defaults and
// validates the result.
func Parse(data []byte) (*Plan, error) {
	return Decode(data, "")
}

// Decode is Parse with a fallback ID for documents that omit one. An empty
// defaultID generates a random ID.
func Decode(data []byte, defaultID string) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	if p.ID == "" {
		p.ID = defaultID
	}
	p.ApplyDefaults()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &p, nil
}

// LoadFile reads and parses the plan document at path.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ApplyDefaults assigns missing identifiers and sorts steps by order.
func (p *Plan) ApplyDefaults() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		s.PlanID = p.ID
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s-step-%d", p.ID, s.Order)
		}
	}
	sort.SliceStable(p.Steps, func(i, j int) bool {
		return p.Steps[i].Order < p.Steps[j].Order
	})
}
