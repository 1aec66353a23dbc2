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

package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/plan"
)

// Layered presents several plan stores as one. Lookups try each layer in
// order and the first hit wins; ListPlans hides plans shadowed by an
// earlier layer. SavePlan always writes to the first layer.
type Layered struct {
	layers []PlanStore
}

var _ PlanStore = (*Layered)(nil)

// NewLayered creates a Layered store. Nil layers are skipped.
func NewLayered(layers ...PlanStore) *Layered {
	l := &Layered{}
	for _, s := range layers {
		if s != nil {
			l.layers = append(l.layers, s)
		}
	}
	return l
}

// GetPlanWithSteps returns the plan from the first layer that has it.
func (l *Layered) GetPlanWithSteps(ctx context.Context, id string) (*plan.Plan, error) {
	for _, s := range l.layers {
		p, err := s.GetPlanWithSteps(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, &errors.NotFoundError{Resource: "plan", ID: id}
}

// ListPlans merges every layer's plans, sorted by name.
func (l *Layered) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	seen := make(map[string]bool)
	var out []*plan.Plan
	for _, s := range l.layers {
		plans, err := s.ListPlans(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range plans {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SavePlan writes to the first layer.
func (l *Layered) SavePlan(ctx context.Context, p *plan.Plan) error {
	if len(l.layers) == 0 {
		return fmt.Errorf("no plan store configured")
	}
	return l.layers[0].SavePlan(ctx, p)
}
