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

// Package catalog caches model metadata and prices model calls.
package catalog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/llm"
)

// DefaultTTL is how long a loaded model list is served before reloading.
const DefaultTTL = 60 * time.Second

// ModelLister loads the models currently marked available.
type ModelLister interface {
	ListAvailableModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Catalog is a read-mostly, time-bounded cache over a ModelLister. It is
// safe for concurrent use. Concurrent reloads may race; the last one wins.
type Catalog struct {
	source ModelLister
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu       sync.RWMutex
	models   map[string]llm.ModelInfo
	loadedAt time.Time
	loaded   bool

	// retryAt holds back automatic reloads after a failed refresh.
	retryAt time.Time
}

// New creates a Catalog backed by source.
func New(source ModelLister, opts ...Option) *Catalog {
	c := &Catalog{
		source: source,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
		models: make(map[string]llm.ModelInfo),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "catalog")
	return c
}

// Refresh reloads the model list from the source. On failure the previous
// list is kept, automatic reloads pause for one TTL, and the error is
// returned.
func (c *Catalog) Refresh(ctx context.Context) error {
	models, err := c.source.ListAvailableModels(ctx)
	if err != nil {
		c.mu.Lock()
		c.retryAt = c.now().Add(c.ttl)
		c.mu.Unlock()
		c.logger.Error("failed to refresh model catalog", "error", err)
		return errors.Wrap(err, "refreshing model catalog")
	}

	next := make(map[string]llm.ModelInfo, len(models))
	for _, m := range models {
		if m.Available {
			next[m.ID] = m
		}
	}

	c.mu.Lock()
	c.models = next
	c.loadedAt = c.now()
	c.loaded = true
	c.retryAt = time.Time{}
	c.mu.Unlock()

	c.logger.Debug("model catalog refreshed", "models", len(next))
	return nil
}

// refreshIfStale reloads when the cache is empty or expired. Failures are
// logged by Refresh and otherwise ignored.
func (c *Catalog) refreshIfStale(ctx context.Context) {
	c.mu.RLock()
	now := c.now()
	fresh := (c.loaded && now.Sub(c.loadedAt) < c.ttl) || now.Before(c.retryAt)
	c.mu.RUnlock()
	if fresh {
		return
	}
	_ = c.Refresh(ctx)
}

// Get returns the model with id.
func (c *Catalog) Get(ctx context.Context, id string) (llm.ModelInfo, error) {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	m, ok := c.models[id]
	c.mu.RUnlock()
	if !ok {
		return llm.ModelInfo{}, &errors.NotFoundError{Resource: "model", ID: id}
	}
	return m, nil
}

// List returns all available models sorted by ID.
func (c *Catalog) List(ctx context.Context) []llm.ModelInfo {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	out := make([]llm.ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CalculateCost prices a call to modelID. Unknown models cost zero.
func (c *Catalog) CalculateCost(ctx context.Context, modelID string, promptTokens, completionTokens int) float64 {
	m, err := c.Get(ctx, modelID)
	if err != nil {
		c.logger.Warn("cannot calculate cost for unknown model", "model", modelID)
		return 0
	}
	return m.Cost(promptTokens, completionTokens)
}

// Cheapest returns the available model with the lowest average of input
// and output price.
func (c *Catalog) Cheapest(ctx context.Context) (llm.ModelInfo, error) {
	models := c.List(ctx)
	if len(models) == 0 {
		return llm.ModelInfo{}, &errors.NotFoundError{Resource: "model", ID: "cheapest"}
	}
	best := models[0]
	for _, m := range models[1:] {
		if m.InputPricePer1K+m.OutputPricePer1K < best.InputPricePer1K+best.OutputPricePer1K {
			best = m
		}
	}
	return best, nil
}
