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

// Package planfs serves plans from a directory of YAML or JSON documents and
// reloads them when files change.
package planfs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/plan"
)

var _ store.PlanStore = (*Store)(nil)

// DefaultPattern matches plan documents anywhere below the directory.
const DefaultPattern = "**/*.{yaml,yml,json}"

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Config configures a Store.
type Config struct {
	Dir      string
	Pattern  string
	Debounce time.Duration
	Logger   *slog.Logger
}

// Store is a PlanStore over a directory. Documents without an id take their
// path relative to Dir, minus the extension, as id. Documents that fail to
// parse are logged and skipped.
type Store struct {
	dir      string
	pattern  string
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	plans map[string]*plan.Plan
	files map[string]string // plan id -> relative path
}

// New loads every plan in cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("plans directory is required")
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(cfg.Pattern) {
		return nil, fmt.Errorf("invalid plan pattern %q", cfg.Pattern)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open plans directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Dir)
	}

	s := &Store{
		dir:      cfg.Dir,
		pattern:  cfg.Pattern,
		debounce: cfg.Debounce,
		logger:   logger.With("component", "planfs", "dir", cfg.Dir),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rescans the directory and replaces the loaded plans.
func (s *Store) Reload() error {
	matches, err := doublestar.Glob(os.DirFS(s.dir), s.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return fmt.Errorf("failed to scan plans directory: %w", err)
	}
	sort.Strings(matches)

	plans := make(map[string]*plan.Plan, len(matches))
	files := make(map[string]string, len(matches))
	for _, rel := range matches {
		data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(rel)))
		if err != nil {
			s.logger.Warn("failed to read plan file", "file", rel, "error", err)
			continue
		}
		p, err := plan.Decode(data, strings.TrimSuffix(rel, path.Ext(rel)))
		if err != nil {
			s.logger.Warn("skipping invalid plan file", "file", rel, "error", err)
			continue
		}
		if prev, dup := files[p.ID]; dup {
			s.logger.Warn("duplicate plan id, keeping first", "plan", p.ID, "file", rel, "first", prev)
			continue
		}
		plans[p.ID] = p
		files[p.ID] = rel
	}

	s.mu.Lock()
	s.plans = plans
	s.files = files
	s.mu.Unlock()

	s.logger.Info("plans loaded", "count", len(plans))
	return nil
}

// GetPlanWithSteps returns the plan with id.
func (s *Store) GetPlanWithSteps(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "plan", ID: id}
	}
	cp := *p
	cp.Steps = append([]plan.Step(nil), p.Steps...)
	return &cp, nil
}

// ListPlans returns all loaded plans sorted by name.
func (s *Store) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	s.mu.RLock()
	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		cp := *p
		cp.Steps = append([]plan.Step(nil), p.Steps...)
		result = append(result, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SavePlan writes p as YAML. Existing plans are rewritten in place; new
// plans are written to <id>.yaml.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	s.mu.RLock()
	rel, ok := s.files[p.ID]
	s.mu.RUnlock()
	if !ok {
		if !fs.ValidPath(p.ID) {
			return &errors.ValidationError{Field: "id", Message: "plan id is not a valid file name"}
		}
		rel = p.ID + ".yaml"
	}

	target := filepath.Join(s.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write plan: %w", err)
	}

	cp := *p
	cp.Steps = append([]plan.Step(nil), p.Steps...)
	s.mu.Lock()
	s.plans[p.ID] = &cp
	s.files[p.ID] = rel
	s.mu.Unlock()
	return nil
}

// Watch reloads plans when files below the directory change. It blocks
// until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := s.addDirs(fsw); err != nil {
		return err
	}
	s.logger.Info("plan watcher started")

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, func() {
			if err := s.Reload(); err != nil {
				s.logger.Error("plan reload failed", "error", err)
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("plan watcher stopped")
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fsw.Add(event.Name); err != nil {
						s.logger.Warn("failed to watch directory", "path", event.Name, "error", err)
					}
					schedule()
					continue
				}
			}
			if s.relevant(event) {
				s.logger.Debug("plan file changed", "op", event.Op.String(), "path", event.Name)
				schedule()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("plan watcher error", "error", err)
		}
	}
}

func (s *Store) addDirs(fsw *fsnotify.Watcher) error {
	return filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(p); err != nil {
				return fmt.Errorf("failed to watch %s: %w", p, err)
			}
		}
		return nil
	})
}

// relevant reports whether event touches a file matching the pattern.
func (s *Store) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(s.dir, event.Name)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(s.pattern, filepath.ToSlash(rel))
	return ok
}
