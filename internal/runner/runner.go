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

// Package runner starts plan runs in the background and bounds how many
// execute at once.
package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tombee/stepchain/internal/executor"
	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/metrics"
	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/pkg/plan"
)

// DefaultMaxConcurrent bounds concurrent runs when Config leaves it unset.
const DefaultMaxConcurrent = 10

var (
	// ErrDraining is returned by Start after Shutdown has begun.
	ErrDraining = stderrors.New("runner is shutting down")

	// ErrRunFinished is returned when cancelling a run in a terminal state.
	ErrRunFinished = stderrors.New("run already finished")
)

// CancelledByUser is the error recorded on runs stopped through Cancel.
const CancelledByUser = "cancelled by user"

// Executor runs a created run to completion. *executor.Orchestrator
// satisfies it.
type Executor interface {
	Run(ctx context.Context, planID, runID string) executor.Result
}

// Config contains runner configuration.
type Config struct {
	MaxConcurrent int
	Logger        *slog.Logger
}

// Manager creates runs and executes them asynchronously.
type Manager struct {
	plans store.PlanStore
	runs  store.RunStore
	exec  Executor

	sem    *semaphore.Weighted
	logger *slog.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc

	// mu guards active and draining, and orders wg.Add before a drain's
	// wg.Wait.
	mu       sync.Mutex
	active   map[string]context.CancelFunc
	draining bool
	wg       sync.WaitGroup
}

// New creates a Manager.
func New(plans store.PlanStore, runs store.RunStore, exec Executor, cfg Config) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		plans:     plans,
		runs:      runs,
		exec:      exec,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:    log.WithComponent(log.OrDefault(cfg.Logger), "runner"),
		baseCtx:   ctx,
		cancelAll: cancel,
		active:    make(map[string]context.CancelFunc),
	}
}

// Start creates a pending run of planID and executes it in the background.
// The returned run is a snapshot taken at creation.
func (m *Manager) Start(ctx context.Context, planID string, metadata map[string]any) (*plan.Run, error) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, ErrDraining
	}
	m.wg.Add(1)
	m.mu.Unlock()

	launched := false
	defer func() {
		if !launched {
			m.wg.Done()
		}
	}()

	if _, err := m.plans.GetPlanWithSteps(ctx, planID); err != nil {
		return nil, err
	}

	run := &plan.Run{
		ID:       uuid.NewString(),
		PlanID:   planID,
		Status:   plan.RunPending,
		Metadata: maps.Clone(metadata),
	}
	if err := m.runs.CreateRun(ctx, run); err != nil {
		metrics.RecordPersistenceError("create_run", err)
		return nil, fmt.Errorf("create run: %w", err)
	}

	// Runs outlive the request that started them.
	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.mu.Lock()
	m.active[run.ID] = cancel
	m.mu.Unlock()

	launched = true
	go m.execute(runCtx, cancel, run.PlanID, run.ID)

	m.logger.Info("run queued", log.RunIDKey, run.ID, log.PlanKey, planID)
	snapshot := *run
	return &snapshot, nil
}

func (m *Manager) execute(ctx context.Context, cancel context.CancelFunc, planID, runID string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.active, runID)
		m.mu.Unlock()
		cancel()
	}()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.settleQueued(runID)
		return
	}
	defer m.sem.Release(1)

	m.exec.Run(ctx, planID, runID)
}

// settleQueued marks a run cancelled before it started executing.
func (m *Manager) settleQueued(runID string) {
	ctx := context.Background()
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		m.logger.Error("failed to load queued run", log.RunIDKey, runID, log.Error(err))
		return
	}
	if run.Status.Terminal() {
		return
	}
	now := time.Now()
	run.Status = plan.RunCancelled
	run.Error = "cancelled before start"
	run.CompletedAt = &now
	if err := m.runs.UpdateRun(ctx, run); err != nil {
		metrics.RecordPersistenceError("update_run", err)
		m.logger.Error("failed to cancel queued run", log.RunIDKey, runID, log.Error(err))
	}
}

// Cancel marks runID cancelled and stops its execution. Cancelling a run
// that already finished returns ErrRunFinished.
func (m *Manager) Cancel(ctx context.Context, runID string) error {
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ErrRunFinished, runID, run.Status)
	}

	now := time.Now()
	run.Status = plan.RunCancelled
	run.Error = CancelledByUser
	run.CompletedAt = &now
	if err := m.runs.UpdateRun(ctx, run); err != nil {
		metrics.RecordPersistenceError("update_run", err)
		return fmt.Errorf("cancel run: %w", err)
	}

	m.mu.Lock()
	cancel, ok := m.active[runID]
	m.mu.Unlock()
	if ok {
		cancel()
	}

	m.logger.Info("run cancelled", log.RunIDKey, runID)
	return nil
}

// ActiveRuns returns the number of runs queued or executing.
func (m *Manager) ActiveRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown stops accepting runs and waits for active runs to finish. When
// ctx expires first, remaining runs are cancelled and Shutdown waits for
// them to settle before returning an error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancelAll()
		return nil
	case <-ctx.Done():
		remaining := m.ActiveRuns()
		m.logger.Warn("drain timeout, cancelling runs", "remaining", remaining)
		m.cancelAll()
		<-done
		return fmt.Errorf("shutdown timeout: %d run(s) cancelled", remaining)
	}
}
