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

package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/executor"
	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/store/memory"
	"github.com/tombee/stepchain/internal/store/storetest"
	"github.com/tombee/stepchain/pkg/criteria"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/llm"
	"github.com/tombee/stepchain/pkg/plan"
)

// blockingExec holds every run until release is closed or the run's
// context is cancelled.
type blockingExec struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
	started atomic.Int32
}

func newBlockingExec() *blockingExec {
	return &blockingExec{release: make(chan struct{})}
}

func (e *blockingExec) Run(ctx context.Context, planID, runID string) executor.Result {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	e.started.Add(1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-e.release:
		return executor.Result{RunID: runID, Status: plan.RunCompleted}
	case <-ctx.Done():
		return executor.Result{RunID: runID, Status: plan.RunCancelled}
	}
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.SavePlan(context.Background(), storetest.SamplePlan("hello")))
	return s
}

func TestStart_CreatesPendingRun(t *testing.T) {
	s := newStore(t)
	exec := newBlockingExec()
	m := New(s, s, exec, Config{Logger: log.Discard()})
	defer func() {
		close(exec.release)
		require.NoError(t, m.Shutdown(context.Background()))
	}()

	run, err := m.Start(context.Background(), "hello", map[string]any{"source": "test"})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, plan.RunPending, run.Status)
	assert.Equal(t, "hello", run.PlanID)

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "test", stored.Metadata["source"])
}

func TestStart_UnknownPlan(t *testing.T) {
	s := newStore(t)
	m := New(s, s, newBlockingExec(), Config{Logger: log.Discard()})

	_, err := m.Start(context.Background(), "nope", nil)
	assert.True(t, errors.IsNotFound(err))
	assert.Zero(t, m.ActiveRuns())
}

func TestStart_BoundsConcurrency(t *testing.T) {
	s := newStore(t)
	exec := newBlockingExec()
	m := New(s, s, exec, Config{MaxConcurrent: 2, Logger: log.Discard()})

	for range 5 {
		_, err := m.Start(context.Background(), "hello", nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return exec.started.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), exec.started.Load())
	assert.Equal(t, 5, m.ActiveRuns())

	close(exec.release)
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Equal(t, int32(5), exec.started.Load())
	assert.Equal(t, int32(2), exec.peak.Load())
	assert.Zero(t, m.ActiveRuns())
}

func TestCancel_RunningRun(t *testing.T) {
	s := newStore(t)
	exec := newBlockingExec()
	m := New(s, s, exec, Config{Logger: log.Discard()})

	run, err := m.Start(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return exec.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel(context.Background(), run.ID))
	require.Eventually(t, func() bool { return m.ActiveRuns() == 0 }, time.Second, 5*time.Millisecond)

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.RunCancelled, stored.Status)
	assert.Equal(t, CancelledByUser, stored.Error)

	err = m.Cancel(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestCancel_QueuedRun(t *testing.T) {
	s := newStore(t)
	exec := newBlockingExec()
	m := New(s, s, exec, Config{MaxConcurrent: 1, Logger: log.Discard()})
	defer func() {
		close(exec.release)
		require.NoError(t, m.Shutdown(context.Background()))
	}()

	_, err := m.Start(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return exec.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	queued, err := m.Start(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NoError(t, m.Cancel(context.Background(), queued.ID))

	require.Eventually(t, func() bool { return m.ActiveRuns() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), exec.started.Load())

	stored, err := s.GetRun(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.RunCancelled, stored.Status)
	assert.Equal(t, CancelledByUser, stored.Error)
}

func TestCancel_UnknownRun(t *testing.T) {
	s := newStore(t)
	m := New(s, s, newBlockingExec(), Config{Logger: log.Discard()})

	err := m.Cancel(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestShutdown_RejectsNewRuns(t *testing.T) {
	s := newStore(t)
	m := New(s, s, newBlockingExec(), Config{Logger: log.Discard()})
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := m.Start(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrDraining)
}

func TestShutdown_TimeoutCancelsRuns(t *testing.T) {
	s := newStore(t)
	exec := newBlockingExec()
	m := New(s, s, exec, Config{Logger: log.Discard()})

	_, err := m.Start(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return exec.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = m.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 run(s) cancelled")
	assert.Zero(t, m.ActiveRuns())
}

func TestShutdown_WaitsForRunsStartedDuringDrain(t *testing.T) {
	s := newStore(t)
	exec := newBlockingExec()
	close(exec.release)
	m := New(s, s, exec, Config{MaxConcurrent: 4, Logger: log.Discard()})

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(context.Background(), "hello", nil); err == nil {
				started.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrDraining)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	// Every run accepted before the drain executed before Shutdown returned.
	executed := exec.started.Load()
	assert.Zero(t, m.ActiveRuns())

	wg.Wait()
	assert.Equal(t, started.Load(), executed)
}

func TestShutdown_FailedStartReleasesSlot(t *testing.T) {
	s := newStore(t)
	m := New(s, s, newBlockingExec(), Config{Logger: log.Discard()})

	_, err := m.Start(context.Background(), "missing", nil)
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Shutdown(ctx))
}

type echoClient struct {
	mu    sync.Mutex
	calls int
}

func (c *echoClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return &llm.Response{
		Content: "hello world, this is a friendly greeting",
		Usage:   llm.TokenUsage{PromptTokens: 5, CompletionTokens: 15, TotalTokens: 20},
	}, nil
}

func TestManager_EndToEnd(t *testing.T) {
	s := newStore(t)
	client := &echoClient{}
	steps := executor.NewStepRunner(client, criteria.NewEvaluator(client, nil, log.Discard()), s,
		executor.WithStepLogger(log.Discard()))
	orch := executor.New(s, s, steps, executor.WithLogger(log.Discard()))
	m := New(s, s, orch, Config{Logger: log.Discard()})

	run, err := m.Start(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(context.Background()))

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.RunCompleted, stored.Status, stored.Error)
	assert.Equal(t, 40, stored.TotalTokens)

	srs, err := s.ListStepRuns(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, srs, 2)
}
