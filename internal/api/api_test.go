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

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepchain/internal/catalog"
	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/progress"
	"github.com/tombee/stepchain/internal/runner"
	"github.com/tombee/stepchain/internal/store"
	"github.com/tombee/stepchain/internal/store/memory"
	"github.com/tombee/stepchain/internal/store/storetest"
	"github.com/tombee/stepchain/pkg/errors"
	"github.com/tombee/stepchain/pkg/plan"
)

// fakeRunner creates pending runs without executing them.
type fakeRunner struct {
	mu        sync.Mutex
	store     *memory.Store
	started   []string
	cancelled []string
	err       error
}

func (f *fakeRunner) Start(ctx context.Context, planID string, metadata map[string]any) (*plan.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := f.store.GetPlanWithSteps(ctx, planID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	id := fmt.Sprintf("run-%d", len(f.started)+1)
	f.started = append(f.started, planID)
	f.mu.Unlock()

	run := &plan.Run{ID: id, PlanID: planID, Status: plan.RunPending, Metadata: metadata}
	if err := f.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (f *fakeRunner) Cancel(ctx context.Context, runID string) error {
	run, err := f.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", runner.ErrRunFinished, runID, run.Status)
	}
	run.Status = plan.RunCancelled
	run.Error = runner.CancelledByUser
	f.mu.Lock()
	f.cancelled = append(f.cancelled, runID)
	f.mu.Unlock()
	return f.store.UpdateRun(ctx, run)
}

type testEnv struct {
	store       *memory.Store
	runner      *fakeRunner
	broadcaster *progress.Broadcaster
	server      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	s := memory.New()
	require.NoError(t, s.SavePlan(ctx, storetest.SamplePlan("hello")))
	require.NoError(t, store.Seed(ctx, s, catalog.DefaultModels()))

	env := &testEnv{
		store:       s,
		runner:      &fakeRunner{store: s},
		broadcaster: progress.New(16, log.Discard()),
	}
	router := NewRouter(Config{
		Plans:     s,
		Runs:      s,
		Runner:    env.runner,
		Catalog:   catalog.New(s, catalog.WithLogger(log.Discard())),
		Progress:  env.broadcaster,
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "# metrics") }),
		Version:   "test",
		Heartbeat: 10 * time.Millisecond,
		Logger:    log.Discard(),
	})
	env.server = httptest.NewServer(router.Handler())
	t.Cleanup(func() {
		env.server.Close()
		env.broadcaster.Close()
	})
	return env
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func (e *testEnv) post(t *testing.T, path, payload string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, resp.Header.Get(log.RequestIDHeader))
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPlans(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/v1/plans")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	plans := body["plans"].([]any)
	first := plans[0].(map[string]any)
	assert.Equal(t, "hello", first["id"])
	assert.Equal(t, float64(2), first["steps"])

	resp, body = env.get(t, "/v1/plans/hello")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello World Workflow", body["name"])
	assert.Len(t, body["steps"], 2)

	resp, body = env.get(t, "/v1/plans/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "plan not found: missing", body["error"])
}

func TestStartRun(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/v1/runs", `{"plan_id":"hello","metadata":{"user":"ci"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "run-1", body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "/v1/runs/run-1", resp.Header.Get("Location"))

	resp, body = env.get(t, "/v1/runs/run-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ci", body["metadata"].(map[string]any)["user"])
}

func TestStartRun_Errors(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/v1/runs", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.post(t, "/v1/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "plan_id")

	resp, _ = env.post(t, "/v1/runs", `{"plan_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.runner.err = runner.ErrDraining
	resp, _ = env.post(t, "/v1/runs", `{"plan_id":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRunHistory(t *testing.T) {
	env := newTestEnv(t)
	for range 3 {
		resp, _ := env.post(t, "/v1/runs", `{"plan_id":"hello"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp, body := env.get(t, "/v1/plans/hello/runs?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])

	resp, body = env.get(t, "/v1/runs?status=completed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])

	resp, _ = env.get(t, "/v1/runs?limit=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.get(t, "/v1/plans/missing/runs")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateRun(ctx, &plan.Run{ID: "r1", PlanID: "hello", Status: plan.RunRunning}))
	for _, order := range []int{2, 1} {
		require.NoError(t, env.store.CreateStepRun(ctx, &plan.StepRun{
			ID: fmt.Sprintf("sr-%d", order), RunID: "r1", StepOrder: order, Status: plan.StepCompleted,
		}))
	}

	resp, body := env.get(t, "/v1/runs/r1/steps")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	steps := body["steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, float64(1), steps[0].(map[string]any)["step_order"])

	resp, _ = env.get(t, "/v1/runs/nope/steps")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRun(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.post(t, "/v1/runs", `{"plan_id":"hello"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := env.post(t, "/v1/runs/run-1/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	resp, _ = env.post(t, "/v1/runs/run-1/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.post(t, "/v1/runs/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModels(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/v1/models")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), body["count"])

	resp, body = env.get(t, "/v1/models/gpt-4-turbo")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gpt-4-turbo", body["id"])

	resp, body = env.get(t, "/v1/models/cheapest")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "claude-3-haiku", body["id"])

	resp, _ = env.get(t, "/v1/models/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// readEvents reads SSE data lines until n events arrive or the stream ends.
func readEvents(t *testing.T, resp *http.Response, n int) []plan.ProgressEvent {
	t.Helper()
	var events []plan.ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < n {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev plan.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		events = append(events, ev)
	}
	return events
}

func TestRunEvents_StreamsUntilTerminal(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.CreateRun(context.Background(), &plan.Run{ID: "r1", PlanID: "hello", Status: plan.RunRunning}))

	resp, err := http.Get(env.server.URL + "/v1/runs/r1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.broadcaster.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	env.broadcaster.Publish(plan.ProgressEvent{RunID: "other", Status: plan.RunRunning})
	env.broadcaster.Publish(plan.ProgressEvent{RunID: "r1", Status: plan.RunRunning, CurrentStep: 1, TotalSteps: 2})
	env.broadcaster.Publish(plan.ProgressEvent{RunID: "r1", Status: plan.RunCompleted, CompletedSteps: 2, TotalSteps: 2})

	events := readEvents(t, resp, 10)
	require.Len(t, events, 3)
	assert.Equal(t, plan.RunRunning, events[0].Status)
	assert.Equal(t, 1, events[1].CurrentStep)
	assert.Equal(t, plan.RunCompleted, events[2].Status)
}

func TestRunEvents_TerminalRunClosesImmediately(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.CreateRun(context.Background(), &plan.Run{
		ID: "done", PlanID: "hello", Status: plan.RunFailed, Error: "boom",
	}))

	resp, err := http.Get(env.server.URL + "/v1/runs/done/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(t, resp, 10)
	require.Len(t, events, 1)
	assert.Equal(t, plan.RunFailed, events[0].Status)
	assert.Equal(t, "boom", events[0].Error)
}

func TestRunEvents_UnknownRun(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/v1/runs/missing/events")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAllEvents(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return env.broadcaster.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	env.broadcaster.Publish(plan.ProgressEvent{RunID: "a", Status: plan.RunRunning})
	env.broadcaster.Publish(plan.ProgressEvent{RunID: "b", Status: plan.RunCompleted})

	events := readEvents(t, resp, 2)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].RunID)
	assert.Equal(t, "b", events[1].RunID)
}

func TestWriteErr_Mapping(t *testing.T) {
	r := NewRouter(Config{Logger: log.Discard()})
	tests := []struct {
		err  error
		want int
	}{
		{&errors.NotFoundError{Resource: "run", ID: "x"}, http.StatusNotFound},
		{&errors.ValidationError{Field: "f", Message: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("%w: done", runner.ErrRunFinished), http.StatusConflict},
		{runner.ErrDraining, http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.writeErr(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
