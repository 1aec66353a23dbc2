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

package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tombee/stepchain/pkg/llm"
)

func TestRecordPersistenceError(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		err       error
		errorType string
	}{
		{name: "cancelled", operation: "UpdateRun", err: context.Canceled, errorType: "context_canceled"},
		{name: "wrapped deadline", operation: "CreateStepRun", err: fmt.Errorf("write: %w", context.DeadlineExceeded), errorType: "deadline_exceeded"},
		{name: "other", operation: "UpdateStepRun", err: errors.New("disk full"), errorType: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := persistenceErrors.With(prometheus.Labels{"operation": tt.operation, "error_type": tt.errorType})
			before := testutil.ToFloat64(counter)

			RecordPersistenceError(tt.operation, tt.err)

			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("completed"))
	activeBefore := testutil.ToFloat64(runsActive)

	RunStarted()
	assert.Equal(t, activeBefore+1, testutil.ToFloat64(runsActive))

	RunFinished("completed", 3*time.Second)
	assert.Equal(t, activeBefore, testutil.ToFloat64(runsActive))
	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("completed")))
}

func TestRecordModelCall(t *testing.T) {
	errCounter := modelCallErrors.WithLabelValues("metrics-test-model", "rate_limit")
	before := testutil.ToFloat64(errCounter)

	RecordModelCall("metrics-test-model", time.Millisecond, nil)
	RecordModelCall("metrics-test-model", time.Millisecond, &llm.CallError{Kind: llm.ErrorKindRateLimit, StatusCode: 429})

	assert.Equal(t, before+1, testutil.ToFloat64(errCounter))
}

func TestRecordUsage(t *testing.T) {
	RecordUsage("usage-test-model", 150, 0.25)
	RecordUsage("usage-test-model", 0, 0)

	assert.Equal(t, float64(150), testutil.ToFloat64(tokensTotal.WithLabelValues("usage-test-model")))
	assert.InDelta(t, 0.25, testutil.ToFloat64(costTotal.WithLabelValues("usage-test-model")), 1e-9)
}

func TestRecordAttempt(t *testing.T) {
	RecordAttempt("attempt-test-model", OutcomeCriteriaFailed)
	RecordAttempt("attempt-test-model", OutcomeCriteriaFailed)

	assert.Equal(t, float64(2), testutil.ToFloat64(stepAttempts.WithLabelValues("attempt-test-model", OutcomeCriteriaFailed)))
}
