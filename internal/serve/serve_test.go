/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package serve

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/memdiag/pkg/diag"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestNotReadyBeforeFirstPass(t *testing.T) {
	m := NewMonitor("127.0.0.1:0", time.Hour, prometheus.NewRegistry(), nil)
	code, _ := get(t, m.handler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadyAfterCleanPass(t *testing.T) {
	m := NewMonitor("127.0.0.1:0", time.Hour, prometheus.NewRegistry(),
		func(context.Context) (*diag.Summary, error) {
			return &diag.Summary{Passed: 2}, nil
		})
	m.pass(context.Background())

	h := m.handler()
	code, _ := get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/live")
	assert.Equal(t, http.StatusOK, code)
}

func TestUnreadyAfterFailedPass(t *testing.T) {
	m := NewMonitor("127.0.0.1:0", time.Hour, prometheus.NewRegistry(),
		func(context.Context) (*diag.Summary, error) {
			return &diag.Summary{Passed: 1, Failed: 1}, nil
		})
	m.pass(context.Background())
	code, _ := get(t, m.handler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestPassRecordsRunError(t *testing.T) {
	m := NewMonitor("127.0.0.1:0", time.Hour, prometheus.NewRegistry(),
		func(context.Context) (*diag.Summary, error) {
			return nil, errors.New("probe exploded")
		})
	m.pass(context.Background())
	assert.EqualError(t, m.lastOutcome(), "probe exploded")
}

func TestMetricsEndpointServesRunnerRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	runner, err := diag.NewRunner(diag.Config{Registry: registry})
	require.NoError(t, err)
	runner.Register(diag.Scenario{Name: "noop", Run: func(context.Context) error { return nil }})
	m := NewMonitor("127.0.0.1:0", time.Hour, registry, runner.Run)
	m.pass(context.Background())

	code, body := get(t, m.handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "memdiag_scenario_runs_total")
}
