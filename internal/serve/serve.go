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

// Package serve runs the suites periodically and exposes the outcome over
// HTTP: healthcheck endpoints for liveness/readiness and a Prometheus
// metrics endpoint.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/memdiag/internal/logging"
	"github.com/srediag/memdiag/pkg/diag"
)

// RunFunc executes one full suite pass.
type RunFunc func(ctx context.Context) (*diag.Summary, error)

// Monitor re-runs the suites on an interval and reports the last outcome.
type Monitor struct {
	addr     string
	interval time.Duration
	run      RunFunc
	registry *prometheus.Registry
	log      *logging.Logger

	mu      sync.RWMutex
	lastErr error
	ran     bool
}

// NewMonitor builds a monitor. The registry must be the one the runner's
// metrics are registered on, so /metrics serves them.
func NewMonitor(addr string, interval time.Duration, registry *prometheus.Registry, run RunFunc) *Monitor {
	return &Monitor{
		addr:     addr,
		interval: interval,
		run:      run,
		registry: registry,
		log:      logging.New("monitor", nil),
	}
}

func (m *Monitor) handler() http.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(500))
	health.AddReadinessCheck("suite", m.lastOutcome)

	mux := http.NewServeMux()
	mux.Handle("/live", http.HandlerFunc(health.LiveEndpoint))
	mux.Handle("/ready", http.HandlerFunc(health.ReadyEndpoint))
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return mux
}

// Serve blocks, running suite passes on the interval and serving HTTP until
// ctx is done.
func (m *Monitor) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: m.addr, Handler: m.handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		m.log.Infof("monitor listening on %s, interval %s", m.addr, m.interval)
		errc <- srv.ListenAndServe()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("monitor http: %w", err)
		case <-ticker.C:
			m.pass(ctx)
		}
	}
}

func (m *Monitor) pass(ctx context.Context) {
	sum, err := m.run(ctx)
	if err == nil && sum != nil && !sum.Ok() {
		err = fmt.Errorf("%d scenario(s) failed", sum.Failed)
	}
	m.mu.Lock()
	m.lastErr = err
	m.ran = true
	m.mu.Unlock()
	if err != nil {
		m.log.Errorf("suite pass: %v", err)
	} else {
		m.log.Infof("suite pass clean: %d passed, %d skipped", sum.Passed, sum.Skipped)
	}
}

// lastOutcome is the readiness check: not ready until the first pass has
// finished, unhealthy while the last pass had failures.
func (m *Monitor) lastOutcome() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ran {
		return errors.New("no suite pass completed yet")
	}
	return m.lastErr
}
