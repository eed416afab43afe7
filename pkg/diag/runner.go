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

package diag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/memdiag/internal/logging"
)

// Config tunes a Runner. The zero value runs scenarios sequentially with
// noop telemetry and a private metrics registry.
type Config struct {
	// Parallel is the worker count; values <= 1 run sequentially in
	// registration order, matching the original linear suites.
	Parallel int
	// FailFast stops a sequential run at the first failure. Scenarios left
	// unrun are recorded as skipped.
	FailFast bool
	// Strict turns skips into failures, for hosts that are expected to
	// support everything.
	Strict bool

	Tracer   trace.Tracer
	Meter    metric.Meter
	Registry prometheus.Registerer
	Logger   *logging.Logger
}

// Runner executes registered scenarios and keeps their results.
type Runner struct {
	cfg       Config
	scenarios []Scenario
	results   cmap.ConcurrentMap[string, Result]
	metrics   *metrics
	durations metric.Float64Histogram
	tracer    trace.Tracer
	log       *logging.Logger
}

// NewRunner builds a Runner from cfg.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Tracer == nil {
		cfg.Tracer = tracenoop.NewTracerProvider().Tracer("memdiag")
	}
	if cfg.Meter == nil {
		cfg.Meter = metricnoop.NewMeterProvider().Meter("memdiag")
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	durations, err := cfg.Meter.Float64Histogram("memdiag.scenario.duration",
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("scenario duration instrument: %w", err)
	}
	m, err := newMetrics(cfg.Registry)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:       cfg,
		results:   cmap.New[Result](),
		metrics:   m,
		durations: durations,
		tracer:    cfg.Tracer,
		log:       cfg.Logger,
	}, nil
}

// Register appends scenarios to the run order.
func (r *Runner) Register(scenarios ...Scenario) {
	r.scenarios = append(r.scenarios, scenarios...)
}

// Run executes every registered scenario and returns the aggregate.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if len(r.scenarios) == 0 {
		return nil, errors.New("no scenarios registered")
	}
	pending := queue.New(int64(len(r.scenarios)))
	defer pending.Dispose()
	for _, s := range r.scenarios {
		if err := pending.Put(s); err != nil {
			return nil, fmt.Errorf("queue scenario %s: %w", s.Name, err)
		}
	}
	if r.cfg.Parallel > 1 {
		if err := r.runPooled(ctx, pending); err != nil {
			return nil, err
		}
	} else {
		r.runSequential(ctx, pending)
	}
	return r.summary(), nil
}

func (r *Runner) runSequential(ctx context.Context, pending *queue.Queue) {
	for !pending.Empty() {
		items, err := pending.Get(1)
		if err != nil || len(items) == 0 {
			return
		}
		s := items[0].(Scenario)
		res := r.runOne(ctx, s)
		if res.State == StateFailed && r.cfg.FailFast {
			r.skipRemaining(pending, res.Name)
			return
		}
	}
}

func (r *Runner) runPooled(ctx context.Context, pending *queue.Queue) error {
	pool, err := ants.NewPool(r.cfg.Parallel)
	if err != nil {
		return fmt.Errorf("scenario pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for !pending.Empty() {
		items, err := pending.Get(1)
		if err != nil || len(items) == 0 {
			break
		}
		s := items[0].(Scenario)
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			r.runOne(ctx, s)
		}); err != nil {
			wg.Done()
			return fmt.Errorf("submit scenario %s: %w", s.Name, err)
		}
	}
	wg.Wait()
	return nil
}

func (r *Runner) runOne(ctx context.Context, s Scenario) Result {
	ctx, span := r.tracer.Start(ctx, "scenario/"+s.Name)
	defer span.End()

	r.log.Infof("========== START %s ==========", s.Name)
	start := time.Now()
	err := s.Run(ctx)
	elapsed := time.Since(start)
	r.durations.Record(ctx, elapsed.Seconds())

	res := Result{Name: s.Name, Duration: elapsed}
	switch {
	case err == nil:
		res.State = StatePassed
	case errors.Is(err, ErrSkipped) && !r.cfg.Strict:
		res.State = StateSkipped
		res.Err = err
		r.log.Warnf("%s skipped: %v", s.Name, err)
	default:
		res.State = StateFailed
		res.Err = err
		span.RecordError(err)
		r.log.Errorf("%s failed: %v", s.Name, err)
	}
	r.log.Infof("========== END %s (%s, %s) ==========", s.Name, res.State, elapsed.Round(time.Microsecond))

	r.metrics.observe(res)
	r.results.Set(s.Name, res)
	return res
}

func (r *Runner) skipRemaining(pending *queue.Queue, cause string) {
	for !pending.Empty() {
		items, err := pending.Get(1)
		if err != nil || len(items) == 0 {
			return
		}
		s := items[0].(Scenario)
		res := Result{
			Name:  s.Name,
			State: StateSkipped,
			Err:   Skipf("not run, fail-fast after %s", cause),
		}
		// Strict demotes skips to failures in runOne; unrun scenarios get
		// the same treatment.
		if r.cfg.Strict {
			res.State = StateFailed
		}
		r.metrics.observe(res)
		r.results.Set(s.Name, res)
	}
}

func (r *Runner) summary() *Summary {
	sum := &Summary{}
	for _, s := range r.scenarios {
		res, ok := r.results.Get(s.Name)
		if !ok {
			continue
		}
		sum.Results = append(sum.Results, res)
		switch res.State {
		case StatePassed:
			sum.Passed++
		case StateFailed:
			sum.Failed++
		case StateSkipped:
			sum.Skipped++
		}
	}
	return sum
}
