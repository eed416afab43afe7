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
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"
)

type RunnerTestSuite struct {
	suite.Suite
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (s *RunnerTestSuite) newRunner(cfg Config) *Runner {
	r, err := NewRunner(cfg)
	s.Require().NoError(err)
	return r
}

func (s *RunnerTestSuite) TestSequentialOrderAndOutcomes() {
	var order []string
	r := s.newRunner(Config{})
	r.Register(
		Scenario{Name: "a", Run: func(context.Context) error {
			order = append(order, "a")
			return nil
		}},
		Scenario{Name: "b", Run: func(context.Context) error {
			order = append(order, "b")
			return Skipf("no hugetlb pool")
		}},
		Scenario{Name: "c", Run: func(context.Context) error {
			order = append(order, "c")
			return errors.New("boom")
		}},
	)
	sum, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.Require().Equal([]string{"a", "b", "c"}, order)
	s.Equal(1, sum.Passed)
	s.Equal(1, sum.Skipped)
	s.Equal(1, sum.Failed)
	s.False(sum.Ok())
	s.Len(sum.Results, 3)
	s.Equal(StateSkipped, sum.Results[1].State)
}

func (s *RunnerTestSuite) TestFailFastSkipsRemaining() {
	ran := false
	r := s.newRunner(Config{FailFast: true})
	r.Register(
		Scenario{Name: "bad", Run: func(context.Context) error { return errors.New("boom") }},
		Scenario{Name: "after", Run: func(context.Context) error {
			ran = true
			return nil
		}},
	)
	sum, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.False(ran)
	s.Equal(1, sum.Failed)
	s.Equal(1, sum.Skipped)
	s.ErrorIs(sum.Results[1].Err, ErrSkipped)
}

func (s *RunnerTestSuite) TestStrictFailFastMarksRemainingFailed() {
	r := s.newRunner(Config{FailFast: true, Strict: true})
	r.Register(
		Scenario{Name: "bad", Run: func(context.Context) error { return errors.New("boom") }},
		Scenario{Name: "after", Run: func(context.Context) error { return nil }},
	)
	sum, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.Equal(2, sum.Failed)
	s.Equal(0, sum.Skipped)
	s.Equal(StateFailed, sum.Results[1].State)
}

func (s *RunnerTestSuite) TestStrictTurnsSkipIntoFailure() {
	r := s.newRunner(Config{Strict: true})
	r.Register(Scenario{Name: "skippy", Run: func(context.Context) error {
		return Skipf("host cannot")
	}})
	sum, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.Equal(1, sum.Failed)
	s.Equal(0, sum.Skipped)
}

func (s *RunnerTestSuite) TestPooledRunsEverything() {
	var count int64
	r := s.newRunner(Config{Parallel: 4})
	for i := 0; i < 8; i++ {
		name := string(rune('a' + i))
		r.Register(Scenario{Name: name, Run: func(context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}})
	}
	sum, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.EqualValues(8, atomic.LoadInt64(&count))
	s.Equal(8, sum.Passed)
	s.True(sum.Ok())
}

func (s *RunnerTestSuite) TestNoScenarios() {
	r := s.newRunner(Config{})
	_, err := r.Run(context.Background())
	s.Error(err)
}

func (s *RunnerTestSuite) TestMetricsObserved() {
	registry := prometheus.NewRegistry()
	r := s.newRunner(Config{Registry: registry})
	r.Register(
		Scenario{Name: "good", Run: func(context.Context) error { return nil }},
		Scenario{Name: "bad", Run: func(context.Context) error { return errors.New("boom") }},
	)
	_, err := r.Run(context.Background())
	s.Require().NoError(err)

	families, err := registry.Gather()
	s.Require().NoError(err)
	var runs *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "memdiag_scenario_runs_total" {
			runs = mf
		}
	}
	s.Require().NotNil(runs)
	total := 0.0
	for _, m := range runs.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	s.Equal(2.0, total)
}

func (s *RunnerTestSuite) TestRenderReport() {
	r := s.newRunner(Config{})
	r.Register(Scenario{Name: "mmap/individual", Run: func(context.Context) error { return nil }})
	sum, err := r.Run(context.Background())
	s.Require().NoError(err)

	var buf bytes.Buffer
	s.Require().NoError(sum.Render(&buf))
	out := buf.String()
	s.Contains(out, "PASSED")
	s.Contains(out, "mmap/individual")
	s.Contains(out, "total: 1 passed, 0 failed, 0 skipped")
}

func (s *RunnerTestSuite) TestSkipfWraps() {
	err := Skipf("missing %s", "pool")
	s.ErrorIs(err, ErrSkipped)
	s.Contains(err.Error(), "missing pool")
}
