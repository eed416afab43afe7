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
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	runs      *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memdiag",
			Name:      "scenario_runs_total",
			Help:      "Scenario executions by outcome.",
		}, []string{"scenario", "state"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memdiag",
			Name:      "scenario_duration_seconds",
			Help:      "Wall-clock duration of scenario executions.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"scenario"}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.durations} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) observe(res Result) {
	m.runs.WithLabelValues(res.Name, res.State.String()).Inc()
	m.durations.WithLabelValues(res.Name).Observe(res.Duration.Seconds())
}
