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

// Package diag hosts the scenario runner shared by the mmap and SysV shm
// diagnostic suites: scenario registration, sequential or pooled execution,
// result bookkeeping, metrics and report rendering.
package diag

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Scenario is one named diagnostic sequence. Run returns nil when every
// check in the sequence held, ErrSkipped (wrapped) when the host cannot
// exercise it, any other error on a failed check.
type Scenario struct {
	Name string
	Run  func(ctx context.Context) error
}

// ErrSkipped marks a scenario the host could not exercise. It is a distinct
// outcome from failure unless the runner is strict.
var ErrSkipped = errors.New("scenario skipped")

// Skipf wraps ErrSkipped with a reason.
func Skipf(format string, a ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, a...), ErrSkipped)
}

// State is a scenario outcome.
type State int

const (
	StatePassed State = iota
	StateFailed
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	}
	return "unknown"
}

// Result records one scenario outcome.
type Result struct {
	Name     string
	State    State
	Err      error
	Duration time.Duration
}
