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

//go:build linux

package shmcheck

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain lets the test binary double as the re-executed child half: the
// scenario under test spawns os.Executable, which is this binary.
func TestMain(m *testing.M) {
	if code, isChild := ChildMain(); isChild {
		os.Exit(code)
	}
	os.Exit(m.Run())
}

func TestScenarioName(t *testing.T) {
	assert.Equal(t, "shm/fork-visibility", Scenario().Name)
}

func TestChildMainIgnoredWithoutEnv(t *testing.T) {
	require.NoError(t, os.Unsetenv(ChildEnv))
	code, isChild := ChildMain()
	assert.False(t, isChild)
	assert.Equal(t, 0, code)
}

func TestEndToEnd(t *testing.T) {
	require.NoError(t, run(context.Background()))
}

func TestChildRunBadSegment(t *testing.T) {
	assert.Error(t, childRun(-2))
}
