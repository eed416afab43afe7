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

package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	old := level
	defer SetLevel(old)

	var buf bytes.Buffer
	l := New("test", &buf)

	SetLevel(LevelWarn)
	l.Infof("hidden %d", 1)
	assert.Equal(t, 0, buf.Len())

	l.Warnf("visible %d", 2)
	assert.Contains(t, buf.String(), "visible 2")
	assert.Contains(t, buf.String(), "Warn")
}

func TestPrefixCarriesName(t *testing.T) {
	old := level
	defer SetLevel(old)
	SetLevel(LevelTrace)

	var buf bytes.Buffer
	l := New("mmap-suite", &buf)
	l.Errorf("boom")
	out := buf.String()
	assert.Contains(t, out, "mmap-suite")
	assert.Contains(t, out, "logger_test.go")
}

func TestNilWriterFallsBackToStdout(t *testing.T) {
	l := New("x", nil)
	assert.NotNil(t, l.out)
}
