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

package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/memdiag/internal/mm"
)

func TestCollect(t *testing.T) {
	p, err := Collect()
	require.NoError(t, err)
	assert.Greater(t, p.TotalMemory, uint64(0))
	assert.Contains(t, p.FreeByPageSize, mm.Page2M)
	assert.Contains(t, p.FreeByPageSize, mm.Page1G)
}

func TestSupports(t *testing.T) {
	p := &Probe{FreeByPageSize: map[mm.PageSize]uint64{mm.Page2M: 4}}
	assert.True(t, p.Supports(mm.Page4K), "regular pages need no pool")
	assert.True(t, p.Supports(mm.Page2M))
	assert.False(t, p.Supports(mm.Page1G))
}

func TestSummary(t *testing.T) {
	p, err := Collect()
	require.NoError(t, err)
	s := p.Summary()
	assert.Contains(t, s, "mem total=")
	assert.Contains(t, s, "free1G=")
}
