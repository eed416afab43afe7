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

// Package sysinfo probes the host for the memory capabilities the suites
// depend on, so hugetlb scenarios can be skipped instead of crashing on
// hosts without a reserved pool.
package sysinfo

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/srediag/memdiag/internal/mm"
)

// Probe is a snapshot of host memory state taken at startup.
type Probe struct {
	TotalMemory     uint64
	AvailableMemory uint64
	HugePagesTotal  uint64
	HugePagesFree   uint64
	HugePageSize    uint64

	// FreeByPageSize holds the free hugetlb page count per pool, read from
	// /sys/kernel/mm/hugepages. gopsutil only reports the default pool.
	FreeByPageSize map[mm.PageSize]uint64
}

// Collect gathers the probe.
func Collect() (*Probe, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("virtual memory stats: %w", err)
	}
	p := &Probe{
		TotalMemory:     vm.Total,
		AvailableMemory: vm.Available,
		HugePagesTotal:  vm.HugePagesTotal,
		HugePagesFree:   vm.HugePagesFree,
		HugePageSize:    vm.HugePageSize,
		FreeByPageSize:  make(map[mm.PageSize]uint64, 2),
	}
	for _, ps := range []mm.PageSize{mm.Page2M, mm.Page1G} {
		p.FreeByPageSize[ps] = freeHugePages(ps)
	}
	return p, nil
}

// Supports reports whether the host can back a mapping of the given page
// size right now.
func (p *Probe) Supports(ps mm.PageSize) bool {
	if !ps.Huge() {
		return true
	}
	return p.FreeByPageSize[ps] > 0
}

// Summary renders a one-line description for startup logging.
func (p *Probe) Summary() string {
	return fmt.Sprintf("mem total=%dMB available=%dMB hugepages default=%dkB total=%d free=%d free2M=%d free1G=%d",
		p.TotalMemory>>20, p.AvailableMemory>>20, p.HugePageSize>>10,
		p.HugePagesTotal, p.HugePagesFree,
		p.FreeByPageSize[mm.Page2M], p.FreeByPageSize[mm.Page1G])
}

func freeHugePages(ps mm.PageSize) uint64 {
	path := fmt.Sprintf("/sys/kernel/mm/hugepages/hugepages-%dkB/free_hugepages", int64(ps)>>10)
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
