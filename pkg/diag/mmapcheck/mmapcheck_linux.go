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

// Package mmapcheck exercises mmap/munmap across page sizes (4KB, 2MB and
// 1GB hugetlb) under six allocation strategies: individual, batched,
// interleaved, eager vs. lazy, file-backed and fixed-address.
package mmapcheck

import (
	"context"
	"fmt"
	"os"

	"github.com/srediag/memdiag/internal/logging"
	"github.com/srediag/memdiag/internal/mm"
	"github.com/srediag/memdiag/internal/sysinfo"
	"github.com/srediag/memdiag/pkg/diag"
)

// Fixed-address hints, taken verbatim from the original linear-mapping
// layout: 4KB at the base, 2MB and 1GB at disjoint offsets above it.
const (
	fixedBase       = uintptr(0x08000000)
	fixedOffset2M   = 0x1000000
	fixedOffset1G   = 0x20000000
	fileBackedBytes = 4096
)

type suite struct {
	probe *sysinfo.Probe
	log   *logging.Logger
}

// Scenarios returns the mmap suite in its canonical order.
func Scenarios(probe *sysinfo.Probe) []diag.Scenario {
	s := &suite{probe: probe, log: logging.New("mmap-suite", nil)}
	return []diag.Scenario{
		{Name: "mmap/individual", Run: s.individual},
		{Name: "mmap/batch", Run: s.batch},
		{Name: "mmap/interleaved", Run: s.interleaved},
		{Name: "mmap/eager-lazy", Run: s.eagerLazy},
		{Name: "mmap/file-backed", Run: s.fileBacked},
		{Name: "mmap/fixed-address", Run: s.fixedAddress},
	}
}

// sizes splits the exercise order into page sizes the host can back right
// now and those it cannot.
func (s *suite) sizes() (avail, missing []mm.PageSize) {
	for _, ps := range mm.Sizes {
		if s.probe.Supports(ps) {
			avail = append(avail, ps)
		} else {
			missing = append(missing, ps)
		}
	}
	return avail, missing
}

func (s *suite) skipIfMissing(missing []mm.PageSize) error {
	if len(missing) == 0 {
		return nil
	}
	return diag.Skipf("no free hugetlb pages for %v", missing)
}

// individual allocates, exercises and frees one page of each size in turn.
func (s *suite) individual(ctx context.Context) error {
	avail, missing := s.sizes()
	for _, ps := range avail {
		if err := ctx.Err(); err != nil {
			return err
		}
		mem, err := mm.MapAnon(ps, false)
		if err != nil {
			return err
		}
		s.log.Infof("%s page allocated at %p", ps, &mem[0])
		if err := mm.Exercise(mem); err != nil {
			_ = mm.Unmap(mem)
			return fmt.Errorf("%s rw check: %w", ps, err)
		}
		if err := mm.Unmap(mem); err != nil {
			return err
		}
		s.log.Infof("%s page freed", ps)
	}
	return s.skipIfMissing(missing)
}

// batch allocates every size first, then exercises all of them, then frees
// all of them, so the mappings coexist.
func (s *suite) batch(ctx context.Context) error {
	avail, missing := s.sizes()
	mapped := make([][]byte, 0, len(avail))
	defer func() {
		for _, mem := range mapped {
			_ = mm.Unmap(mem)
		}
	}()
	for _, ps := range avail {
		mem, err := mm.MapAnon(ps, false)
		if err != nil {
			return err
		}
		mapped = append(mapped, mem)
		s.log.Infof("batch allocated %s page at %p", ps, &mem[0])
	}
	for i, mem := range mapped {
		if err := mm.Exercise(mem); err != nil {
			return fmt.Errorf("%s batch rw check: %w", avail[i], err)
		}
	}
	for i, mem := range mapped {
		if err := mm.Unmap(mem); err != nil {
			return err
		}
		s.log.Infof("batch freed %s page", avail[i])
	}
	mapped = nil
	return s.skipIfMissing(missing)
}

// interleaved overlaps mapping lifetimes: 4KB and 2MB live together, the
// 4KB page dies before the 1GB page is born, and the hugetlb pages outlive
// it. Meaningful only when every size is available.
func (s *suite) interleaved(ctx context.Context) error {
	if _, missing := s.sizes(); len(missing) > 0 {
		return diag.Skipf("interleaving needs all page sizes, missing %v", missing)
	}
	mem4k, err := mm.MapAnon(mm.Page4K, false)
	if err != nil {
		return err
	}
	s.log.Infof("interleaved: allocated 4KB page")
	if err := mm.Exercise(mem4k); err != nil {
		_ = mm.Unmap(mem4k)
		return fmt.Errorf("4KB interleaved rw check: %w", err)
	}

	mem2m, err := mm.MapAnon(mm.Page2M, false)
	if err != nil {
		_ = mm.Unmap(mem4k)
		return err
	}
	s.log.Infof("interleaved: allocated 2MB page")
	if err := mm.Exercise(mem2m); err != nil {
		_ = mm.Unmap(mem4k)
		_ = mm.Unmap(mem2m)
		return fmt.Errorf("2MB interleaved rw check: %w", err)
	}

	if err := mm.Unmap(mem4k); err != nil {
		_ = mm.Unmap(mem2m)
		return err
	}
	s.log.Infof("interleaved: freed 4KB page")

	mem1g, err := mm.MapAnon(mm.Page1G, false)
	if err != nil {
		_ = mm.Unmap(mem2m)
		return err
	}
	s.log.Infof("interleaved: allocated 1GB page")
	if err := mm.Exercise(mem1g); err != nil {
		_ = mm.Unmap(mem2m)
		_ = mm.Unmap(mem1g)
		return fmt.Errorf("1GB interleaved rw check: %w", err)
	}

	if err := mm.Unmap(mem2m); err != nil {
		_ = mm.Unmap(mem1g)
		return err
	}
	s.log.Infof("interleaved: freed 2MB page")
	if err := mm.Unmap(mem1g); err != nil {
		return err
	}
	s.log.Infof("interleaved: freed 1GB page")
	return nil
}

// eagerLazy compares MAP_POPULATE against demand paging for each size.
func (s *suite) eagerLazy(ctx context.Context) error {
	avail, missing := s.sizes()
	for _, ps := range avail {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, populate := range []bool{true, false} {
			mode := "lazy"
			if populate {
				mode = "eager"
			}
			mem, err := mm.MapAnon(ps, populate)
			if err != nil {
				return err
			}
			s.log.Infof("%s %s allocation completed", ps, mode)
			if err := mm.Exercise(mem); err != nil {
				_ = mm.Unmap(mem)
				return fmt.Errorf("%s %s rw check: %w", ps, mode, err)
			}
			if err := mm.Unmap(mem); err != nil {
				return err
			}
		}
	}
	return s.skipIfMissing(missing)
}

// fileBacked maps a temp file MAP_SHARED at 4KB, syncs it back, then grows
// the file and attempts a 2MB hugetlb file mapping. Regular filesystems
// refuse hugetlb mappings, so that step is tolerated either way.
func (s *suite) fileBacked(ctx context.Context) error {
	f, err := os.CreateTemp("", "memdiag-filemap-*")
	if err != nil {
		return fmt.Errorf("create backing file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	seed := make([]byte, fileBackedBytes)
	for i := range seed {
		seed[i] = 'A'
	}
	if _, err := f.Write(seed); err != nil {
		return fmt.Errorf("seed backing file: %w", err)
	}

	mem, err := mm.MapFile(f, fileBackedBytes, mm.Page4K)
	if err != nil {
		return err
	}
	s.log.Infof("4KB file mapping at %p", &mem[0])
	if err := mm.Exercise(mem); err != nil {
		_ = mm.Unmap(mem)
		return fmt.Errorf("4KB file rw check: %w", err)
	}
	if err := mm.Msync(mem); err != nil {
		_ = mm.Unmap(mem)
		return err
	}
	if err := mm.Unmap(mem); err != nil {
		return err
	}

	if err := f.Truncate(int64(mm.Page2M)); err != nil {
		return fmt.Errorf("extend backing file: %w", err)
	}
	if mem, err := mm.MapFile(f, int(mm.Page2M), mm.Page2M); err != nil {
		s.log.Warnf("2MB file mapping refused, tolerated: %v", err)
	} else {
		s.log.Infof("2MB file mapping at %p", &mem[0])
		if err := mm.Exercise(mem); err != nil {
			_ = mm.Unmap(mem)
			return fmt.Errorf("2MB file rw check: %w", err)
		}
		if err := mm.Unmap(mem); err != nil {
			return err
		}
	}
	return nil
}

// fixedAddress asks for mappings at explicit address hints. A refused hint
// is tolerated the way the original tolerates its linear-mapping failures;
// the scenario is a skip only when nothing was granted.
func (s *suite) fixedAddress(ctx context.Context) error {
	steps := []struct {
		addr uintptr
		ps   mm.PageSize
	}{
		{fixedBase, mm.Page4K},
		{fixedBase + fixedOffset2M, mm.Page2M},
		{fixedBase + fixedOffset1G, mm.Page1G},
	}
	granted := 0
	for _, st := range steps {
		if st.ps.Huge() && !s.probe.Supports(st.ps) {
			s.log.Warnf("%s fixed mapping skipped, no hugetlb pages", st.ps)
			continue
		}
		mem, err := mm.MapFixed(st.addr, st.ps)
		if err != nil {
			s.log.Warnf("%s fixed mapping at 0x%x refused, tolerated: %v", st.ps, st.addr, err)
			continue
		}
		s.log.Infof("%s fixed mapping at %p", st.ps, &mem[0])
		if err := mm.Exercise(mem); err != nil {
			_ = mm.UnmapFixed(mem)
			return fmt.Errorf("%s fixed rw check: %w", st.ps, err)
		}
		if err := mm.UnmapFixed(mem); err != nil {
			return err
		}
		s.log.Infof("%s fixed mapping freed", st.ps)
		granted++
	}
	if granted == 0 {
		return diag.Skipf("kernel granted none of the fixed address hints")
	}
	return nil
}
