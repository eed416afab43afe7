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

package mm

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func (p PageSize) hugeFlags() int {
	switch p {
	case Page2M:
		return unix.MAP_HUGETLB | unix.MAP_HUGE_2MB
	case Page1G:
		return unix.MAP_HUGETLB | unix.MAP_HUGE_1GB
	}
	return 0
}

// MapAnon establishes a private anonymous read-write mapping of one page of
// the given size. With populate set the kernel faults the pages in eagerly
// (MAP_POPULATE) instead of on first touch.
func MapAnon(size PageSize, populate bool) ([]byte, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | size.hugeFlags()
	if populate {
		flags |= unix.MAP_POPULATE
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous %s (populate=%v): %w", size, populate, err)
	}
	return mem, nil
}

// MapFile maps length bytes of f as a shared read-write mapping. A hugetlb
// page size is passed through; regular filesystems reject it and the caller
// decides whether that is tolerated.
func MapFile(f *os.File, length int, size PageSize) ([]byte, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|size.hugeFlags())
	if err != nil {
		return nil, fmt.Errorf("mmap file %s %s: %w", f.Name(), size, err)
	}
	return mem, nil
}

// MapFixed requests a private anonymous mapping at exactly addr. It uses
// MAP_FIXED_NOREPLACE rather than MAP_FIXED: silently unmapping whatever the
// runtime already placed there is not survivable, so an occupied address
// reports an error instead.
func MapFixed(addr uintptr, size PageSize) ([]byte, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_FIXED_NOREPLACE | size.hugeFlags()
	r0, _, errno := unix.Syscall6(unix.SYS_MMAP,
		addr, uintptr(size),
		uintptr(unix.PROT_READ|unix.PROT_WRITE), uintptr(flags),
		^uintptr(0), 0)
	if errno != 0 {
		return nil, fmt.Errorf("mmap fixed %s at 0x%x: %w", size, addr, errno)
	}
	if r0 != addr {
		// Pre-4.17 kernels ignore MAP_FIXED_NOREPLACE and may place the
		// mapping elsewhere. Undo and report it as unsupported.
		_ = unmapRaw(r0, uintptr(size))
		return nil, fmt.Errorf("mmap fixed %s: kernel placed mapping at 0x%x instead of 0x%x: %w",
			size, r0, addr, ErrUnsupported)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(r0)), int(size)), nil
}

// Unmap removes a mapping obtained from MapAnon or MapFile.
func Unmap(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap %d bytes: %w", len(mem), err)
	}
	return nil
}

// UnmapFixed removes a mapping obtained from MapFixed. Mappings made through
// the raw mmap syscall are unknown to unix.Mmap's bookkeeping, so
// unix.Munmap refuses them with EINVAL; tear them down through the raw
// syscall as well.
func UnmapFixed(mem []byte) error {
	if err := unmapRaw(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem))); err != nil {
		return fmt.Errorf("munmap fixed %d bytes: %w", len(mem), err)
	}
	return nil
}

func unmapRaw(addr, length uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0); errno != 0 {
		return errno
	}
	return nil
}

// Msync flushes a shared file mapping back to its file.
func Msync(mem []byte) error {
	if err := unix.Msync(mem, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %d bytes: %w", len(mem), err)
	}
	return nil
}
