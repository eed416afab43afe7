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

// Package sysv wraps System V shared memory segments (shmget, shmat, shmdt,
// shmctl) for the cross-process diagnostic suite.
package sysv

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"github.com/srediag/memdiag/internal/logging"
)

const (
	createMode = 0o666
	devShmPath = "/dev/shm"
)

// ErrNoSpace reports that the host has no room for the requested segment.
var ErrNoSpace = errors.New("insufficient shared memory space")

// Segment is one SysV shared memory segment. The zero value is not usable;
// obtain one through Create or Open.
type Segment struct {
	id   int
	key  int
	data []byte
}

// Create allocates a new segment for key with IPC_CREAT|IPC_EXCL. A stale
// segment left behind by a crashed earlier run is removed and creation
// retried with a short backoff.
func Create(key, size int) (*Segment, error) {
	if !canAllocate(uint64(size)) {
		return nil, fmt.Errorf("%w: need %d bytes", ErrNoSpace, size)
	}
	var id int
	op := func() error {
		var err error
		id, err = unix.SysvShmGet(key, size, unix.IPC_CREAT|unix.IPC_EXCL|createMode)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EEXIST) {
			// Reap only truly stale segments: one with attachments belongs
			// to a live process and must not be destroyed under it.
			if old, gerr := unix.SysvShmGet(key, 0, 0); gerr == nil {
				var desc unix.SysvShmDesc
				if _, serr := unix.SysvShmCtl(old, unix.IPC_STAT, &desc); serr == nil && desc.Nattch == 0 {
					logging.Default().Warnf("removing stale segment id=%d key=%#x", old, key)
					_, _ = unix.SysvShmCtl(old, unix.IPC_RMID, nil)
				}
			}
			return fmt.Errorf("segment for key %#x exists: %w", key, err)
		}
		return backoff.Permanent(fmt.Errorf("shmget key %#x size %d: %w", key, size, err))
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 5)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return &Segment{id: id, key: key}, nil
}

// Open wraps an existing segment id, typically received from a parent
// process.
func Open(id int) *Segment {
	return &Segment{id: id}
}

// ID returns the kernel segment id.
func (s *Segment) ID() int { return s.id }

// Attach maps the segment into this process at a kernel-chosen address.
func (s *Segment) Attach() error {
	data, err := unix.SysvShmAttach(s.id, 0, 0)
	if err != nil {
		return fmt.Errorf("shmat id %d: %w", s.id, err)
	}
	s.data = data
	return nil
}

// Detach unmaps the segment from this process.
func (s *Segment) Detach() error {
	if s.data == nil {
		return nil
	}
	if err := unix.SysvShmDetach(s.data); err != nil {
		return fmt.Errorf("shmdt id %d: %w", s.id, err)
	}
	s.data = nil
	return nil
}

// Bytes returns the attached memory.
func (s *Segment) Bytes() []byte { return s.data }

// Words views the attached memory as int32s, the unit the diagnostic
// payload is written in.
func (s *Segment) Words() []int32 {
	if len(s.data) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&s.data[0])), len(s.data)/4)
}

// Stat returns the kernel's bookkeeping for the segment (IPC_STAT).
func (s *Segment) Stat() (*unix.SysvShmDesc, error) {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(s.id, unix.IPC_STAT, &desc); err != nil {
		return nil, fmt.Errorf("shmctl IPC_STAT id %d: %w", s.id, err)
	}
	return &desc, nil
}

// Remove marks the segment for destruction (IPC_RMID).
func (s *Segment) Remove() error {
	if _, err := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("shmctl IPC_RMID id %d: %w", s.id, err)
	}
	return nil
}

// canAllocate guards segment creation with the free space of /dev/shm. SysV
// segments draw from the kernel's shm accounting, which on common
// configurations tracks the same tmpfs sizing, so this is a cheap heuristic
// rather than a hard limit.
func canAllocate(need uint64) bool {
	stat, err := disk.Usage(devShmPath)
	if err != nil {
		return true
	}
	return stat.Free >= need
}
