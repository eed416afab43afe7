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

// Package shmcheck validates System V shared memory across two processes:
// attach-count bookkeeping reported by shmctl(IPC_STAT), data visibility
// between parent and child, and segment removal.
//
// The child half is the same binary re-executed with ChildEnv set; Go has
// no bare fork, so re-exec takes the place of the original fork/wait pair.
package shmcheck

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/memdiag/internal/logging"
	"github.com/srediag/memdiag/internal/sysv"
	"github.com/srediag/memdiag/pkg/diag"
)

// ChildEnv carries the segment id to the re-executed child half.
const ChildEnv = "MEMDIAG_SHM_CHILD"

const (
	words   = 10000
	checked = 10
	keyProj = 'A'

	// flagWord sits just past the checked payload; the child raises it once
	// attached so the parent can take its mid-flight attach-count reading.
	flagWord = checked
)

var log = logging.New("shm-suite", nil)

// Scenario returns the SysV shm suite entry.
func Scenario() diag.Scenario {
	return diag.Scenario{Name: "shm/fork-visibility", Run: run}
}

func run(ctx context.Context) error {
	key, err := sysv.Ftok(os.TempDir(), keyProj)
	if err != nil {
		return err
	}
	seg, err := sysv.Create(key, words*4)
	if err != nil {
		return err
	}
	log.Infof("segment id=%d key=%#x created", seg.ID(), key)

	removed := false
	defer func() {
		_ = seg.Detach()
		if !removed {
			_ = seg.Remove()
		}
	}()

	desc, err := seg.Stat()
	if err != nil {
		return err
	}
	if int(uint32(desc.Perm.Key)) != key {
		return fmt.Errorf("segment key: got %#x, want %#x", desc.Perm.Key, key)
	}
	if desc.Cpid != int32(os.Getpid()) {
		return fmt.Errorf("creator pid: got %d, want %d", desc.Cpid, os.Getpid())
	}
	if desc.Nattch != 0 {
		return fmt.Errorf("attach count after create: got %d, want 0", desc.Nattch)
	}
	if desc.Segsz != words*4 {
		return fmt.Errorf("segment size: got %d, want %d", desc.Segsz, words*4)
	}

	if err := seg.Attach(); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.CommandContext(ctx, exe)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", ChildEnv, seg.ID()))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start child: %w", err)
	}

	// Wait until the child signals it has attached, then take the
	// mid-flight reading. The child may already have detached again by the
	// time we stat, so both 1 and 2 are acceptable here.
	w := seg.Words()
	bo := backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(10 * time.Second))
	if err := backoff.Retry(func() error {
		if atomic.LoadInt32(&w[flagWord]) == 0 {
			return fmt.Errorf("child has not attached yet")
		}
		return nil
	}, backoff.WithContext(bo, ctx)); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("await child attach: %w", err)
	}
	if desc, err = seg.Stat(); err != nil {
		return err
	}
	if desc.Nattch != 1 && desc.Nattch != 2 {
		return fmt.Errorf("attach count with child running: got %d, want 1 or 2", desc.Nattch)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("child half: %w", err)
	}

	if desc, err = seg.Stat(); err != nil {
		return err
	}
	if desc.Nattch != 1 {
		return fmt.Errorf("attach count after child exit: got %d, want 1", desc.Nattch)
	}

	for i := 0; i < checked; i++ {
		if got, want := w[i], int32(i*i); got != want {
			return fmt.Errorf("word %d written by child: got %d, want %d", i, got, want)
		}
	}
	log.Infof("child payload visible, %d words verified", checked)

	if err := seg.Detach(); err != nil {
		return err
	}
	if desc, err = seg.Stat(); err != nil {
		return err
	}
	if desc.Nattch != 0 {
		return fmt.Errorf("attach count after detach: got %d, want 0", desc.Nattch)
	}

	if err := seg.Remove(); err != nil {
		return err
	}
	removed = true
	log.Infof("segment id=%d removed", seg.ID())
	return nil
}
