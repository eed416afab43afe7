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
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/srediag/memdiag/internal/sysv"
)

// ChildMain dispatches the child half when ChildEnv is set. It returns
// (exitCode, true) when this process is a child and should exit, and
// (0, false) for a normal run.
func ChildMain() (int, bool) {
	v := os.Getenv(ChildEnv)
	if v == "" {
		return 0, false
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		log.Errorf("bad %s value %q: %v", ChildEnv, v, err)
		return 1, true
	}
	if err := childRun(id); err != nil {
		log.Errorf("child half failed: %v", err)
		return 1, true
	}
	return 0, true
}

// childRun is the child half: attach to the parent's segment, verify both
// processes are attached, write the squares, detach and verify the parent
// remains the sole attachment. The parent attaches before spawning this
// process, so the attach count of 2 is deterministic from here.
func childRun(id int) error {
	seg := sysv.Open(id)
	if err := seg.Attach(); err != nil {
		return err
	}
	defer func() { _ = seg.Detach() }()

	desc, err := seg.Stat()
	if err != nil {
		return err
	}
	if desc.Nattch != 2 {
		return fmt.Errorf("attach count from child: got %d, want 2", desc.Nattch)
	}

	w := seg.Words()
	atomic.StoreInt32(&w[flagWord], 1)
	for i := 0; i < checked; i++ {
		w[i] = int32(i * i)
	}

	if err := seg.Detach(); err != nil {
		return err
	}
	if desc, err = seg.Stat(); err != nil {
		return err
	}
	if desc.Nattch != 1 {
		return fmt.Errorf("attach count after child detach: got %d, want 1", desc.Nattch)
	}
	return nil
}
