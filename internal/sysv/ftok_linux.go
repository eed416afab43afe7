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

package sysv

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Ftok derives a SysV IPC key from a path and project id the way glibc's
// ftok(3) does: low 16 bits of the inode, low 8 bits of the device, low 8
// bits of the project id.
func Ftok(path string, proj byte) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("ftok stat %s: %w", path, err)
	}
	key := uint32(st.Ino)&0xffff | (uint32(st.Dev)&0xff)<<16 | (uint32(proj)&0xff)<<24
	return int(key), nil
}
