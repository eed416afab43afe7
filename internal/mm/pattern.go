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

package mm

import "fmt"

// patternWindow bounds how much of a region the read/write check touches.
// Touching a full 1GB page would be pure wall-clock cost without telling us
// anything more about the mapping.
const patternWindow = 1024

// Exercise writes a byte pattern into the front of the region and reads it
// back. It is the per-mapping correctness check every scenario runs after a
// successful map.
func Exercise(mem []byte) error {
	n := len(mem)
	if n > patternWindow {
		n = patternWindow
	}
	for i := 0; i < n; i++ {
		mem[i] = byte(i % 256)
	}
	for i := 0; i < n; i++ {
		if mem[i] != byte(i%256) {
			return fmt.Errorf("pattern mismatch at offset %d: got %#x, want %#x", i, mem[i], byte(i%256))
		}
	}
	return nil
}
