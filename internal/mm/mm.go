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

// Package mm wraps the mmap family of syscalls the diagnostic suites drive:
// anonymous, file-backed and fixed-address mappings across regular and
// hugetlb page sizes.
package mm

import "errors"

// PageSize is a mapping granularity the suites exercise.
type PageSize int64

const (
	Page4K PageSize = 4 << 10
	Page2M PageSize = 2 << 20
	Page1G PageSize = 1 << 30
)

// Sizes lists every page size in exercise order.
var Sizes = []PageSize{Page4K, Page2M, Page1G}

func (p PageSize) String() string {
	switch p {
	case Page4K:
		return "4KB"
	case Page2M:
		return "2MB"
	case Page1G:
		return "1GB"
	}
	return "unknown"
}

// Huge reports whether the size needs a hugetlb pool.
func (p PageSize) Huge() bool { return p != Page4K }

// ErrUnsupported marks mappings the running kernel or host configuration
// refused; callers decide whether that is tolerated.
var ErrUnsupported = errors.New("mapping unsupported on this host")
