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

package diag

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Summary is the aggregate of one suite run, in registration order.
type Summary struct {
	Results []Result
	Passed  int
	Failed  int
	Skipped int
}

// Ok reports whether the run had no failures.
func (s *Summary) Ok() bool { return s.Failed == 0 }

// Render writes the per-scenario report and a totals line.
func (s *Summary) Render(w io.Writer) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for _, res := range s.Results {
		_, _ = buf.WriteString(fmt.Sprintf("%-8s %-32s %12s",
			strings.ToUpper(res.State.String()), res.Name,
			res.Duration.Round(time.Microsecond)))
		if res.Err != nil {
			_, _ = buf.WriteString("  " + res.Err.Error())
		}
		_ = buf.WriteByte('\n')
	}
	_, _ = buf.WriteString(fmt.Sprintf("total: %d passed, %d failed, %d skipped\n",
		s.Passed, s.Failed, s.Skipped))

	if _, err := w.Write(buf.B); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
