// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merge

import (
	"github.com/glutenproject/velox/container/batch"
	"github.com/glutenproject/velox/vm"
)

// NextResult is the three-valued outcome of Source.Next, spec.md 4.2.
type NextResult int

const (
	// Ready means batch is valid and the stream may keep consuming; a nil
	// or empty Ready batch is treated by the stream as end of input.
	Ready NextResult = iota
	// Blocked means the source has no batch yet; a future was returned
	// that completes when one becomes available or the source ends.
	Blocked
	// End means the source is permanently drained.
	End
)

// Source is the pull-model producer of ordered row batches from one
// upstream, spec.md 4.2. Implementations must be safe to Close before
// Start.
type Source interface {
	// Start is idempotent and signals the source it may begin producing.
	Start()
	// Next attempts to fetch the next batch without blocking the caller's
	// goroutine; see NextResult for the three possible outcomes.
	Next() (bat *batch.Batch, future vm.Future, result NextResult)
	// Close releases producer resources.
	Close()
}

// Buffer-budget clamp bounds used by exchange sources, spec.md 4.2 and
// Merge.cpp:374-381 (kMaxQueuedBytesLowerLimit/UpperLimit).
const (
	MaxQueuedBytesLowerLimit int64 = 1 << 20  // 1MiB
	MaxQueuedBytesUpperLimit int64 = 32 << 20 // 32MiB
)

// ClampBufferSize computes the per-source queued-bytes budget:
// clamp(maxMergeExchangeBufferSize / numSources, lower, upper), spec.md 4.2.
func ClampBufferSize(maxMergeExchangeBufferSize int64, numSources int, lower, upper int64) int64 {
	if numSources <= 0 {
		numSources = 1
	}
	perSource := maxMergeExchangeBufferSize / int64(numSources)
	if perSource < lower {
		perSource = lower
	}
	if perSource > upper {
		perSource = upper
	}
	return perSource
}
