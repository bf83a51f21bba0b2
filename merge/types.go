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
	"github.com/glutenproject/velox/process"
	"github.com/glutenproject/velox/vm"
)

// OperatorStats carries a merge operator's runtime counters, read through
// the operator's Stats method, grounded on
// pkg/sql/colexec/merge/types.go's ctr.maxAllocSize plus
// receiver_operator.go's per-receiver byte counters.
type OperatorStats struct {
	InputRowCount      int64
	OutputRowCount     int64
	OutputBatchCount   int64
	MergeRoundCount    int64
	MaxQueuedByte      int64
	ShuffleCompression string
}

// sourceInstaller is implemented by the two concrete merge operators
// (LocalMergeArg, MergeExchangeArg) to build their Source list lazily on
// first Call, since the per-source budget depends on a live proc.
type sourceInstaller interface {
	installSources(proc *process.Process) ([]Source, error)
}

type mergeState int

const (
	stateInit mergeState = iota
	stateRunning
	stateFinished
)

// container holds the shared state machine fields used by both
// LocalMergeArg and MergeExchangeArg's Call implementations, grounded on
// pkg/sql/colexec/merge/types.go's container struct.
type container struct {
	proc *process.Process
	keys SortKeys

	sources []Source
	streams []*stream
	tree    *tournamentTree

	state     mergeState
	output    *batch.Batch
	attrs     []string
	outputCap int

	// passthrough is set in finishInit when exactly one source was
	// installed: the degenerate single-source case forwards the
	// upstream's own batches verbatim, without ever constructing a
	// tournament tree or invoking the comparator (spec.md 4.5, 8).
	passthrough bool

	pending []vm.Future
	stats   OperatorStats
}
