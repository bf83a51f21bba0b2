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
	"github.com/glutenproject/velox/fsnerr"
	"github.com/glutenproject/velox/process"
	"github.com/glutenproject/velox/vm"
)

// LocalMergeArg merges the already-sorted outputs of sibling pipelines
// inside one process into a single ordered stream, spec.md 4.2's local
// in-process merge, grounded on
// pkg/sql/colexec/merge/{types.go,merge.go}'s single-driver Argument.
type LocalMergeArg struct {
	vm.OperatorBase
	ctr container

	// Attrs, if set, names the output columns; otherwise the first
	// upstream batch's own attribute names are used.
	Attrs []string
	// Keys is the sort key list every upstream is already ordered by.
	Keys SortKeys
	// OutputBatchRows bounds rows per output batch; zero uses
	// defaultOutputCap.
	OutputBatchRows int
}

// NewLocalMergeArg returns an operator merging under keys the
// MergeReceivers of the process later bound through SetProcess.
func NewLocalMergeArg(keys SortKeys) *LocalMergeArg {
	return &LocalMergeArg{Keys: keys}
}

func (a *LocalMergeArg) Prepare() error {
	if len(a.Keys) == 0 {
		return fsnerr.NewInvariantViolation(nil, "local merge requires at least one sort key")
	}
	a.ctr = container{
		proc:      a.ctr.proc,
		keys:      a.Keys,
		attrs:     a.Attrs,
		outputCap: a.OutputBatchRows,
	}
	return nil
}

// Call requires proc to be supplied out of band via SetProcess before the
// first call, since vm.Operator.Call takes no arguments.
func (a *LocalMergeArg) Call() (vm.CallResult, error) {
	return runMerge(&a.ctr, a)
}

// SetProcess binds the process this operator runs under. Must be called
// once before Prepare.
func (a *LocalMergeArg) SetProcess(proc *process.Process) {
	a.ctr.proc = proc
}

func (a *LocalMergeArg) installSources(proc *process.Process) ([]Source, error) {
	if proc == nil || len(proc.Reg.MergeReceivers) == 0 {
		return nil, fsnerr.NewInvariantViolation(nil, "local merge requires at least one registered receiver")
	}
	sources := make([]Source, len(proc.Reg.MergeReceivers))
	for i, reg := range proc.Reg.MergeReceivers {
		sources[i] = NewLocalQueueSource(reg.Ch)
	}
	return sources, nil
}

func (a *LocalMergeArg) Reset(pipelineFailed bool, err error) {
	a.ctr.state = stateInit
	a.ctr.sources = nil
	a.ctr.streams = nil
	a.ctr.tree = nil
	a.ctr.output = nil
	a.ctr.pending = nil
	a.ctr.stats = OperatorStats{}
}

func (a *LocalMergeArg) Free(pipelineFailed bool, err error) {
	for _, s := range a.ctr.sources {
		s.Close()
	}
	a.ctr.sources = nil
	a.ctr.streams = nil
	a.ctr.output = nil
}

func (a *LocalMergeArg) Release() {}

func (a *LocalMergeArg) GetOperatorBase() *vm.OperatorBase { return &a.OperatorBase }

// Stats returns a snapshot of this operator's runtime counters.
func (a *LocalMergeArg) Stats() OperatorStats { return a.ctr.stats }
