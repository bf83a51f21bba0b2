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
	"context"

	"github.com/glutenproject/velox/config"
	"github.com/glutenproject/velox/fsnerr"
	"github.com/glutenproject/velox/mpool"
	"github.com/glutenproject/velox/process"
	"github.com/glutenproject/velox/vm"
)

// RemoteTask names one remote task this exchange reads from, paired with
// the fetcher that pulls its pages across the wire.
type RemoteTask struct {
	TaskID  string
	Fetcher RemoteFetcher
}

// MergeExchangeArg merges already-sorted pages arriving from remote tasks,
// spec.md 4.2's distributed merge exchange, grounded on
// pkg/sql/colexec/mergeorder + receiver_operator.go's split-driven
// receiver installation, generalized from local channels to remote
// fetchers.
type MergeExchangeArg struct {
	vm.OperatorBase
	ctr container

	Attrs []string
	Keys  SortKeys
	// Tasks lists the remote sources to merge; installed lazily on first
	// Call so a late-arriving split plan can still append to it before
	// Prepare runs.
	Tasks []RemoteTask
	// MaxMergeExchangeBufferSize is the total queued-bytes budget shared
	// across every remote source, clamped per-source by ClampBufferSize.
	MaxMergeExchangeBufferSize int64
	// CompressionKind is recorded in OperatorStats.ShuffleCompression when
	// the sources are installed. It is not passed to the fetchers; a
	// compressed transport picks its codec in NewCompressedRemoteFetcher.
	CompressionKind config.ShuffleCompressionKind

	OutputBatchRows int
}

func NewMergeExchangeArg(keys SortKeys, tasks []RemoteTask) *MergeExchangeArg {
	return &MergeExchangeArg{Keys: keys, Tasks: tasks}
}

func (a *MergeExchangeArg) Prepare() error {
	if len(a.Keys) == 0 {
		return fsnerr.NewInvariantViolation(nil, "merge exchange requires at least one sort key")
	}
	if len(a.Tasks) == 0 {
		return fsnerr.NewInvariantViolation(nil, "merge exchange requires at least one remote task")
	}
	a.ctr = container{
		proc:      a.ctr.proc,
		keys:      a.Keys,
		attrs:     a.Attrs,
		outputCap: a.OutputBatchRows,
	}
	return nil
}

func (a *MergeExchangeArg) SetProcess(proc *process.Process) {
	a.ctr.proc = proc
}

func (a *MergeExchangeArg) Call() (vm.CallResult, error) {
	return runMerge(&a.ctr, a)
}

func (a *MergeExchangeArg) installSources(proc *process.Process) ([]Source, error) {
	budget := a.MaxMergeExchangeBufferSize
	if budget <= 0 {
		budget = 16 << 20
	}
	perSource := ClampBufferSize(budget, len(a.Tasks), MaxQueuedBytesLowerLimit, MaxQueuedBytesUpperLimit)

	var mp *mpool.Pool
	if proc != nil {
		mp = proc.Mp()
	}

	sources := make([]Source, len(a.Tasks))
	for i, t := range a.Tasks {
		pool := mp
		if pool != nil {
			pool = mp.NewChild(t.TaskID)
		}
		ctx := contextOrBackground(proc)
		sources[i] = NewExchangeSource(ctx, t.TaskID, t.Fetcher, perSource, pool)
	}
	a.ctr.stats.MaxQueuedByte = perSource
	a.ctr.stats.ShuffleCompression = string(a.CompressionKind)
	return sources, nil
}

func (a *MergeExchangeArg) Reset(pipelineFailed bool, err error) {
	a.ctr.state = stateInit
	a.ctr.sources = nil
	a.ctr.streams = nil
	a.ctr.tree = nil
	a.ctr.output = nil
	a.ctr.pending = nil
	a.ctr.stats = OperatorStats{}
}

func (a *MergeExchangeArg) Free(pipelineFailed bool, err error) {
	for _, s := range a.ctr.sources {
		s.Close()
	}
	a.ctr.sources = nil
	a.ctr.streams = nil
	a.ctr.output = nil
}

func (a *MergeExchangeArg) Release() {}

func (a *MergeExchangeArg) GetOperatorBase() *vm.OperatorBase { return &a.OperatorBase }

// Stats returns a snapshot of this operator's runtime counters, including
// the per-source queued-byte budget and the declared shuffle compression
// kind (spec.md 4.2's external interface for exchange telemetry).
func (a *MergeExchangeArg) Stats() OperatorStats { return a.ctr.stats }

func contextOrBackground(proc *process.Process) context.Context {
	if proc != nil && proc.Ctx != nil {
		return proc.Ctx
	}
	return context.Background()
}
