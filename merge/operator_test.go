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
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glutenproject/velox/container/batch"
	"github.com/glutenproject/velox/process"
	"github.com/glutenproject/velox/vm"
)

// Scenario 1 (spec.md 8): three-way integer merge, batch size 4.
// A=[1,4,7], B=[2,5,8], C=[3,6,9] -> [1,2,3,4],[5,6,7,8],[9].
func TestLocalMerge_ThreeWay(t *testing.T) {
	proc := newTestProcess([][]*batch.Batch{
		{intBatch(1, 4, 7)},
		{intBatch(2, 5, 8)},
		{intBatch(3, 6, 9)},
	})
	op := NewLocalMergeArg(ascKeys(t))
	op.OutputBatchRows = 4
	op.SetProcess(proc)
	require.NoError(t, op.Prepare())

	rows, batchSizes := drainAllRows(t, op)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, rows)
	require.Equal(t, []int{4, 4, 1}, batchSizes)
}

// Scenario 2 (spec.md 8): duplicate keys. A=[1,1,2], B=[1,3] -> [1,1,1,2,3].
func TestLocalMerge_DuplicateKeys(t *testing.T) {
	proc := newTestProcess([][]*batch.Batch{
		{intBatch(1, 1, 2)},
		{intBatch(1, 3)},
	})
	op := NewLocalMergeArg(ascKeys(t))
	op.SetProcess(proc)
	require.NoError(t, op.Prepare())

	rows, _ := drainAllRows(t, op)
	require.Equal(t, []int64{1, 1, 1, 2, 3}, rows)
	require.True(t, sort.SliceIsSorted(rows, func(i, j int) bool { return rows[i] < rows[j] }))
}

// Scenario 3 (spec.md 8): single-source passthrough. A single source
// emitting [[10,20],[30]] must produce exactly that, batch-for-batch, with
// no tournament ever constructed.
func TestLocalMerge_SingleSourcePassthrough(t *testing.T) {
	proc := newTestProcess([][]*batch.Batch{
		{intBatch(10, 20), intBatch(30)},
	})
	op := NewLocalMergeArg(ascKeys(t))
	op.SetProcess(proc)
	require.NoError(t, op.Prepare())

	var batchSizes []int
	for i := 0; i < 10; i++ {
		res, err := op.Call()
		require.NoError(t, err)
		if res.Batch != nil {
			batchSizes = append(batchSizes, res.Batch.RowCount())
		}
		if res.Status == vm.ExecStop {
			break
		}
		if res.Blocked != nil {
			<-res.Blocked
		}
	}
	require.Equal(t, []int{2, 1}, batchSizes)
	require.True(t, op.ctr.passthrough, "single-source merge must take the passthrough path")
	require.Nil(t, op.ctr.tree, "passthrough must never construct a tournament tree")
}

// Boundary (spec.md 8): zero inputs finish immediately with no output.
func TestLocalMerge_ZeroInputs(t *testing.T) {
	proc := newTestProcess([][]*batch.Batch{
		{},
	})
	op := NewLocalMergeArg(ascKeys(t))
	op.SetProcess(proc)
	require.NoError(t, op.Prepare())

	rows, batchSizes := drainAllRows(t, op)
	require.Empty(t, rows)
	require.Empty(t, batchSizes)
}

// Boundary (spec.md 8): one of N inputs empty is ignored; output equals
// the merge of the remaining sources.
func TestLocalMerge_OneSourceEmpty(t *testing.T) {
	proc := newTestProcess([][]*batch.Batch{
		{intBatch(1, 4, 7)},
		{},
		{intBatch(2, 5, 8)},
	})
	op := NewLocalMergeArg(ascKeys(t))
	op.SetProcess(proc)
	require.NoError(t, op.Prepare())

	rows, _ := drainAllRows(t, op)
	require.Equal(t, []int64{1, 2, 4, 5, 7, 8}, rows)
}

// Boundary (spec.md 8): every source delivers its first batch
// asynchronously; the operator must block, resume, and still produce
// correct output.
func TestLocalMerge_AsyncFirstBatch(t *testing.T) {
	proc := newTestProcess([][]*batch.Batch{{}, {}, {}})
	chans := make([]chan *batch.Batch, len(proc.Reg.MergeReceivers))
	for i := range proc.Reg.MergeReceivers {
		ch := make(chan *batch.Batch)
		proc.Reg.MergeReceivers[i] = &process.WaitRegister{Ch: ch}
		chans[i] = ch
	}

	op := NewLocalMergeArg(ascKeys(t))
	op.SetProcess(proc)
	require.NoError(t, op.Prepare())

	inputs := [][]int64{{1, 4, 7}, {2, 5, 8}, {3, 6, 9}}
	go func() {
		for i, ch := range chans {
			ch <- intBatch(inputs[i]...)
			close(ch)
		}
	}()

	rows, _ := drainAllRows(t, op)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, rows)
}

// gatedSource delivers batches in order, withholding the one at gateIndex
// until gate is closed. Unlike an unbuffered channel, this makes "the
// fetch genuinely blocks" deterministic instead of a race against
// goroutine scheduling.
type gatedSource struct {
	mu        sync.Mutex
	batches   []*batch.Batch
	i         int
	gateIndex int
	gate      chan struct{}
}

func newGatedSource(batches []*batch.Batch, gateIndex int, gate chan struct{}) *gatedSource {
	return &gatedSource{batches: batches, gateIndex: gateIndex, gate: gate}
}

func (s *gatedSource) Start() {}
func (s *gatedSource) Close() {}

func (s *gatedSource) Next() (*batch.Batch, vm.Future, NextResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.i >= len(s.batches) {
		return nil, nil, End
	}
	if s.i == s.gateIndex {
		select {
		case <-s.gate:
		default:
			future, resolve := vm.NewFuture()
			gate := s.gate
			go func() {
				<-gate
				resolve()
			}()
			return nil, future, Blocked
		}
	}
	b := s.batches[s.i]
	s.i++
	return b, nil, Ready
}

// fixedSources is a sourceInstaller that hands back a fixed list, letting a
// test drive a container directly instead of through LocalMergeArg's
// receiver-channel-only installSources.
type fixedSources struct{ sources []Source }

func (f fixedSources) installSources(proc *process.Process) ([]Source, error) {
	return f.sources, nil
}

// Regression: a stream that blocks on a mid-tournament fetch (any fetch
// after its first batch) must still be retried and rejoin the tournament.
// produceRound's loop only calls fetchMoreData through a tournament winner's
// pop, and tree.update(winner) had permanently excluded the blocked stream
// from winning again, so its remaining rows were silently dropped and the
// operator busy-spun with zero progress once every stream reached this
// state.
func TestLocalMerge_MidTournamentBlock(t *testing.T) {
	gate := make(chan struct{})
	sources := []Source{
		newGatedSource([]*batch.Batch{intBatch(1), intBatch(4)}, 1, gate),
		newGatedSource([]*batch.Batch{intBatch(2), intBatch(5)}, 1, gate),
		newGatedSource([]*batch.Batch{intBatch(3), intBatch(6)}, 1, gate),
	}

	ctr := &container{keys: ascKeys(t)}
	installer := fixedSources{sources: sources}

	res, err := runMerge(ctr, installer)
	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	require.Equal(t, []int64{1}, batchInt64s(res.Batch))
	require.NotNil(t, res.Blocked, "the winning stream's second fetch must report Blocked, not stall forever")

	close(gate)
	<-res.Blocked

	res, err = runMerge(ctr, installer)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 4, 5, 6}, batchInt64s(res.Batch))
	require.Equal(t, vm.ExecNext, res.Status)
}

func batchInt64s(b *batch.Batch) []int64 {
	vals := make([]int64, b.RowCount())
	for i := range vals {
		vals[i] = b.Vecs[0].Int64At(i)
	}
	return vals
}
