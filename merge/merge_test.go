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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glutenproject/velox/container/batch"
	"github.com/glutenproject/velox/container/types"
	"github.com/glutenproject/velox/container/vector"
	"github.com/glutenproject/velox/process"
	"github.com/glutenproject/velox/vm"
)

// intBatch builds a single-column int64 batch named "c", the shape every
// merge scenario in spec.md 8 uses.
func intBatch(vals ...int64) *batch.Batch {
	v := vector.New(types.T_int64)
	for _, x := range vals {
		v.AppendInt64(x)
	}
	return batch.New([]string{"c"}, []*vector.Vector{v})
}

// ascKeys is the single ascending, nulls-last sort key every test below
// merges on (column ordinal 0).
func ascKeys(t *testing.T) SortKeys {
	t.Helper()
	keys, err := NewSortKeys([]SortKey{{
		ColumnOrdinal: 0,
		Flags:         types.CompareFlags{Ascending: true},
	}})
	require.NoError(t, err)
	return keys
}

// newTestProcess wires a process with one MergeReceiver channel per
// source, pre-filled with that source's batches and then closed.
func newTestProcess(sourceBatches [][]*batch.Batch) *process.Process {
	proc := process.New(context.Background(), "q1", nil)
	for _, bs := range sourceBatches {
		ch := make(chan *batch.Batch, len(bs)+1)
		for _, b := range bs {
			ch <- b
		}
		close(ch)
		proc.Reg.MergeReceivers = append(proc.Reg.MergeReceivers, &process.WaitRegister{Ch: ch})
	}
	return proc
}

// drainAllRows repeatedly calls Call until the operator finishes,
// collecting every emitted int64 value from column 0 in order, and the
// batch row-count sequence (to check the "size <= B" boundary).
func drainAllRows(t *testing.T, op *LocalMergeArg) (rows []int64, batchSizes []int) {
	t.Helper()
	for i := 0; i < 10_000; i++ {
		res, err := op.Call()
		require.NoError(t, err)
		if res.Batch != nil {
			n := res.Batch.RowCount()
			batchSizes = append(batchSizes, n)
			vals := res.Batch.Vecs[0]
			for r := 0; r < n; r++ {
				rows = append(rows, vals.Int64At(r))
			}
		}
		if res.Status == vm.ExecStop {
			return rows, batchSizes
		}
		if res.Blocked != nil {
			<-res.Blocked
		}
	}
	t.Fatal("merge operator did not finish within bound")
	return nil, nil
}
