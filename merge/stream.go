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
	"github.com/glutenproject/velox/container/nulls"
	"github.com/glutenproject/velox/container/vector"
	"github.com/glutenproject/velox/vm"
)

// stream is a cursor over one merge source: the current batch, the current
// row, a selection bitmap of output slots this source has produced, and
// cached key-column pointers. Grounded line-for-line on
// velox/exec/Merge.cpp's SourceStream (lines 224-302).
type stream struct {
	index int // this stream's position in the operator's arena; the
	// tournament's tie-break compares leaf indices, not this field.

	source Source
	keys   SortKeys

	currentBatch *batch.Batch
	currentRow   int
	// firstSourceRow is the index of the first row in currentBatch that
	// has already been selected for output but not yet copied out.
	firstSourceRow int
	outputSelection *nulls.Bitmap

	keyColumns []*vector.Vector

	needData bool
	atEnd    bool
}

func newStream(index int, source Source, keys SortKeys) *stream {
	return &stream{
		index:           index,
		source:          source,
		keys:            keys,
		outputSelection: nulls.New(),
	}
}

// inTournament reports the invariant from spec.md 3: a stream is in the
// tournament iff it is not at end, has a current batch, and currentRow is
// within it.
func (s *stream) inTournament() bool {
	return !s.atEnd && s.currentBatch != nil && s.currentRow < s.currentBatch.RowCount()
}

// less returns true iff s's current row is strictly smaller than other's
// current row under the sort key list, left-to-right, short-circuiting on
// the first non-zero column compare. Equal rows return false in both
// directions (spec.md 4.1); Merge.cpp:224-241.
func (s *stream) less(other *stream) bool {
	for i, k := range s.keys {
		c := s.keyColumns[i].Compare(other.keyColumns[i], s.currentRow, other.currentRow, k.Flags)
		if c != 0 {
			return c < 0
		}
	}
	return false
}

// pop advances currentRow by one; if that runs off the end of the current
// batch, fetches the next one. Returns true iff the advance blocked on the
// producer. Pre-condition: when the advance runs off the end of the batch,
// outputSelection must be empty (copyToOutput has flushed all prior
// selections), preventing cross-batch mixing of column data;
// Merge.cpp:243-252.
func (s *stream) pop(futures *[]vm.Future) bool {
	s.currentRow++
	if s.currentRow == s.currentBatch.RowCount() {
		return s.fetchMoreData(futures)
	}
	return false
}

// setOutputRow marks slot as produced by this stream in the output batch
// under construction. Returns true iff currentRow is the last row of
// currentBatch, meaning the caller must flush via copyToOutput before the
// batch reference can be replaced by fetchMoreData. Merge.cpp:191,254-277.
func (s *stream) setOutputRow(slot int) bool {
	s.outputSelection.Add(uint64(slot))
	return s.currentRow == s.currentBatch.RowCount()-1
}

// copyToOutput materializes every selected slot into output by column-wise
// copy from a dense, consecutive run of source rows starting at
// firstSourceRow (the rows this stream contributed are always contiguous
// between flushes, since pop only ever advances by one). Clears the
// selection bitmap afterward. Merge.cpp:254-277.
func (s *stream) copyToOutput(output *batch.Batch) {
	if s.outputSelection.IsEmpty() {
		return
	}

	sourceRow := s.firstSourceRow
	slots := s.outputSelection.ToSlice()
	for _, slot := range slots {
		for i := range output.Vecs {
			output.Vecs[i].Copy(s.currentBatch.Vecs[i], int(slot), sourceRow)
		}
		sourceRow++
	}
	s.outputSelection.Clear()

	if sourceRow == s.currentBatch.RowCount() {
		s.firstSourceRow = 0
	} else {
		s.firstSourceRow = sourceRow
	}
}

// fetchMoreData requests the next batch from the source. On block, records
// the future and returns true. On success, rebuilds key-column pointers,
// resets currentRow to 0, and sets atEnd iff the batch is nil or empty.
// Merge.cpp:279-302.
func (s *stream) fetchMoreData(futures *[]vm.Future) bool {
	bat, future, result := s.source.Next()
	switch result {
	case Blocked:
		s.needData = true
		*futures = append(*futures, future)
		return true
	case End:
		s.atEnd = true
		s.needData = false
		s.currentBatch = nil
		return false
	default: // Ready
		s.currentBatch = bat
		s.needData = false
		s.currentRow = 0
		s.firstSourceRow = 0
		s.atEnd = bat == nil || bat.RowCount() == 0
		if !s.atEnd {
			s.keyColumns = make([]*vector.Vector, len(s.keys))
			for i, k := range s.keys {
				s.keyColumns[i] = bat.Vecs[k.ColumnOrdinal]
			}
		}
		return false
	}
}
