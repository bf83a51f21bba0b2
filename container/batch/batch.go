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

// Package batch implements the row batch: an ordered tuple of equal-length
// columns addressable by ordinal.
package batch

import (
	"fmt"
	"strings"

	"github.com/glutenproject/velox/container/vector"
)

// Batch is an ordered tuple of equal-length columns.
type Batch struct {
	Attrs []string
	Vecs  []*vector.Vector
	// Last marks the final batch of a stream, mirroring matrixone's
	// batch.End()/SetEnd() flag used by its merge-family operators.
	last bool
}

// New returns a batch over the given columns, attrs[i] naming vecs[i].
func New(attrs []string, vecs []*vector.Vector) *Batch {
	return &Batch{Attrs: attrs, Vecs: vecs}
}

// RowCount returns the number of rows, i.e. the length of any column (they
// are kept equal-length by construction).
func (b *Batch) RowCount() int {
	if len(b.Vecs) == 0 {
		return 0
	}
	return b.Vecs[0].Length()
}

// VectorCount returns the number of columns.
func (b *Batch) VectorCount() int {
	return len(b.Vecs)
}

// IsEmpty reports whether the batch carries zero rows.
func (b *Batch) IsEmpty() bool {
	return b == nil || b.RowCount() == 0
}

// SetEnd marks this batch as the final one a source will ever produce.
func (b *Batch) SetEnd() { b.last = true }

// End reports whether SetEnd was called on this batch.
func (b *Batch) End() bool { return b.last }

// Resize sets every column's length to n rows (see vector.Vector.Resize).
func (b *Batch) Resize(n int) {
	for _, v := range b.Vecs {
		v.Resize(n)
	}
}

// Reorder permutes Vecs (and Attrs) to match the given attribute order,
// mirroring matrixone's Batch.Reorder used by mergeorder to align columns
// from heterogeneous upstream batches before comparing them.
func (b *Batch) Reorder(attrs []string) {
	if len(attrs) == 0 {
		return
	}
	idx := make(map[string]int, len(b.Attrs))
	for i, a := range b.Attrs {
		idx[a] = i
	}
	newVecs := make([]*vector.Vector, 0, len(attrs))
	newAttrs := make([]string, 0, len(attrs))
	for _, a := range attrs {
		i, ok := idx[a]
		if !ok {
			continue
		}
		newVecs = append(newVecs, b.Vecs[i])
		newAttrs = append(newAttrs, a)
	}
	b.Vecs = newVecs
	b.Attrs = newAttrs
}

// Clean releases the batch's columns. The core never frees through an
// mpool directly here (allocation accounting lives in the mpool package);
// Clean exists so callers have one place to drop references, matching the
// teacher's Batch.Clean(mp) call sites even though this batch type is not
// itself mpool-backed.
func (b *Batch) Clean() {
	b.Vecs = nil
	b.Attrs = nil
}

func (b *Batch) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "batch{rows=%d, cols=%v}", b.RowCount(), b.Attrs)
	return sb.String()
}
