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

// Package nulls implements the null/presence bitmap shared by vector and
// the merge operator's per-batch output selection, backed by a roaring
// bitmap so both sparse null masks and dense row selections stay cheap.
package nulls

import "github.com/RoaringBitmap/roaring/v2"

// Bitmap is a growable set of row positions.
type Bitmap struct {
	bm *roaring.Bitmap
}

// New returns an empty bitmap.
func New() *Bitmap {
	return &Bitmap{bm: roaring.New()}
}

// Add marks row as set.
func (b *Bitmap) Add(row uint64) {
	b.bm.Add(uint32(row))
}

// Remove clears row.
func (b *Bitmap) Remove(row uint64) {
	b.bm.Remove(uint32(row))
}

// Contains reports whether row is set.
func (b *Bitmap) Contains(row uint64) bool {
	return b.bm.Contains(uint32(row))
}

// IsEmpty reports whether no rows are set.
func (b *Bitmap) IsEmpty() bool {
	return b.bm.IsEmpty()
}

// Clear removes every row.
func (b *Bitmap) Clear() {
	b.bm.Clear()
}

// Len returns the number of set rows.
func (b *Bitmap) Len() int {
	return int(b.bm.GetCardinality())
}

// Range calls fn once per set row position, in ascending order.
func (b *Bitmap) Range(fn func(row uint64)) {
	it := b.bm.Iterator()
	for it.HasNext() {
		fn(uint64(it.Next()))
	}
}

// ToSlice returns every set row position, ascending.
func (b *Bitmap) ToSlice() []uint64 {
	out := make([]uint64, 0, b.Len())
	b.Range(func(row uint64) { out = append(out, row) })
	return out
}
