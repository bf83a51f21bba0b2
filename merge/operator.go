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
	"github.com/glutenproject/velox/container/vector"
	"github.com/glutenproject/velox/vm"
)

// defaultOutputCap is the row budget of one merge output batch when the
// operator's OutputBatchRows is zero.
const defaultOutputCap = 8192

// combineFutures folds several blocking futures into one that resolves
// once every input future has resolved, the way this single-future
// Call/Blocked contract needs a round that waited on more than one
// source at once. Mirrors folly::collectAll's role in Velox's
// Merge::isBlocked, minus the per-future result values this contract
// doesn't need.
func combineFutures(futures []vm.Future) vm.Future {
	if len(futures) == 1 {
		return futures[0]
	}
	combined, resolve := vm.NewFuture()
	go func() {
		for _, f := range futures {
			<-f
		}
		resolve()
	}()
	return combined
}

// runMerge drives ctr through Init -> Running -> Finished, grounded on
// velox/exec/Merge.cpp's getOutput() loop (lines 142-163) and spec.md
// 4.5's single Call-driven state machine. installer supplies the concrete
// operator's Source list on first entry.
func runMerge(ctr *container, installer sourceInstaller) (vm.CallResult, error) {
	switch ctr.state {
	case stateInit:
		if err := initSources(ctr, installer); err != nil {
			ctr.state = stateFinished
			return vm.CallResult{Status: vm.ExecStop}, err
		}
		if blocked := fetchInitialBatches(ctr); blocked != nil {
			return vm.CallResult{Status: vm.ExecNext, Reason: vm.WaitForProducer, Blocked: blocked}, nil
		}
		if err := finishInit(ctr); err != nil {
			ctr.state = stateFinished
			return vm.CallResult{Status: vm.ExecStop}, err
		}
		ctr.state = stateRunning
		fallthrough

	case stateRunning:
		if ctr.passthrough {
			return producePassthroughRound(ctr)
		}
		return produceRound(ctr)

	default: // stateFinished
		return vm.CallResult{Status: vm.ExecStop}, nil
	}
}

func initSources(ctr *container, installer sourceInstaller) error {
	if ctr.sources != nil {
		return nil
	}
	sources, err := installer.installSources(ctr.proc)
	if err != nil {
		return err
	}
	ctr.sources = sources
	ctr.streams = make([]*stream, len(sources))
	for i, src := range sources {
		src.Start()
		ctr.streams[i] = newStream(i, src, ctr.keys)
	}
	return nil
}

// fetchInitialBatches pulls the first batch from every stream that hasn't
// produced one yet. Returns a non-nil combined future when one or more
// streams blocked; the caller must re-enter fetchInitialBatches on the
// next Call (each stream only re-fetches if it's still awaiting data).
func fetchInitialBatches(ctr *container) vm.Future {
	var futures []vm.Future
	for _, s := range ctr.streams {
		if s.currentBatch != nil || s.atEnd {
			continue
		}
		s.fetchMoreData(&futures)
	}
	if len(futures) == 0 {
		return nil
	}
	return combineFutures(futures)
}

// finishInit builds the tournament tree and allocates the reusable output
// batch from the schema of the first stream carrying data, matching the
// teacher's mergeorder.build lazily-allocated ctr.bat idiom. A single
// installed source skips the tournament entirely (spec.md 4.5's
// "degenerate single-source passthrough"): producePassthroughRound simply
// relays that stream's own batches.
func finishInit(ctr *container) error {
	if len(ctr.streams) == 1 {
		ctr.passthrough = true
		return nil
	}

	ctr.tree = newTournamentTree(ctr.streams)
	ctr.tree.build()

	var schema *batch.Batch
	for _, s := range ctr.streams {
		if s.currentBatch != nil {
			schema = s.currentBatch
			break
		}
	}
	if schema == nil {
		// every source ended empty; produce zero rows forever after.
		ctr.output = batch.New(nil, nil)
		return nil
	}

	attrs := ctr.attrs
	if len(attrs) == 0 {
		attrs = schema.Attrs
	}
	vecs := make([]*vector.Vector, len(schema.Vecs))
	for i, v := range schema.Vecs {
		vecs[i] = vector.New(v.Typ)
	}
	ctr.output = batch.New(attrs, vecs)

	rowCap := ctr.outputCap
	if rowCap <= 0 {
		rowCap = defaultOutputCap
	}
	ctr.outputCap = rowCap
	ctr.output.Resize(rowCap)
	return nil
}

// retryBlockedStreams re-attempts fetchMoreData for every stream that
// blocked on its producer during a previous round's pop (stream.go:pop ->
// fetchMoreData). tree.next()/tree.update only ever run the duels on a
// changed leaf's path; a stream that blocked got permanently excluded from
// winning by update(winner) right before produceRound returned, so nothing
// else ever retries it. This mirrors fetchInitialBatches's stateInit retry,
// re-admitting each resolved stream to the tournament via tree.update so
// duel (which reads inTournament() live) sees it again.
func retryBlockedStreams(ctr *container) vm.Future {
	var futures []vm.Future
	for i, s := range ctr.streams {
		if !s.needData {
			continue
		}
		if s.fetchMoreData(&futures) {
			continue
		}
		ctr.tree.update(i)
	}
	if len(futures) == 0 {
		return nil
	}
	return combineFutures(futures)
}

// produceRound builds one output batch by repeatedly popping the
// tournament's current winner, until the batch fills, every stream is
// exhausted, or a stream blocks (Merge.cpp:142-163). A blocked round
// flushes whatever rows were already selected before returning, the same
// partial-progress contract Merge.cpp's SourceStream::copyToOutput keeps
// across getOutput calls.
func produceRound(ctr *container) (vm.CallResult, error) {
	if blocked := retryBlockedStreams(ctr); blocked != nil {
		return vm.CallResult{Status: vm.ExecNext, Reason: vm.WaitForProducer, Blocked: blocked}, nil
	}

	rows := 0
	for rows < ctr.outputCap {
		winner := ctr.tree.next()
		if winner == noStream {
			break
		}

		s := ctr.streams[winner]
		mustFlush := s.setOutputRow(rows)
		rows++
		ctr.stats.InputRowCount++
		if mustFlush {
			// s's batch is about to be replaced by pop/fetchMoreData; flush
			// this stream's selection now so copyToOutput never mixes rows
			// from two different source batches (stream.go:pop precondition).
			s.copyToOutput(ctr.output)
		}

		var futures []vm.Future
		blocked := s.pop(&futures)
		ctr.tree.update(winner)

		if blocked {
			flushSelections(ctr)
			ctr.output.Resize(rows)
			out := ctr.output
			ctr.resetOutput()
			ctr.stats.OutputRowCount += int64(out.RowCount())
			ctr.stats.OutputBatchCount++
			ctr.stats.MergeRoundCount++
			return vm.CallResult{
				Status:  vm.ExecHasMore,
				Batch:   out,
				Reason:  vm.WaitForProducer,
				Blocked: combineFutures(futures),
			}, nil
		}
	}

	flushSelections(ctr)
	out := ctr.output
	out.Resize(rows)
	ctr.stats.OutputRowCount += int64(rows)
	ctr.stats.OutputBatchCount++
	ctr.stats.MergeRoundCount++

	status := vm.ExecHasMore
	if allStreamsDone(ctr) {
		status = vm.ExecNext
		out.SetEnd()
		ctr.state = stateFinished
	} else {
		ctr.resetOutput()
	}
	return vm.CallResult{Status: status, Batch: out}, nil
}

// producePassthroughRound relays the single installed stream's batches
// verbatim: no comparator call, no tournament, no column copy. Grounded on
// spec.md 4.5/8's single-source passthrough contract ("Single-source merge
// is a verbatim passthrough (no comparator calls)").
func producePassthroughRound(ctr *container) (vm.CallResult, error) {
	s := ctr.streams[0]

	if s.currentBatch == nil {
		if s.atEnd {
			ctr.state = stateFinished
			return vm.CallResult{Status: vm.ExecStop}, nil
		}
		var futures []vm.Future
		if s.fetchMoreData(&futures) {
			return vm.CallResult{Status: vm.ExecNext, Reason: vm.WaitForProducer, Blocked: combineFutures(futures)}, nil
		}
		return producePassthroughRound(ctr)
	}

	out := s.currentBatch
	rows := int64(out.RowCount())
	ctr.stats.InputRowCount += rows
	ctr.stats.OutputRowCount += rows
	ctr.stats.OutputBatchCount++
	ctr.stats.MergeRoundCount++

	var futures []vm.Future
	blocked := s.fetchMoreData(&futures)
	if blocked {
		return vm.CallResult{Status: vm.ExecHasMore, Batch: out, Reason: vm.WaitForProducer, Blocked: combineFutures(futures)}, nil
	}
	if s.atEnd {
		ctr.state = stateFinished
		out.SetEnd()
		return vm.CallResult{Status: vm.ExecNext, Batch: out}, nil
	}
	return vm.CallResult{Status: vm.ExecHasMore, Batch: out}, nil
}

func flushSelections(ctr *container) {
	for _, s := range ctr.streams {
		s.copyToOutput(ctr.output)
	}
}

func allStreamsDone(ctr *container) bool {
	for _, s := range ctr.streams {
		if s.inTournament() || s.needData {
			return false
		}
	}
	return true
}

// resetOutput swaps in a fresh output batch with the same schema and
// capacity as the one just emitted, so downstream consumers may retain
// the returned batch without it being mutated underfoot next round.
func (ctr *container) resetOutput() {
	vecs := make([]*vector.Vector, len(ctr.output.Vecs))
	for i, v := range ctr.output.Vecs {
		vecs[i] = vector.New(v.Typ)
	}
	ctr.output = batch.New(ctr.output.Attrs, vecs)
	ctr.output.Resize(ctr.outputCap)
}
