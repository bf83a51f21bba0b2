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

// Package arbitrator implements the process-wide shared memory
// arbitrator: cross-query capacity accounting, local/global arbitration,
// and the victim-reclaim protocol of spec.md 4.7, grounded on
// velox/common/memory/SharedArbitrator as exercised by
// original_source/velox/common/memory/tests/SharedArbitratorTest.cpp.
package arbitrator

import (
	"sync"

	"github.com/glutenproject/velox/mpool"
	"github.com/glutenproject/velox/vm"
)

// TaskID names one task under a root pool's query; a root may own several
// tasks (one per pipeline fragment), each with its own set of drivers.
type TaskID = string

// Host stands in for Velox's Task/Driver pause machinery
// (SharedArbitratorTest.cpp's FakeMemoryOperator harness): the arbitrator
// never touches drivers directly, only through this capability record.
type Host interface {
	// RequestPause blocks until every driver of taskID is off-thread or
	// inside a suspended section, or returns an error if the task cannot
	// be paused (e.g. already torn down).
	RequestPause(taskID TaskID) error
	// Resume releases a task paused by RequestPause.
	Resume(taskID TaskID)
	// Reclaimers lists the reclaim-capable capability records for every
	// operator instance currently live under taskID.
	Reclaimers(taskID TaskID) []vm.Reclaimable
}

// Counters is the observable counter set from spec.md 4.7.
type Counters struct {
	LocalArbitrationCount     int64
	GlobalArbitrationWaitCount int64
	ReclaimedUsedBytes        int64
	NumRequests               int64
	NumAborted                int64
	FreeCapacityBytes         int64
	MaxCapacityBytes          int64
}

// Root is one query's root pool as tracked by the arbitrator: its memory
// pool, the tasks running under it (for pause/reclaim addressing), and
// per-round pause bookkeeping.
type Root struct {
	ID   string
	Pool *mpool.Pool

	mu               sync.Mutex
	taskIDs          []TaskID
	pausedOnce       map[TaskID]bool
	underArbitration bool
}

// UnderArbitration reports whether this root currently has a global
// arbitration round in flight on its behalf. A query that completes
// successfully must observe this false at task teardown (spec.md 8).
func (r *Root) UnderArbitration() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.underArbitration
}

func (r *Root) setUnderArbitration(v bool) {
	r.mu.Lock()
	r.underArbitration = v
	r.mu.Unlock()
}

// AddTask registers one task as running under this root.
func (r *Root) AddTask(taskID TaskID) {
	r.mu.Lock()
	r.taskIDs = append(r.taskIDs, taskID)
	r.mu.Unlock()
}

func (r *Root) tasks() []TaskID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskID, len(r.taskIDs))
	copy(out, r.taskIDs)
	return out
}

func (r *Root) resetPauseRound() {
	r.mu.Lock()
	r.pausedOnce = make(map[TaskID]bool)
	r.mu.Unlock()
}

// markPaused records that taskID was paused this round, returning false
// if it was already paused (the "at most once per round" invariant from
// spec.md 4.7 step 2).
func (r *Root) markPaused(taskID TaskID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pausedOnce[taskID] {
		return false
	}
	r.pausedOnce[taskID] = true
	return true
}
