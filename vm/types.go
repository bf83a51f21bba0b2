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

// Package vm defines the host/operator contract (spec.md 6), the way
// pkg/vm/types.go defines matrixone's Operator interface.
package vm

import (
	"github.com/glutenproject/velox/container/batch"
)

// BlockingReason classifies why isBlocked returned a non-ready future,
// spec.md 6.
type BlockingReason int

const (
	NotBlocked BlockingReason = iota
	WaitForProducer
	WaitForConsumer
	WaitForSplit
	WaitForMemory
)

func (r BlockingReason) String() string {
	switch r {
	case NotBlocked:
		return "not-blocked"
	case WaitForProducer:
		return "wait-for-producer"
	case WaitForConsumer:
		return "wait-for-consumer"
	case WaitForSplit:
		return "wait-for-split"
	case WaitForMemory:
		return "wait-for-memory"
	default:
		return "unknown"
	}
}

// Future is an opaque handle the host can wait on; the operator never
// polls it (spec.md 9, "Futures/blocking").
type Future = <-chan struct{}

// NewFuture returns a future and the function that resolves it.
func NewFuture() (Future, func()) {
	ch := make(chan struct{})
	var once bool
	resolve := func() {
		if !once {
			once = true
			close(ch)
		}
	}
	return ch, resolve
}

// ExecStatus is the secondary status a Call returns alongside a batch,
// matching matrixone's Operator.Call(proc) (CallResult, error) shape.
type ExecStatus int

const (
	ExecNext ExecStatus = iota
	ExecHasMore
	ExecStop
)

// CallResult carries one Call invocation's output batch and status.
type CallResult struct {
	Status  ExecStatus
	Batch   *batch.Batch
	Reason  BlockingReason
	Blocked Future
}

// OperatorInfo carries identity fields common to every operator instance.
type OperatorInfo struct {
	OperatorID int32
	ParallelID int32
	IsFirst    bool
	IsLast     bool
}

// OperatorBase is embedded by every concrete operator, mirroring
// pkg/vm/types.go's OperatorBase.
type OperatorBase struct {
	OperatorInfo
	Children []Operator
}

func (o *OperatorBase) SetInfo(info *OperatorInfo) { o.OperatorInfo = *info }
func (o *OperatorBase) AppendChild(child Operator)  { o.Children = append(o.Children, child) }
func (o *OperatorBase) NumChildren() int            { return len(o.Children) }
func (o *OperatorBase) GetOperatorID() int32        { return o.OperatorID }

// Operator is the host/operator contract every concrete operator
// implements. Grounded verbatim on pkg/vm/types.go's Operator interface.
type Operator interface {
	// Prepare performs one-time setup for execution.
	Prepare() error
	// Call advances the operator one step: isBlocked -> getOutput in spec
	// terms, folded into one state-machine-driven call per spec.md 4.5.
	Call() (CallResult, error)
	// Reset clears reusable state between query executions, without
	// releasing the struct back to any pool.
	Reset(pipelineFailed bool, err error)
	// Free releases all memory the operator holds.
	Free(pipelineFailed bool, err error)
	// Release returns the operator struct to its pool, if any.
	Release()

	GetOperatorBase() *OperatorBase
}

// Reclaimable is the capability record an operator advertises to the
// arbitrator in place of class-hierarchy polymorphism (spec.md 9,
// "Polymorphism over operators").
type Reclaimable interface {
	// CanReclaim reports whether this operator can release memory when
	// asked; an operator that never allocates returns false.
	CanReclaim() bool
	// Reclaim attempts to free up to targetBytes of memory, recording
	// progress into stats. Called only while the operator's driver is
	// off-thread or inside a suspended section (spec.md 4.7).
	Reclaim(targetBytes int64, stats *ReclaimStats) error
}

// ReclaimStats accumulates bytes reclaimed across one reclaim() call,
// mirroring Velox's MemoryReclaimer::Stats threaded through
// FakeMemoryOperator::reclaim in SharedArbitratorTest.cpp.
type ReclaimStats struct {
	ReclaimedBytes int64
}
