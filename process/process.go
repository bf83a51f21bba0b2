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

// Package process carries per-pipeline execution context: the driver host
// hands one *Process to every operator it drives. Grounded on
// pkg/vm/process/process.go (Mp()/GetMPool(), QueryId) and
// pkg/sql/colexec/receiver_operator.go's Reg.MergeReceivers channel idiom.
package process

import (
	"context"

	"github.com/google/uuid"

	"github.com/glutenproject/velox/container/batch"
	"github.com/glutenproject/velox/mpool"
)

// WaitRegister is one channel a merge receiver (local queue source) reads
// row batches from, mirroring process.WaitRegister.
type WaitRegister struct {
	Ch chan *batch.Batch
}

// Register holds per-pipeline channel plumbing.
type Register struct {
	MergeReceivers []*WaitRegister
}

// Limitation are the resource caps this process's operators must respect.
type Limitation struct {
	MaxBatchRows int
	MaxBatchSize int64
}

// Process is the per-pipeline execution context threaded through every
// operator call.
type Process struct {
	id  string
	Ctx context.Context
	Reg Register
	Lim Limitation
	mp  *mpool.Pool
}

// New returns a process bound to a query id, a leaf memory pool, and a
// cancellation context.
func New(ctx context.Context, id string, mp *mpool.Pool) *Process {
	return &Process{id: id, Ctx: ctx, mp: mp}
}

// NewWithGeneratedID is New with a fresh random query id, for callers that
// don't already have one assigned by a coordinator (e.g. an ad hoc local
// run, or tests that only need distinct ids).
func NewWithGeneratedID(ctx context.Context, mp *mpool.Pool) *Process {
	return New(ctx, uuid.NewString(), mp)
}

// QueryId returns the owning query's id.
func (p *Process) QueryId() string { return p.id }

// Mp returns the leaf memory pool this process allocates through.
func (p *Process) Mp() *mpool.Pool { return p.mp }

// GetMPool is an alias for Mp, matching the teacher's dual accessor names.
func (p *Process) GetMPool() *mpool.Pool { return p.mp }
