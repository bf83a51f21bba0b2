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
	"sync"

	"github.com/glutenproject/velox/container/batch"
	"github.com/glutenproject/velox/vm"
)

// LocalQueueSource is a bounded-queue source fed by a sibling pipeline
// inside the same process, grounded on
// pkg/sql/colexec/receiver_operator.go's Reg.MergeReceivers[i].Ch channel
// of batches.
type LocalQueueSource struct {
	ch chan *batch.Batch

	mu           sync.Mutex
	started      bool
	closed       bool
	recvInFlight bool
	recvFuture   vm.Future
	pendingReady bool
	pendingBatch *batch.Batch
	pendingOK    bool
}

// NewLocalQueueSource wraps ch as a merge Source. The producer side writes
// batches to ch and closes it when done; nil batches are treated the same
// as a closed channel (end of stream).
func NewLocalQueueSource(ch chan *batch.Batch) *LocalQueueSource {
	return &LocalQueueSource{ch: ch}
}

func (s *LocalQueueSource) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

func (s *LocalQueueSource) Next() (*batch.Batch, vm.Future, NextResult) {
	s.mu.Lock()

	if s.pendingReady {
		b := s.pendingBatch
		ok := s.pendingOK
		s.pendingReady = false
		s.pendingBatch = nil
		s.mu.Unlock()
		if !ok || b == nil {
			return nil, nil, End
		}
		return b, nil, Ready
	}

	if s.recvInFlight {
		future := s.recvFuture
		s.mu.Unlock()
		return nil, future, Blocked
	}

	if s.closed {
		s.mu.Unlock()
		return nil, nil, End
	}

	select {
	case b, ok := <-s.ch:
		s.mu.Unlock()
		if !ok || b == nil {
			return nil, nil, End
		}
		return b, nil, Ready
	default:
	}

	future, resolve := vm.NewFuture()
	s.recvInFlight = true
	s.recvFuture = future
	ch := s.ch
	s.mu.Unlock()

	go func() {
		b, ok := <-ch
		s.mu.Lock()
		s.pendingBatch = b
		s.pendingOK = ok
		s.pendingReady = true
		s.recvInFlight = false
		s.mu.Unlock()
		resolve()
	}()

	return nil, future, Blocked
}

func (s *LocalQueueSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
