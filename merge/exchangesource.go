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
	"sync"

	"github.com/glutenproject/velox/config"
	"github.com/glutenproject/velox/container/batch"
	"github.com/glutenproject/velox/mpool"
	"github.com/glutenproject/velox/vm"
)

// RemoteFetcher fetches serialized pages from one remote task, the
// transport-level collaborator the exchange source pulls from (spec.md 1
// keeps the wire format itself out of scope). Fetch blocks the calling
// goroutine until a page is available, an error occurs, or the remote
// stream ends (nil, nil).
type RemoteFetcher interface {
	Fetch(ctx context.Context) (*batch.Batch, error)
}

// RawPageFetcher is a lower-level RemoteFetcher for transports that hand
// back the page still in its wire-compressed form. BatchDecoder turns the
// decompressed bytes into a batch; the encoding itself stays a caller
// concern, same as RemoteFetcher's.
type RawPageFetcher interface {
	FetchRaw(ctx context.Context) ([]byte, error)
}

// BatchDecoder turns a decompressed page's bytes into a batch.
type BatchDecoder func([]byte) (*batch.Batch, error)

// compressedFetcher adapts a RawPageFetcher into a RemoteFetcher by running
// every page through DecompressPage, with the kind given to
// NewCompressedRemoteFetcher, before handing it to decode.
type compressedFetcher struct {
	raw    RawPageFetcher
	kind   config.ShuffleCompressionKind
	decode BatchDecoder
}

// NewCompressedRemoteFetcher wraps raw in a RemoteFetcher that decompresses
// each page per kind before decoding it with decode.
func NewCompressedRemoteFetcher(raw RawPageFetcher, kind config.ShuffleCompressionKind, decode BatchDecoder) RemoteFetcher {
	return &compressedFetcher{raw: raw, kind: kind, decode: decode}
}

func (f *compressedFetcher) Fetch(ctx context.Context) (*batch.Batch, error) {
	page, err := f.raw.FetchRaw(ctx)
	if err != nil || page == nil {
		return nil, err
	}
	plain, err := DecompressPage(f.kind, page)
	if err != nil {
		return nil, err
	}
	return f.decode(plain)
}

// ExchangeSource fetches pages from a remote task id, spec.md 4.2. It
// records the per-source queued-bytes budget that the installing
// MergeExchangeArg computed with ClampBufferSize and reports it through
// MaxQueuedBytes; Next holds at most one fetched page at a time and does
// not check page sizes against that budget.
type ExchangeSource struct {
	ctx           context.Context
	remoteTaskID  string
	fetcher       RemoteFetcher
	maxQueuedByte int64
	pool          *mpool.Pool

	mu            sync.Mutex
	started       bool
	closed        bool
	fetchInFlight bool
	fetchFuture   vm.Future
	pendingReady  bool
	pendingBatch  *batch.Batch
	pendingErr    error
}

// NewExchangeSource constructs a source reading from remoteTaskID through
// fetcher with the given queued-bytes budget. pool is stored with the
// source; no fetched bytes are charged to it.
func NewExchangeSource(ctx context.Context, remoteTaskID string, fetcher RemoteFetcher, maxQueuedByte int64, pool *mpool.Pool) *ExchangeSource {
	return &ExchangeSource{
		ctx:           ctx,
		remoteTaskID:  remoteTaskID,
		fetcher:       fetcher,
		maxQueuedByte: maxQueuedByte,
		pool:          pool,
	}
}

// RemoteTaskID returns the id of the remote task this source reads from.
func (s *ExchangeSource) RemoteTaskID() string { return s.remoteTaskID }

// MaxQueuedBytes returns this source's clamped queued-bytes budget.
func (s *ExchangeSource) MaxQueuedBytes() int64 { return s.maxQueuedByte }

func (s *ExchangeSource) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

func (s *ExchangeSource) Next() (*batch.Batch, vm.Future, NextResult) {
	s.mu.Lock()

	if s.pendingReady {
		b := s.pendingBatch
		err := s.pendingErr
		s.pendingReady = false
		s.pendingBatch = nil
		s.pendingErr = nil
		s.mu.Unlock()
		if err != nil || b == nil {
			return nil, nil, End
		}
		return b, nil, Ready
	}

	if s.fetchInFlight {
		future := s.fetchFuture
		s.mu.Unlock()
		return nil, future, Blocked
	}

	if s.closed {
		s.mu.Unlock()
		return nil, nil, End
	}

	future, resolve := vm.NewFuture()
	s.fetchInFlight = true
	s.fetchFuture = future
	ctx := s.ctx
	fetcher := s.fetcher
	s.mu.Unlock()

	go func() {
		b, err := fetcher.Fetch(ctx)
		s.mu.Lock()
		s.pendingBatch = b
		s.pendingErr = err
		s.pendingReady = true
		s.fetchInFlight = false
		s.mu.Unlock()
		resolve()
	}()

	return nil, future, Blocked
}

func (s *ExchangeSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
