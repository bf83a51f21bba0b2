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

// Package mpool implements the hierarchical memory accounting tree:
// a root pool per query, intermediate pools per task/operator, leaf pools
// for individual allocations. See spec.md 4.6.
package mpool

import (
	"context"
	"sync"

	"github.com/glutenproject/velox/fsnerr"
)

const reserveRoundUnit = 1 << 20 // 1MiB, matches common query-engine grant granularity.

// roundUp rounds bytes up to the nearest multiple of unit.
func roundUp(bytes, unit int64) int64 {
	if bytes <= 0 {
		return 0
	}
	return ((bytes + unit - 1) / unit) * unit
}

// RoundUp rounds bytes up to the reservation granularity GrowTo/ShrinkTo
// use internally. The arbitrator calls this before deciding whether a
// grant fits in free capacity, so the amount it debits from freeCapacity
// always matches the amount GrowTo actually grants (spec.md 3's
// sum(root.capacity)+freeCapacity == totalCapacity must hold exactly, not
// just up to a rounding slip).
func RoundUp(bytes int64) int64 {
	return roundUp(bytes, reserveRoundUnit)
}

// GrowCallback is installed on a root pool to request additional capacity
// from whatever coordinates cross-query capacity (the arbitrator). It must
// return nil only if the root's capacity field has already been increased
// by at least bytesNeeded. It is called without the root's lock held, so it
// may call back into the root (Capacity, GrowTo).
type GrowCallback func(root *Pool, bytesNeeded int64) error

// Pool is one node of the accounting tree.
type Pool struct {
	name   string
	root   *Pool
	parent *Pool

	mu sync.Mutex

	// Root-only fields.
	capacity    int64
	reserved    int64
	maxCapacity int64
	growCB      GrowCallback
	aborted     bool
	abortReason string
	reclaiming  bool
	children    map[string]*Pool

	// Cooperative-pause bookkeeping (spec.md 5 "Suspension points"): the
	// arbitrator's global round must observe every active driver of a
	// victim root either off-thread or inside a suspended section before
	// reclaim proceeds.
	activeDrivers int64
	suspended     int64
	cond          *sync.Cond

	// Meaningful on every node: bytes this node (and, for a root, the
	// whole tree) currently has outstanding.
	used int64

	stats           Stats
	detailRecording bool
}

// NewRootPool creates a new root pool for a query, with the given hard
// ceiling (maxCapacity) and a callback used to request more capacity when
// local headroom runs out. growCB may be nil, meaning this root never grows
// past its initial capacity (useful in tests that don't exercise
// arbitration).
func NewRootPool(name string, maxCapacity int64, growCB GrowCallback) *Pool {
	p := &Pool{
		name:        name,
		maxCapacity: maxCapacity,
		growCB:      growCB,
		children:    make(map[string]*Pool),
	}
	p.root = p
	p.cond = sync.NewCond(&p.mu)
	register(p)
	return p
}

// NewChild creates a child accounting node (task/operator/leaf) under p.
func (p *Pool) NewChild(name string) *Pool {
	c := &Pool{
		name:   name,
		root:   p.root,
		parent: p,
	}
	p.mu.Lock()
	if p.children == nil {
		p.children = make(map[string]*Pool)
	}
	p.children[name] = c
	p.mu.Unlock()
	return c
}

// Name returns the pool's identity.
func (p *Pool) Name() string { return p.name }

// Root returns the root of p's tree (p itself if p is already a root).
func (p *Pool) Root() *Pool { return p.root }

// IsRoot reports whether p is its own root.
func (p *Pool) IsRoot() bool { return p.root == p }

// MaxCapacity returns the root's hard ceiling for this query.
func (p *Pool) MaxCapacity() int64 {
	r := p.root
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxCapacity
}

// Capacity returns the root's currently granted quota.
func (p *Pool) Capacity() int64 {
	r := p.root
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// Reserved returns the root's rounded-up grant.
func (p *Pool) Reserved() int64 {
	r := p.root
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserved
}

// CurrNB returns the bytes currently outstanding from this node
// (for a root, the whole tree's outstanding bytes).
func (p *Pool) CurrNB() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// EnableDetailRecording sets this pool's detail-recording flag. The
// NumAlloc/NumFree counters in Stats are kept whether or not it is set.
func (p *Pool) EnableDetailRecording() {
	p.mu.Lock()
	p.detailRecording = true
	p.mu.Unlock()
}

// Stats returns a snapshot of this pool's allocation counters.
func (p *Pool) Stats() *Stats {
	return &p.stats
}

// Alloc reserves size bytes against the root's capacity (growing it via
// growCB if needed) and returns a zeroed buffer of that length.
func (p *Pool) Alloc(size int64) ([]byte, error) {
	if err := p.reserve(size); err != nil {
		return nil, err
	}
	p.stats.NumAlloc.Add(1)
	return make([]byte, size), nil
}

// Realloc grows or shrinks buf to newSize, preserving its prefix, the way
// pkg/common/mpool's Realloc does (copy then zero-extend).
func (p *Pool) Realloc(buf []byte, newSize int64) ([]byte, error) {
	oldSize := int64(len(buf))
	if newSize == oldSize {
		return buf, nil
	}
	if newSize > oldSize {
		if err := p.reserve(newSize - oldSize); err != nil {
			return nil, err
		}
	} else {
		p.release(oldSize - newSize)
	}
	out := make([]byte, newSize)
	copy(out, buf)
	p.stats.NumAlloc.Add(1)
	return out, nil
}

// Free releases a buffer previously returned by Alloc/Realloc.
func (p *Pool) Free(buf []byte) {
	p.release(int64(len(buf)))
	p.stats.NumFree.Add(1)
}

// Reserve charges bytes against the root's usage without allocating any
// data (growing the root's grant via growCB only if usage would exceed it),
// for callers that need headroom ahead of a batch of small allocations.
func (p *Pool) Reserve(bytes int64) error {
	return p.reserve(bytes)
}

// ReleaseReserved gives back bytes previously obtained via Reserve without
// a matching Alloc.
func (p *Pool) ReleaseReserved(bytes int64) {
	p.release(bytes)
}

func (p *Pool) reserve(size int64) error {
	if size <= 0 {
		return nil
	}
	ctx := context.Background()
	root := p.root
	root.mu.Lock()
	defer root.mu.Unlock()

	if root.aborted {
		return fsnerr.NewMemoryAborted(ctx, root.name, root.abortReason)
	}

	if root.used+size > root.capacity {
		needed := root.used + size - root.capacity
		if root.growCB == nil {
			return fsnerr.NewCapacityExceeded(ctx, root.name, size, root.maxCapacity)
		}
		if root.reclaiming {
			// Forbid re-entrant grow: a reclaim path that itself
			// allocates gets a zero-sized local grant (spec.md 9 open
			// question, resolved in favor of no recursion).
			return fsnerr.NewCapacityExceeded(ctx, root.name, size, root.maxCapacity)
		}
		// growCB calls back into this root (Capacity, GrowTo), so the root
		// lock is dropped while it runs and the state re-checked after.
		root.mu.Unlock()
		err := root.growCB(root, needed)
		root.mu.Lock()
		if err != nil {
			return err
		}
		if root.aborted {
			return fsnerr.NewMemoryAborted(ctx, root.name, root.abortReason)
		}
		if root.used+size > root.capacity {
			return fsnerr.NewCapacityExceeded(ctx, root.name, size, root.maxCapacity)
		}
	}

	root.used += size
	if p != root {
		p.mu.Lock()
		p.used += size
		p.mu.Unlock()
	}
	if root.used > root.stats.HighWaterMark.Load() {
		root.stats.HighWaterMark.Store(root.used)
	}
	return nil
}

func (p *Pool) release(size int64) {
	if size <= 0 {
		return
	}
	root := p.root
	root.mu.Lock()
	root.used -= size
	if root.used < 0 {
		root.used = 0
	}
	root.mu.Unlock()
	if p != root {
		p.mu.Lock()
		p.used -= size
		if p.used < 0 {
			p.used = 0
		}
		p.mu.Unlock()
	}
}

// GrowTo sets the root's granted capacity to at least bytes, rounding up to
// the standard reservation unit, and records the rounded amount as
// Reserved. Callers are the arbitrator's local/global grant paths; it is
// invalid to call GrowTo on a non-root pool. Returns the actual capacity
// increase applied (0 if capacity already met or exceeded the request),
// since that rounded delta — not the caller's raw request — is what must
// be debited from the arbitrator's free pool to keep spec.md 3's
// sum(root.capacity)+freeCapacity == totalCapacity invariant exact.
func (p *Pool) GrowTo(capacity int64) int64 {
	root := p.root
	root.mu.Lock()
	defer root.mu.Unlock()
	rounded := roundUp(capacity, reserveRoundUnit)
	if rounded > root.capacity {
		delta := rounded - root.capacity
		root.capacity = rounded
		root.reserved = rounded
		return delta
	}
	return 0
}

// ShrinkTo lowers the root's granted capacity to the reservation-unit
// rounding of capacity (never below what's still used), used when the
// arbitrator reclaims freed headroom back to the free pool. Returns the
// capacity actually given up, which the caller credits back to the free
// pool — keeping capacity a reservation-unit multiple at all times is what
// lets GrowTo's rounding stay exact across repeated grow/shrink cycles.
func (p *Pool) ShrinkTo(capacity int64) int64 {
	root := p.root
	root.mu.Lock()
	defer root.mu.Unlock()
	if capacity < root.used {
		capacity = root.used
	}
	rounded := roundUp(capacity, reserveRoundUnit)
	if rounded >= root.capacity {
		return 0
	}
	freed := root.capacity - rounded
	root.capacity = rounded
	root.reserved = rounded
	return freed
}

// Abort marks the root (and therefore every descendant) as aborted; any
// allocation attempted afterwards fails with KindMemoryAborted. Matches
// spec.md 4.6 "aborted pools reject further allocations".
func (p *Pool) Abort(reason string) {
	root := p.root
	root.mu.Lock()
	root.aborted = true
	root.abortReason = reason
	root.mu.Unlock()
}

// AbortAndReclaim marks the root aborted and unconditionally returns its
// entire granted capacity, ignoring outstanding used bytes (unlike
// ShrinkTo, which never shrinks below used). Matches spec.md 4.7's
// "abort(root, reason): marks the root aborted and reclaims all of its
// capacity" — once aborted, the pool accepts no further allocations, so
// its remaining used bytes can only shrink as callers release them; the
// capacity grant itself is revoked immediately. Returns the freed bytes.
func (p *Pool) AbortAndReclaim(reason string) int64 {
	root := p.root
	root.mu.Lock()
	defer root.mu.Unlock()
	root.aborted = true
	root.abortReason = reason
	freed := root.capacity
	root.capacity = 0
	root.reserved = 0
	return freed
}

// Aborted reports whether this pool's tree has been aborted.
func (p *Pool) Aborted() bool {
	root := p.root
	root.mu.Lock()
	defer root.mu.Unlock()
	return root.aborted
}

// SetReclaiming marks whether a reclaim pass against this root is in
// flight, guarding against re-entrant grow calls from within reclaim.
func (p *Pool) SetReclaiming(v bool) {
	root := p.root
	root.mu.Lock()
	root.reclaiming = v
	root.mu.Unlock()
}

// RegisterDriver counts one more active driver against this root, for
// WaitAllSuspended's quorum check. Call once per driver thread a task
// under this root starts.
func (p *Pool) RegisterDriver() {
	root := p.root
	root.mu.Lock()
	root.activeDrivers++
	root.mu.Unlock()
}

// UnregisterDriver removes a driver from the quorum (it finished or the
// task was torn down), waking any arbitrator waiting on full suspension.
func (p *Pool) UnregisterDriver() {
	root := p.root
	root.mu.Lock()
	if root.activeDrivers > 0 {
		root.activeDrivers--
	}
	root.mu.Unlock()
	root.cond.Broadcast()
}

// SuspendedSection marks one driver as parked at a safe point, e.g. while
// blocked on a future or inside a long-running reclaim call (spec.md 5).
// Resume must be called exactly once to leave the section, conventionally
// via defer right after Suspend.
type SuspendedSection struct {
	root *Pool
}

// Suspend enters a suspended section on behalf of one driver of p's root.
func (p *Pool) Suspend() SuspendedSection {
	root := p.root
	root.mu.Lock()
	root.suspended++
	root.mu.Unlock()
	root.cond.Broadcast()
	return SuspendedSection{root: root}
}

// Resume leaves the suspended section.
func (s SuspendedSection) Resume() {
	root := s.root
	root.mu.Lock()
	root.suspended--
	root.mu.Unlock()
	root.cond.Broadcast()
}

// WaitAllSuspended blocks until every registered driver of p's root is
// either unregistered or inside a suspended section, or ctx is done. The
// arbitrator does not call it; its global round waits through
// Host.RequestPause instead.
func (p *Pool) WaitAllSuspended(ctx context.Context) error {
	root := p.root
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				root.mu.Lock()
				root.cond.Broadcast()
				root.mu.Unlock()
			case <-done:
			}
		}()
		defer close(done)
	}

	root.mu.Lock()
	defer root.mu.Unlock()
	for root.suspended < root.activeDrivers {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		root.cond.Wait()
	}
	return nil
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Pool{}
)

func register(p *Pool) {
	registryMu.Lock()
	registry[p.name] = p
	registryMu.Unlock()
}

// DeleteMPool removes a root pool from the process-wide registry. It does
// not release outstanding capacity back to an arbitrator — callers must
// Abort or otherwise settle accounting first.
func DeleteMPool(p *Pool) {
	registryMu.Lock()
	delete(registry, p.name)
	registryMu.Unlock()
}

// ReportMemUsage renders a snapshot of one named pool's usage, or of every
// registered root pool when name is empty, matching
// pkg/common/mpool/mpool_test.go's ReportMemUsage("")/("global")/(name)
// calling convention.
func ReportMemUsage(name string) string {
	registryMu.Lock()
	defer registryMu.Unlock()

	if name == "" || name == "global" {
		total := int64(0)
		for _, p := range registry {
			total += p.CurrNB()
		}
		return formatUsage("global", total)
	}
	if p, ok := registry[name]; ok {
		return formatUsage(name, p.CurrNB())
	}
	return formatUsage(name, 0)
}

func formatUsage(name string, bytes int64) string {
	return "{\"pool\":\"" + name + "\",\"usedBytes\":" + itoa(bytes) + "}"
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
