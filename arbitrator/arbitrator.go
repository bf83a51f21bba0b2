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

package arbitrator

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/glutenproject/velox/fsnerr"
	"github.com/glutenproject/velox/logutil"
	"github.com/glutenproject/velox/mpool"
	"github.com/glutenproject/velox/vm"
)

// Kind identifies this arbitrator implementation, mirroring
// SharedArbitratorTest.cpp's ASSERT_EQ(arbitrator->kind(), "SHARED").
const Kind = "SHARED"

// Arbitrator is the process-wide allocator of capacity across query root
// pools (spec.md 4.7). It is constructed once per process via Init and
// reached everywhere else through an injected handle, per spec.md 9
// "Global mutable state".
type Arbitrator struct {
	host       Host
	allowAbort bool

	mu            sync.Mutex
	totalCapacity int64
	freeCapacity  int64
	roots         map[string]*Root
	counters      Counters

	// FIFO turnstile for global arbitration rounds (spec.md 5 "Ordering":
	// the arbitrator must serve queued requests in FIFO order among
	// requesters of the same priority).
	turnMu sync.Mutex
	turn   *list.List
}

// New constructs an arbitrator with totalCapacity bytes to distribute and
// host as the pause/reclaim collaborator. allowAbort controls whether a
// global round that cannot satisfy a request via reclaim may abort a
// victim (spec.md 4.7 step 3).
func New(totalCapacity int64, host Host, allowAbort bool) *Arbitrator {
	return &Arbitrator{
		host:          host,
		allowAbort:    allowAbort,
		totalCapacity: totalCapacity,
		freeCapacity:  totalCapacity,
		roots:         make(map[string]*Root),
		turn:          list.New(),
	}
}

// Kind returns the arbitrator's kind string, "SHARED".
func (a *Arbitrator) Kind() string { return Kind }

// NewQueryRoot creates a memory pool root registered with this arbitrator:
// its GrowCallback routes through a.GrowCapacity, so a leaf allocation that
// exhausts the root's local capacity transparently enters arbitration.
func (a *Arbitrator) NewQueryRoot(id string, initCapacity, maxCapacity int64) *Root {
	root := &Root{ID: id}
	root.Pool = mpool.NewRootPool(id, maxCapacity, func(p *mpool.Pool, bytesNeeded int64) error {
		return a.GrowCapacity(root, bytesNeeded)
	})
	if initCapacity > 0 {
		delta := mpool.RoundUp(initCapacity)
		a.mu.Lock()
		if delta > a.freeCapacity {
			delta = a.freeCapacity
		}
		a.freeCapacity -= delta
		a.mu.Unlock()
		root.Pool.GrowTo(delta)
	}
	a.mu.Lock()
	a.roots[id] = root
	a.mu.Unlock()
	return root
}

// RemoveRoot drops a torn-down root's bookkeeping. The caller must have
// already released or aborted the root's outstanding capacity.
func (a *Arbitrator) RemoveRoot(root *Root) {
	a.mu.Lock()
	delete(a.roots, root.ID)
	a.mu.Unlock()
	mpool.DeleteMPool(root.Pool)
}

// GrowCapacity satisfies a leaf's request for bytesNeeded more capacity on
// root, first via local arbitration (spare freeCapacity), falling back to
// a global arbitration round that pauses and reclaims from other roots.
func (a *Arbitrator) GrowCapacity(root *Root, bytesNeeded int64) error {
	if ok := a.tryLocalGrant(root, bytesNeeded); ok {
		return nil
	}
	return a.globalArbitration(root, bytesNeeded)
}

// tryLocalGrant attempts to serve bytesNeeded purely out of freeCapacity,
// incrementing localArbitrationCount on success. The amount debited from
// freeCapacity is bytesNeeded rounded up to GrowTo's reservation unit, so
// the grant this function approves is always exactly what GrowTo ends up
// applying.
func (a *Arbitrator) tryLocalGrant(root *Root, bytesNeeded int64) bool {
	current := root.Pool.Capacity()
	maxCap := root.Pool.MaxCapacity()
	delta := mpool.RoundUp(bytesNeeded)

	a.mu.Lock()
	if current+delta <= maxCap && a.freeCapacity >= delta {
		a.freeCapacity -= delta
		a.counters.LocalArbitrationCount++
		a.mu.Unlock()
		root.Pool.GrowTo(current + delta)
		return true
	}
	a.mu.Unlock()
	return false
}

// globalArbitration runs one round of the reclaim protocol (spec.md 4.7).
// Only one round runs at a time, in FIFO order of arrival, so that a flood
// of small requesters cannot starve an earlier large one.
func (a *Arbitrator) globalArbitration(root *Root, bytesNeeded int64) error {
	a.mu.Lock()
	a.counters.NumRequests++
	a.counters.GlobalArbitrationWaitCount++
	a.mu.Unlock()

	root.setUnderArbitration(true)
	defer root.setUnderArbitration(false)

	a.enterTurn()
	inTurn := true
	defer func() {
		if inTurn {
			a.leaveTurn()
		}
	}()

	// Conditions may have changed while we waited for our turn.
	if a.tryLocalGrant(root, bytesNeeded) {
		return nil
	}

	a.mu.Lock()
	shortfall := bytesNeeded - a.freeCapacity
	if shortfall < 0 {
		shortfall = 0
	}
	victims := a.selectVictims(root)
	a.mu.Unlock()

	for _, v := range victims {
		v.resetPauseRound()
	}

	reclaimed := int64(0)
	ctx := context.Background()
	for _, v := range victims {
		if reclaimed >= shortfall {
			break
		}
		got, err := a.reclaimFrom(ctx, v, shortfall-reclaimed)
		if err != nil {
			logutil.Warnf("arbitrator: reclaim from %q failed: %v", v.ID, err)
			continue
		}
		reclaimed += got
	}

	a.mu.Lock()
	a.counters.ReclaimedUsedBytes += reclaimed
	a.freeCapacity += reclaimed
	a.mu.Unlock()

	if a.tryLocalGrant(root, bytesNeeded) {
		return nil
	}

	if !a.allowAbort {
		return fsnerr.NewCapacityExceeded(ctx, root.ID, bytesNeeded, root.Pool.MaxCapacity())
	}

	victim := a.pickAbortVictim(root, victims)
	a.Abort(victim, "capacity exceeded during global arbitration")
	if victim == root {
		return fsnerr.NewCapacityExceeded(ctx, root.ID, bytesNeeded, root.Pool.MaxCapacity())
	}
	// The abort above returned the victim's whole grant to freeCapacity;
	// retry once, outside our own turn (the recursive call takes a fresh
	// one), per spec.md "coordinates with the driver host... abort under
	// OOM" being the terminal step of a single round.
	a.leaveTurn()
	inTurn = false
	return a.GrowCapacity(root, bytesNeeded)
}

// selectVictims orders every root other than the requester by current
// usage, descending: the reclaim policy prefers reclaiming from the
// heaviest users first, since they are the likeliest to yield the most
// bytes per task paused.
func (a *Arbitrator) selectVictims(requester *Root) []*Root {
	victims := make([]*Root, 0, len(a.roots))
	for _, r := range a.roots {
		if r == requester {
			continue
		}
		victims = append(victims, r)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].Pool.CurrNB() > victims[j].Pool.CurrNB()
	})
	return victims
}

// pickAbortVictim chooses who pays for an unsatisfiable request: the
// largest candidate victim if any still holds reclaimable capacity,
// otherwise the requester itself (spec.md 4.7 step 3, "largest suitable
// victim (or the requester itself, policy-dependent)").
func (a *Arbitrator) pickAbortVictim(requester *Root, victims []*Root) *Root {
	var best *Root
	for _, v := range victims {
		if v.Pool.CurrNB() == 0 {
			continue
		}
		if best == nil || v.Pool.CurrNB() > best.Pool.CurrNB() {
			best = v
		}
	}
	if best != nil {
		return best
	}
	return requester
}

// reclaimFrom runs the per-victim reclaim protocol: pause each task under
// v at most once, invoke every reclaim-capable operator, then shrink v's
// granted capacity down to what it still uses, returning the freed bytes.
func (a *Arbitrator) reclaimFrom(ctx context.Context, v *Root, target int64) (int64, error) {
	var stats vm.ReclaimStats

	v.Pool.SetReclaiming(true)
	defer v.Pool.SetReclaiming(false)

	for _, taskID := range v.tasks() {
		if stats.ReclaimedBytes >= target {
			break
		}
		if !v.markPaused(taskID) {
			continue
		}
		if err := a.host.RequestPause(taskID); err != nil {
			continue
		}
		func() {
			defer a.host.Resume(taskID)
			for _, r := range a.host.Reclaimers(taskID) {
				if !r.CanReclaim() {
					continue
				}
				if err := r.Reclaim(target-stats.ReclaimedBytes, &stats); err != nil {
					logutil.Warnf("arbitrator: reclaim on task %q failed: %v", taskID, err)
				}
			}
		}()
	}

	usedAfter := v.Pool.CurrNB()
	freed := v.Pool.ShrinkTo(usedAfter)
	return freed, nil
}

// Release returns bytes of a root's granted-but-unused capacity to the
// free pool (spec.md 4.7). It does not signal requesters queued for a
// global arbitration round; those proceed only when the round ahead of
// them leaves its turn.
func (a *Arbitrator) Release(root *Root, bytes int64) {
	capBefore := root.Pool.Capacity()
	target := capBefore - bytes
	if target < root.Pool.CurrNB() {
		target = root.Pool.CurrNB()
	}
	freed := root.Pool.ShrinkTo(target)
	if freed <= 0 {
		return
	}
	a.mu.Lock()
	a.freeCapacity += freed
	a.mu.Unlock()
}

// Abort marks root's pool aborted and returns its entire granted capacity
// to the free pool (spec.md 4.7). The root lock the pool abort path takes
// is the same one reclaimFrom/ShrinkTo take, so an abort racing a reclaim
// round produces one well-defined memAborted error, never a corrupted
// accounting state (spec.md 5 "Race discipline").
func (a *Arbitrator) Abort(root *Root, reason string) {
	freed := root.Pool.AbortAndReclaim(reason)

	a.mu.Lock()
	a.counters.NumAborted++
	if freed > 0 {
		a.freeCapacity += freed
	}
	a.mu.Unlock()
}

// Stats returns a snapshot of the observable counters (spec.md 4.7, 6).
func (a *Arbitrator) Stats() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.counters
	c.FreeCapacityBytes = a.freeCapacity
	c.MaxCapacityBytes = a.totalCapacity
	return c
}

// CheckInvariant verifies spec.md 3's sum(root.capacity)+freeCapacity ==
// totalCapacity, for use by tests after every grow/reclaim/abort.
func (a *Arbitrator) CheckInvariant() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	sum := a.freeCapacity
	for _, r := range a.roots {
		sum += r.Pool.Capacity()
	}
	return sum == a.totalCapacity
}

// enterTurn/leaveTurn implement the FIFO turnstile: each caller enqueues a
// channel and blocks on it unless already at the head of the line.
func (a *Arbitrator) enterTurn() {
	ch := make(chan struct{})
	a.turnMu.Lock()
	elem := a.turn.PushBack(ch)
	isHead := a.turn.Front() == elem
	a.turnMu.Unlock()
	if !isHead {
		<-ch
	}
}

func (a *Arbitrator) leaveTurn() {
	a.turnMu.Lock()
	a.turn.Remove(a.turn.Front())
	if next := a.turn.Front(); next != nil {
		close(next.Value.(chan struct{}))
	}
	a.turnMu.Unlock()
}

// Global arbitrator handle, reachable process-wide once Init has run
// (spec.md 9, "explicit initialization/teardown calls at startup/shutdown
// rather than lazy construction").
var (
	globalMu  sync.Mutex
	globalArb *Arbitrator
)

// Init constructs the process-wide arbitrator and makes it reachable via
// Global. Calling Init twice without an intervening Shutdown panics, since
// that indicates two query engines racing to own the same memory budget.
func Init(totalCapacity int64, host Host, allowAbort bool) *Arbitrator {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalArb != nil {
		panic("arbitrator: Init called twice without Shutdown")
	}
	globalArb = New(totalCapacity, host, allowAbort)
	return globalArb
}

// Shutdown tears down the process-wide arbitrator. Tests that need a fresh
// instance per-case should call this in cleanup.
func Shutdown() {
	globalMu.Lock()
	globalArb = nil
	globalMu.Unlock()
}

// Global returns the process-wide arbitrator installed by Init, or nil if
// none has been installed yet.
func Global() *Arbitrator {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalArb
}
