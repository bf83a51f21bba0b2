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

package mpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glutenproject/velox/fsnerr"
)

func TestPool_AllocWithinCapacity(t *testing.T) {
	root := NewRootPool("q1", 1<<20, nil)
	root.GrowTo(1 << 20)
	leaf := root.NewChild("leaf")

	buf, err := leaf.Alloc(1024)
	require.NoError(t, err)
	require.Len(t, buf, 1024)
	require.EqualValues(t, 1024, leaf.CurrNB())
	require.EqualValues(t, 1024, root.CurrNB())

	leaf.Free(buf)
	require.EqualValues(t, 0, leaf.CurrNB())
	require.EqualValues(t, 0, root.CurrNB())
}

func TestPool_AllocBeyondCapacityWithNoGrowCallback(t *testing.T) {
	root := NewRootPool("q1", 1<<20, nil)
	root.GrowTo(64) // rounds up to one 1MiB reservation unit
	leaf := root.NewChild("leaf")

	_, err := leaf.Alloc(1<<20 + 128)
	require.Error(t, err)
	require.True(t, fsnerr.Is(err, fsnerr.KindCapacityExceeded))
}

func TestPool_GrowCallbackInvokedOnDemand(t *testing.T) {
	var gotRoot *Pool
	var gotBytes int64
	root := NewRootPool("q1", 1<<20, func(p *Pool, bytesNeeded int64) error {
		gotRoot = p
		gotBytes = bytesNeeded
		p.GrowTo(p.Capacity() + bytesNeeded)
		return nil
	})
	leaf := root.NewChild("leaf")

	_, err := leaf.Alloc(100)
	require.NoError(t, err)
	require.Same(t, root, gotRoot)
	require.EqualValues(t, 100, gotBytes)
}

func TestPool_AbortRejectsFurtherAllocations(t *testing.T) {
	root := NewRootPool("q1", 1<<20, nil)
	root.GrowTo(1 << 20)
	leaf := root.NewChild("leaf")

	root.Abort("query cancelled")

	_, err := leaf.Alloc(16)
	require.Error(t, err)
	require.True(t, fsnerr.Is(err, fsnerr.KindMemoryAborted))
}

func TestPool_ReallocPreservesPrefix(t *testing.T) {
	root := NewRootPool("q1", 1<<20, nil)
	root.GrowTo(1 << 20)
	leaf := root.NewChild("leaf")

	buf, err := leaf.Alloc(4)
	require.NoError(t, err)
	copy(buf, []byte{1, 2, 3, 4})

	buf, err = leaf.Realloc(buf, 8)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, buf)
	require.EqualValues(t, 8, root.CurrNB())

	buf, err = leaf.Realloc(buf, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, buf)
	require.EqualValues(t, 2, root.CurrNB())
}

func TestPool_ReentrantGrowDuringReclaimIsZeroSized(t *testing.T) {
	// spec.md 9 open question: a reclaim path that itself allocates must
	// not recurse into another global grant; it gets a zero grant and
	// capacity-exceeded.
	grown := false
	root := NewRootPool("q1", 1<<20, func(p *Pool, bytesNeeded int64) error {
		grown = true
		p.GrowTo(p.Capacity() + bytesNeeded)
		return nil
	})
	root.GrowTo(64) // rounds up to one 1MiB reservation unit
	leaf := root.NewChild("leaf")

	root.SetReclaiming(true)
	_, err := leaf.Alloc(1<<20 + 1<<10)
	require.Error(t, err)
	require.True(t, fsnerr.Is(err, fsnerr.KindCapacityExceeded))
	require.False(t, grown, "growCB must not be invoked while reclaiming")
}

func TestPool_WaitAllSuspendedReturnsOnceQuorumMet(t *testing.T) {
	root := NewRootPool("q1", 1<<20, nil)
	root.RegisterDriver()
	root.RegisterDriver()

	s1 := root.Suspend()
	s2 := root.Suspend()

	done := make(chan error, 1)
	go func() {
		done <- root.WaitAllSuspended(nil)
	}()

	require.NoError(t, <-done)
	s1.Resume()
	s2.Resume()
}
