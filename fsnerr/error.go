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

// Package fsnerr is the core's error taxonomy: every error surfaced by
// mpool, arbitrator or merge carries a Kind classifying it per spec.md 7,
// following the code-table-plus-constructor-per-family pattern of
// pkg/common/moerr.
package fsnerr

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Kind classifies an error, not its Go type.
type Kind uint8

const (
	// KindCapacityExceeded: a pool could not grow within its max; the
	// caller may retry after spilling.
	KindCapacityExceeded Kind = iota
	// KindMemoryAborted: the owning query was aborted by the arbitrator.
	KindMemoryAborted
	// KindAllocationError: the underlying allocator refused; classified as
	// capacity-exceeded for caller purposes but distinguishable here.
	KindAllocationError
	// KindExternalAbort: host-initiated cancellation.
	KindExternalAbort
	// KindInvariantViolation: programming error, fatal.
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindCapacityExceeded:
		return "capacity-exceeded"
	case KindMemoryAborted:
		return "memory-aborted"
	case KindAllocationError:
		return "allocation-error"
	case KindExternalAbort:
		return "external-abort"
	case KindInvariantViolation:
		return "invariant-violation"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every constructor below returns.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, msg string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(msg, args...)}
}

// NewCapacityExceeded reports that pool could not grow to satisfy bytesNeeded
// within its maxCapacity.
func NewCapacityExceeded(_ context.Context, pool string, bytesNeeded, maxCapacity int64) *Error {
	return newError(KindCapacityExceeded,
		"pool %q needs %d bytes but max capacity is %d", pool, bytesNeeded, maxCapacity)
}

// NewMemoryAborted reports that the owning query was aborted by the
// arbitrator for reason.
func NewMemoryAborted(_ context.Context, pool string, reason string) *Error {
	return newError(KindMemoryAborted, "pool %q aborted: %s", pool, reason)
}

// NewAllocationError reports that the underlying allocator refused a
// request of size bytes.
func NewAllocationError(_ context.Context, size int64) *Error {
	return newError(KindAllocationError, "allocation of %d bytes failed", size)
}

// NewExternalAbort reports host-initiated cancellation of a task.
func NewExternalAbort(_ context.Context, taskID string) *Error {
	return newError(KindExternalAbort, "task %q cancelled by host", taskID)
}

// NewInvariantViolation reports a programming error; fatal.
func NewInvariantViolation(_ context.Context, msg string, args ...any) *Error {
	return newError(KindInvariantViolation, msg, args...)
}

// Is reports whether err (or any error it wraps) is an *Error of kind. An
// allocation error also matches KindCapacityExceeded.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		if kind == KindCapacityExceeded && e.Kind == KindAllocationError {
			return true
		}
		return e.Kind == kind
	}
	return false
}

// Convert classifies an arbitrary error into the core's taxonomy,
// mirroring moerr.ConvertGoError: already-classified errors pass through,
// well known stdlib errors map to a specific kind, everything else becomes
// an invariant violation (we never expect raw stdlib errors on this path).
func Convert(ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return NewInvariantViolation(ctx, "unexpected end of stream: %v", err)
	}
	return NewInvariantViolation(ctx, "unclassified error: %v", err)
}
