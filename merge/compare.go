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
	"fmt"

	"github.com/glutenproject/velox/container/types"
	"github.com/glutenproject/velox/fsnerr"
)

// constantOrdinal marks a sort key that refers to a literal rather than a
// real column; spec.md 4.1 forbids these at construction, mirroring
// Merge.cpp:58-61 (VELOX_CHECK_NE(channel, kConstantChannel, ...)).
const constantOrdinal = -1

// SortKey is a (columnOrdinal, compareFlags) pair, spec.md 3.
type SortKey struct {
	ColumnOrdinal int
	Flags         types.CompareFlags
}

// SortKeys is an ordered list of sort keys, compared left-to-right with
// short-circuit on the first non-zero column compare (spec.md 4.1).
type SortKeys []SortKey

// NewSortKeys validates and returns a SortKeys list. It rejects constant
// (literal) keys and any flag set whose null-handling mode is not
// "value", matching Merge.cpp's VELOX_CHECK_NE / VELOX_DCHECK guards.
func NewSortKeys(keys []SortKey) (SortKeys, error) {
	if len(keys) == 0 {
		return nil, fsnerr.NewInvariantViolation(context.Background(), "merge requires at least one sort key")
	}
	for i, k := range keys {
		if k.ColumnOrdinal == constantOrdinal {
			return nil, fsnerr.NewInvariantViolation(context.Background(),
				"merge doesn't allow constant sort key at position %d", i)
		}
		if k.Flags.EqualsOnly {
			return nil, fsnerr.NewInvariantViolation(context.Background(),
				"merge sort key at position %d may not use an equals-only compare", i)
		}
		if !k.Flags.NullAsValue() {
			return nil, fsnerr.NewInvariantViolation(context.Background(),
				"merge sort key at position %d uses an unsupported null handling mode", i)
		}
	}
	return SortKeys(keys), nil
}

func (k SortKey) String() string {
	order := "asc"
	if !k.Flags.Ascending {
		order = "desc"
	}
	nulls := "nulls-last"
	if k.Flags.NullsFirst {
		nulls = "nulls-first"
	}
	return fmt.Sprintf("col#%d %s %s", k.ColumnOrdinal, order, nulls)
}
