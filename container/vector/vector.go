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

// Package vector implements a single typed column of a row batch, with the
// compare/copy primitives the merge operator needs.
package vector

import (
	"fmt"

	"github.com/glutenproject/velox/container/nulls"
	"github.com/glutenproject/velox/container/types"
)

// Vector is one typed, nullable column.
type Vector struct {
	Typ types.T

	bools    []bool
	int8s    []int8
	int16s   []int16
	int32s   []int32
	int64s   []int64
	uint8s   []uint8
	uint16s  []uint16
	uint32s  []uint32
	uint64s  []uint64
	float32s []float32
	float64s []float64
	strs     []string

	Nsp *nulls.Bitmap
}

// New returns an empty vector of the given type.
func New(t types.T) *Vector {
	return &Vector{Typ: t, Nsp: nulls.New()}
}

// Length returns the number of logical rows, i.e. the length of the
// backing typed slice.
func (v *Vector) Length() int {
	switch v.Typ {
	case types.T_bool:
		return len(v.bools)
	case types.T_int8:
		return len(v.int8s)
	case types.T_int16:
		return len(v.int16s)
	case types.T_int32:
		return len(v.int32s)
	case types.T_int64:
		return len(v.int64s)
	case types.T_uint8:
		return len(v.uint8s)
	case types.T_uint16:
		return len(v.uint16s)
	case types.T_uint32:
		return len(v.uint32s)
	case types.T_uint64:
		return len(v.uint64s)
	case types.T_float32:
		return len(v.float32s)
	case types.T_float64:
		return len(v.float64s)
	case types.T_varchar:
		return len(v.strs)
	default:
		panic(fmt.Sprintf("vector: unsupported type %v", v.Typ))
	}
}

// Resize sets the backing slice's length to n without touching the first
// min(n, Length()) elements. Shrinking truncates; growing within the
// existing capacity re-exposes whatever the backing array holds there, and
// growing past it zero-fills the new elements.
func (v *Vector) Resize(n int) {
	switch v.Typ {
	case types.T_bool:
		v.bools = growBool(v.bools, n)
	case types.T_int8:
		v.int8s = growGeneric(v.int8s, n)
	case types.T_int16:
		v.int16s = growGeneric(v.int16s, n)
	case types.T_int32:
		v.int32s = growGeneric(v.int32s, n)
	case types.T_int64:
		v.int64s = growGeneric(v.int64s, n)
	case types.T_uint8:
		v.uint8s = growGeneric(v.uint8s, n)
	case types.T_uint16:
		v.uint16s = growGeneric(v.uint16s, n)
	case types.T_uint32:
		v.uint32s = growGeneric(v.uint32s, n)
	case types.T_uint64:
		v.uint64s = growGeneric(v.uint64s, n)
	case types.T_float32:
		v.float32s = growGeneric(v.float32s, n)
	case types.T_float64:
		v.float64s = growGeneric(v.float64s, n)
	case types.T_varchar:
		v.strs = growGeneric(v.strs, n)
	default:
		panic(fmt.Sprintf("vector: unsupported type %v", v.Typ))
	}
}

func growGeneric[T any](s []T, n int) []T {
	if len(s) >= n {
		return s[:n]
	}
	if cap(s) >= n {
		return s[:n]
	}
	out := make([]T, n)
	copy(out, s)
	return out
}

func growBool(s []bool, n int) []bool {
	return growGeneric(s, n)
}

// AppendInt64 appends a non-null int64 value; Typ must be T_int64.
func (v *Vector) AppendInt64(x int64) {
	v.int64s = append(v.int64s, x)
}

// AppendInt32 appends a non-null int32 value; Typ must be T_int32.
func (v *Vector) AppendInt32(x int32) {
	v.int32s = append(v.int32s, x)
}

// AppendFloat64 appends a non-null float64 value; Typ must be T_float64.
func (v *Vector) AppendFloat64(x float64) {
	v.float64s = append(v.float64s, x)
}

// AppendString appends a non-null string value; Typ must be T_varchar.
func (v *Vector) AppendString(x string) {
	v.strs = append(v.strs, x)
}

// AppendNull appends a logically-null slot of the vector's type.
func (v *Vector) AppendNull() {
	row := uint64(v.Length())
	v.Resize(v.Length() + 1)
	v.Nsp.Add(row)
}

// Compare returns -1/0/1 comparing row i of v against row j of other,
// honoring flags.NullsFirst and flags.Ascending. flags.EqualsOnly is
// rejected by callers before compare is ever invoked (merge/compare.go).
func (v *Vector) Compare(other *Vector, i, j int, flags types.CompareFlags) int {
	iNull := v.Nsp.Contains(uint64(i))
	jNull := other.Nsp.Contains(uint64(j))
	if iNull || jNull {
		return compareNulls(iNull, jNull, flags.NullsFirst)
	}

	raw := v.compareValues(other, i, j)
	if !flags.Ascending {
		raw = -raw
	}
	return raw
}

func compareNulls(iNull, jNull, nullsFirst bool) int {
	if iNull && jNull {
		return 0
	}
	if iNull {
		if nullsFirst {
			return -1
		}
		return 1
	}
	// jNull
	if nullsFirst {
		return 1
	}
	return -1
}

func (v *Vector) compareValues(other *Vector, i, j int) int {
	switch v.Typ {
	case types.T_bool:
		return compareOrdered(boolToInt(v.bools[i]), boolToInt(other.bools[j]))
	case types.T_int8:
		return compareOrdered(v.int8s[i], other.int8s[j])
	case types.T_int16:
		return compareOrdered(v.int16s[i], other.int16s[j])
	case types.T_int32:
		return compareOrdered(v.int32s[i], other.int32s[j])
	case types.T_int64:
		return compareOrdered(v.int64s[i], other.int64s[j])
	case types.T_uint8:
		return compareOrdered(v.uint8s[i], other.uint8s[j])
	case types.T_uint16:
		return compareOrdered(v.uint16s[i], other.uint16s[j])
	case types.T_uint32:
		return compareOrdered(v.uint32s[i], other.uint32s[j])
	case types.T_uint64:
		return compareOrdered(v.uint64s[i], other.uint64s[j])
	case types.T_float32:
		return compareOrdered(v.float32s[i], other.float32s[j])
	case types.T_float64:
		return compareOrdered(v.float64s[i], other.float64s[j])
	case types.T_varchar:
		return compareOrdered(v.strs[i], other.strs[j])
	default:
		panic(fmt.Sprintf("vector: unsupported type %v", v.Typ))
	}
}

func boolToInt(b bool) int8 {
	if b {
		return 1
	}
	return 0
}

type ordered interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64 | ~string
}

func compareOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Copy overwrites row vi of v with row wi of w. Both vectors must share Typ.
func (v *Vector) Copy(w *Vector, vi, wi int) {
	if w.Nsp.Contains(uint64(wi)) {
		v.Nsp.Add(uint64(vi))
	} else {
		v.Nsp.Remove(uint64(vi))
	}
	switch v.Typ {
	case types.T_bool:
		v.bools[vi] = w.bools[wi]
	case types.T_int8:
		v.int8s[vi] = w.int8s[wi]
	case types.T_int16:
		v.int16s[vi] = w.int16s[wi]
	case types.T_int32:
		v.int32s[vi] = w.int32s[wi]
	case types.T_int64:
		v.int64s[vi] = w.int64s[wi]
	case types.T_uint8:
		v.uint8s[vi] = w.uint8s[wi]
	case types.T_uint16:
		v.uint16s[vi] = w.uint16s[wi]
	case types.T_uint32:
		v.uint32s[vi] = w.uint32s[wi]
	case types.T_uint64:
		v.uint64s[vi] = w.uint64s[wi]
	case types.T_float32:
		v.float32s[vi] = w.float32s[wi]
	case types.T_float64:
		v.float64s[vi] = w.float64s[wi]
	case types.T_varchar:
		v.strs[vi] = w.strs[wi]
	default:
		panic(fmt.Sprintf("vector: unsupported type %v", v.Typ))
	}
}

// Int64At returns the int64 value at row i; Typ must be T_int64.
func (v *Vector) Int64At(i int) int64 { return v.int64s[i] }

// Int32At returns the int32 value at row i; Typ must be T_int32.
func (v *Vector) Int32At(i int) int32 { return v.int32s[i] }

// Float64At returns the float64 value at row i; Typ must be T_float64.
func (v *Vector) Float64At(i int) float64 { return v.float64s[i] }

// StringAt returns the string value at row i; Typ must be T_varchar.
func (v *Vector) StringAt(i int) string { return v.strs[i] }

// UnionOne appends row sel of w onto the end of v. Mirrors
// pkg/container/vector/vector.go's UnionOne (append-by-selection).
func (v *Vector) UnionOne(w *Vector, sel int) {
	row := v.Length()
	v.Resize(row + 1)
	v.Copy(w, row, sel)
}
