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

// Package types carries the scalar type oids and comparison flags shared
// by the columnar container packages.
package types

// T is a scalar column type oid.
type T uint8

const (
	T_bool T = iota
	T_int8
	T_int16
	T_int32
	T_int64
	T_uint8
	T_uint16
	T_uint32
	T_uint64
	T_float32
	T_float64
	T_varchar
)

func (t T) String() string {
	switch t {
	case T_bool:
		return "BOOL"
	case T_int8:
		return "INT8"
	case T_int16:
		return "INT16"
	case T_int32:
		return "INT32"
	case T_int64:
		return "INT64"
	case T_uint8:
		return "UINT8"
	case T_uint16:
		return "UINT16"
	case T_uint32:
		return "UINT32"
	case T_uint64:
		return "UINT64"
	case T_float32:
		return "FLOAT32"
	case T_float64:
		return "FLOAT64"
	case T_varchar:
		return "VARCHAR"
	default:
		return "UNKNOWN"
	}
}

// CompareFlags governs how two values of a sort key column compare.
// Mirrors velox's CompareFlags (nullsFirst, ascending, equalsOnly).
type CompareFlags struct {
	NullsFirst bool
	Ascending  bool
	// EqualsOnly requests a cheaper equality-only comparison. The merge
	// operator never allows this: compare must produce a full -1/0/1 order.
	EqualsOnly bool
}

// NullAsValue reports whether this flag set treats SQL NULL as an orderable
// value rather than some other null-handling mode. The core only supports
// this mode; compare must reject any other (spec.md 4.1).
func (f CompareFlags) NullAsValue() bool {
	return true
}
