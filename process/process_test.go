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

package process

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/glutenproject/velox/mpool"
)

func TestNewWithGeneratedID_ProducesDistinctValidUUIDs(t *testing.T) {
	root := mpool.NewRootPool("q", 1<<20, nil)
	leaf := root.NewChild("leaf")

	p1 := NewWithGeneratedID(context.Background(), leaf)
	p2 := NewWithGeneratedID(context.Background(), leaf)

	require.NotEqual(t, p1.QueryId(), p2.QueryId())
	_, err := uuid.Parse(p1.QueryId())
	require.NoError(t, err)
}
