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

// Command fusionbench is a small demonstration binary: it drives a local
// merge over a few in-memory sources under a shared arbitrator with two
// query roots, the way cmd/mo-service's main wires a config file into a
// running service, but scaled down to this core's two subsystems.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/glutenproject/velox/arbitrator"
	"github.com/glutenproject/velox/config"
	"github.com/glutenproject/velox/container/batch"
	"github.com/glutenproject/velox/container/types"
	"github.com/glutenproject/velox/container/vector"
	"github.com/glutenproject/velox/logutil"
	"github.com/glutenproject/velox/merge"
	"github.com/glutenproject/velox/process"
	"github.com/glutenproject/velox/vm"
)

var configFile = flag.String("cfg", "", "toml configuration file; built-in defaults are used if empty")

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fusionbench: failed to load %s: %v\n", *configFile, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, _ := zap.NewDevelopment()
	logutil.SetLogger(logger)

	host := &noopHost{}
	arb := arbitrator.Init(cfg.MemoryCapacity, host, true)
	defer arbitrator.Shutdown()

	queryA := arb.NewQueryRoot("fusionbench-q1", cfg.MemoryPoolInitCapacity, cfg.MemoryCapacity/2)
	queryB := arb.NewQueryRoot("fusionbench-q2", cfg.MemoryPoolInitCapacity, cfg.MemoryCapacity/2)
	defer arb.RemoveRoot(queryA)
	defer arb.RemoveRoot(queryB)

	rows := runMerge(queryA)
	logutil.Info("fusionbench merge complete", zap.Int("rows", rows))

	stats := arb.Stats()
	logutil.Info("fusionbench arbitrator stats",
		zap.Int64("localArbitrationCount", stats.LocalArbitrationCount),
		zap.Int64("globalArbitrationWaitCount", stats.GlobalArbitrationWaitCount),
		zap.Int64("reclaimedUsedBytes", stats.ReclaimedUsedBytes),
		zap.Int64("numRequests", stats.NumRequests),
		zap.Int64("numAborted", stats.NumAborted),
		zap.Int64("freeCapacityBytes", stats.FreeCapacityBytes),
	)
}

// runMerge three-way merges [1,4,7], [2,5,8], [3,6,9] through a
// LocalMergeArg over root's pool, logging each output batch's row count
// and returning the total number of rows.
func runMerge(root *arbitrator.Root) int {
	leaf := root.Pool.NewChild("merge-leaf")
	proc := process.New(context.Background(), root.ID, leaf)

	inputs := [][]int64{{1, 4, 7}, {2, 5, 8}, {3, 6, 9}}
	for range inputs {
		ch := make(chan *batch.Batch, 2)
		proc.Reg.MergeReceivers = append(proc.Reg.MergeReceivers, &process.WaitRegister{Ch: ch})
	}
	for i, vals := range inputs {
		v := vector.New(types.T_int64)
		for _, x := range vals {
			v.AppendInt64(x)
		}
		b := batch.New([]string{"c"}, []*vector.Vector{v})
		ch := proc.Reg.MergeReceivers[i].Ch
		ch <- b
		close(ch)
	}

	keys, err := merge.NewSortKeys([]merge.SortKey{{
		ColumnOrdinal: 0,
		Flags:         types.CompareFlags{Ascending: true},
	}})
	if err != nil {
		panic(err)
	}

	op := merge.NewLocalMergeArg(keys)
	op.OutputBatchRows = 4
	op.SetProcess(proc)
	if err := op.Prepare(); err != nil {
		panic(err)
	}

	total := 0
	for {
		res, err := op.Call()
		if err != nil {
			panic(err)
		}
		if res.Batch != nil {
			total += res.Batch.RowCount()
			logutil.Info("merge batch", zap.Int("rows", res.Batch.RowCount()))
		}
		if res.Status == vm.ExecStop {
			break
		}
		if res.Blocked != nil {
			<-res.Blocked
		}
	}
	return total
}

// noopHost stands in for a real driver host: fusionbench never actually
// runs concurrent queries under memory pressure, so pause/reclaim never
// fires, but the arbitrator still needs a Host to construct.
type noopHost struct{}

func (noopHost) RequestPause(taskID arbitrator.TaskID) error          { return nil }
func (noopHost) Resume(taskID arbitrator.TaskID)                      {}
func (noopHost) Reclaimers(taskID arbitrator.TaskID) []vm.Reclaimable { return nil }
