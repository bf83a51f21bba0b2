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

// Package config holds the toml-tagged configuration surface for the merge
// and arbitration core, mirroring pkg/config's FrontendParameters shape.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// ShuffleCompressionKind names the exchange-source compression codec. It
// labels configuration and runtime stats, and selects the codec in
// merge.CompressPage/DecompressPage, which implement lz4 only.
type ShuffleCompressionKind string

const (
	CompressionNone ShuffleCompressionKind = "none"
	CompressionLZ4  ShuffleCompressionKind = "lz4"
	CompressionZstd ShuffleCompressionKind = "zstd"
)

// Config is the process-wide configuration surface, spec.md 6.
type Config struct {
	SpillEnabled             bool                   `toml:"spill_enabled"`
	JoinSpillEnabled         bool                   `toml:"join_spill_enabled"`
	WriterSpillEnabled       bool                   `toml:"writer_spill_enabled"`
	WriterFlushThresholdByte int64                  `toml:"writer_flush_threshold_bytes"`
	SpillNumPartitionBits    int                    `toml:"spill_num_partition_bits"`
	MaxMergeExchangeBufSize  int64                  `toml:"max_merge_exchange_buffer_size"`
	ShuffleCompressionKind   ShuffleCompressionKind `toml:"shuffle_compression_kind"`

	// Per-query caps.
	MemoryCapacity         int64 `toml:"memory_capacity"`
	MemoryPoolInitCapacity int64 `toml:"memory_pool_init_capacity"`
}

// Default returns the configuration used when no file is supplied,
// matching the conservative defaults documented alongside spec.md 6.
func Default() *Config {
	return &Config{
		SpillEnabled:             true,
		JoinSpillEnabled:         true,
		WriterSpillEnabled:       true,
		WriterFlushThresholdByte: 32 << 20,
		SpillNumPartitionBits:    3,
		MaxMergeExchangeBufSize:  32 << 20,
		ShuffleCompressionKind:   CompressionLZ4,
		MemoryCapacity:           4 << 30,
		MemoryPoolInitCapacity:   256 << 20,
	}
}

// Load decodes a toml configuration file, starting from Default() so any
// key the file omits keeps its default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
