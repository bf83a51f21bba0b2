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
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/glutenproject/velox/config"
)

// CompressPage compresses a serialized page per kind. Only CompressionLZ4
// compresses; every other kind, CompressionZstd included, returns src
// unchanged. The page encoding itself stays out of scope.
func CompressPage(kind config.ShuffleCompressionKind, src []byte) ([]byte, error) {
	switch kind {
	case config.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return src, nil
	}
}

// DecompressPage reverses CompressPage.
func DecompressPage(kind config.ShuffleCompressionKind, src []byte) ([]byte, error) {
	switch kind {
	case config.CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(src))
		return io.ReadAll(r)
	default:
		return src, nil
	}
}
