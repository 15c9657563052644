// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package torrent

import "github.com/torrentkit/btcore/diskio"

// blockSource adapts a diskio.Backend to request.BlockSource, narrowing the
// backend's int64 offset to the int begin the wire protocol uses.
type blockSource struct {
	backend diskio.Backend
}

func (s blockSource) ReadBlock(piece, begin, length int) ([]byte, error) {
	return s.backend.ReadBlock(piece, int64(begin), length)
}
