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

// Package diskio defines the storage backend contract a Torrent reads
// blocks from and writes blocks to. Concrete backends (single-file,
// multi-file, sparse-allocated) are external collaborators, not shipped
// here.
package diskio

// Backend is the persistence contract a torrent downloads into and seeds
// from.
type Backend interface {
	// ReadBlock reads length bytes at the given piece-relative offset.
	ReadBlock(piece int, offset int64, length int) ([]byte, error)

	// WriteBlock writes data at the given piece-relative offset.
	WriteBlock(piece int, offset int64, data []byte) error

	// CreateEmpty allocates sparse storage for a torrent of the given
	// total size without necessarily reserving the space on disk.
	CreateEmpty(totalSize int64) error

	// CreateAllocated allocates storage for a torrent of the given total
	// size, reserving the full space on disk up front.
	CreateAllocated(totalSize int64) error
}
