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

// Package torrent implements the per-torrent orchestrator: lifecycle
// state, peer bookkeeping, the periodic tick loop driving piece selection
// and request expiry, and SHA-1 integrity checking.
package torrent

// State is the lifecycle state of a Torrent.
type State int

// Possible State values.
const (
	Inactive State = iota
	IntegrityChecking
	Downloading
	Seeding
)

func (s State) String() string {
	switch s {
	case IntegrityChecking:
		return "integrity_checking"
	case Downloading:
		return "downloading"
	case Seeding:
		return "seeding"
	default:
		return "inactive"
	}
}
