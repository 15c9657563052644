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
package request

import (
	"sync"

	"github.com/torrentkit/btcore/core"
)

// BlockSource reads a block's data so it can be served to a peer.
type BlockSource interface {
	ReadBlock(piece, begin, length int) ([]byte, error)
}

// FlowGate reports whether a peer is currently allowed to be served:
// serving requires !choked_by_us && interested_by_remote.
type FlowGate interface {
	CanServe() bool
}

// Inbound manages the queue of block requests a single remote peer has
// made of us, gated by choke state and an upload-bandwidth admitter.
type Inbound struct {
	mu      sync.Mutex
	pending map[BlockKey]bool

	source  BlockSource
	flow    FlowGate
	admit   func(n int64) bool
	maxSize int
}

// NewInbound creates an Inbound pipeline serving reads from source,
// gated by flow and an upload admission check, rejecting any single
// request larger than maxSize.
func NewInbound(source BlockSource, flow FlowGate, admit func(n int64) bool, maxSize int) *Inbound {
	return &Inbound{
		pending: make(map[BlockKey]bool),
		source:  source,
		flow:    flow,
		admit:   admit,
		maxSize: maxSize,
	}
}

// Enqueue records an incoming request. Returns false if the request is
// invalid (oversized) and should be ignored entirely.
func (in *Inbound) Enqueue(peerID core.PeerID, piece, begin, length int) bool {
	if length <= 0 || length > in.maxSize {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending[BlockKey{Piece: piece, Block: begin}] = true
	return true
}

// Cancel removes a previously enqueued request, if present. Idempotent:
// canceling an unknown or already-served request is a no-op.
func (in *Inbound) Cancel(piece, begin int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.pending, BlockKey{Piece: piece, Block: begin})
}

// Serve attempts to serve the next pending request for piece/begin,
// subject to choke state and bandwidth admission. Returns the block data,
// or nil with ok=false if the request is no longer pending, we're
// currently choking the peer, or bandwidth admission rejected it.
func (in *Inbound) Serve(piece, begin, length int) (data []byte, ok bool) {
	in.mu.Lock()
	key := BlockKey{Piece: piece, Block: begin}
	if !in.pending[key] {
		in.mu.Unlock()
		return nil, false
	}
	delete(in.pending, key)
	in.mu.Unlock()

	if in.flow != nil && !in.flow.CanServe() {
		return nil, false
	}
	if in.admit != nil && !in.admit(int64(length)) {
		return nil, false
	}
	block, err := in.source.ReadBlock(piece, begin, length)
	if err != nil {
		return nil, false
	}
	return block, true
}

// Pending reports how many requests are currently queued.
func (in *Inbound) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}

// ClearAll drops every pending request, used when the connection closes.
func (in *Inbound) ClearAll() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending = make(map[BlockKey]bool)
}
