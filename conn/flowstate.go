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

// Package conn implements a single peer connection whose handshake has
// already been exchanged (see the wire package): the choke/interest
// flow-control state machine, and the read/write goroutines that move
// messages between the socket and the rest of the program.
package conn

import "sync"

// FlowState holds the four choke/interest booleans that govern whether
// piece data may flow in either direction over a connection.
// Safe for concurrent use: an internal RWMutex guards the four booleans.
type FlowState struct {
	mu sync.RWMutex

	// chokedByUs is true if we are not currently sending pieces to the
	// remote peer.
	chokedByUs bool

	// interestedByUs is true if we want pieces the remote peer has.
	interestedByUs bool

	// chokedByRemote is true if the remote peer is not currently sending us
	// pieces.
	chokedByRemote bool

	// interestedByRemote is true if the remote peer wants pieces we have.
	interestedByRemote bool
}

// NewFlowState creates a FlowState in the BEP-3 initial state: both sides
// choked, neither side interested.
func NewFlowState() *FlowState {
	return &FlowState{chokedByUs: true, chokedByRemote: true}
}

// ChokedByUs reports whether we are choking the remote peer.
func (f *FlowState) ChokedByUs() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.chokedByUs
}

// SetChokedByUs updates whether we are choking the remote peer. Returns
// true if this was a change from the prior state.
func (f *FlowState) SetChokedByUs(v bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.chokedByUs != v
	f.chokedByUs = v
	return changed
}

// InterestedByUs reports whether we are interested in the remote peer's
// pieces.
func (f *FlowState) InterestedByUs() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.interestedByUs
}

// SetInterestedByUs updates our interest in the remote peer. Returns true
// if this was a change from the prior state.
func (f *FlowState) SetInterestedByUs(v bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.interestedByUs != v
	f.interestedByUs = v
	return changed
}

// ChokedByRemote reports whether the remote peer is choking us.
func (f *FlowState) ChokedByRemote() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.chokedByRemote
}

// SetChokedByRemote records a choke/unchoke message from the remote peer.
// Returns true if this was a change from the prior state.
func (f *FlowState) SetChokedByRemote(v bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.chokedByRemote != v
	f.chokedByRemote = v
	return changed
}

// InterestedByRemote reports whether the remote peer is interested in our
// pieces.
func (f *FlowState) InterestedByRemote() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.interestedByRemote
}

// SetInterestedByRemote records an interested/not-interested message from
// the remote peer. Returns true if this was a change from the prior state.
func (f *FlowState) SetInterestedByRemote(v bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.interestedByRemote != v
	f.interestedByRemote = v
	return changed
}

// CanRequest reports whether we are currently allowed to request pieces
// from the remote peer: we must be interested and they must not be
// choking us.
func (f *FlowState) CanRequest() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.interestedByUs && !f.chokedByRemote
}

// CanServe reports whether we are currently allowed to serve piece
// requests from the remote peer: we must not be choking them and they
// must be interested.
func (f *FlowState) CanServe() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.chokedByUs && f.interestedByRemote
}
