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

// Package networkevent defines the typed event stream emitted as torrents
// and connections progress through their lifecycle, for offline debugging
// and analytics.
package networkevent

import (
	"encoding/json"
	"time"

	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/log"
)

// Name identifies the kind of a network event.
type Name string

// Possible event names.
const (
	Connected              Name = "connected"
	Disconnected           Name = "disconnected"
	Handshaked             Name = "handshaked"
	BitFieldReceived       Name = "bitfield_received"
	HavePieceReceived      Name = "have_piece_received"
	StateChanged           Name = "state_changed"
	PieceVerified          Name = "piece_verified"
	Completed              Name = "completed"
	IntegrityCheckComplete Name = "integrity_check_completed"
)

// Event consolidates the fields any event may carry. Unused fields are
// omitted from the JSON encoding.
type Event struct {
	Name     Name      `json:"event"`
	Torrent  string    `json:"torrent"`
	Self     string    `json:"self"`
	Time     time.Time `json:"ts"`

	Peer         string `json:"peer,omitempty"`
	Piece        int    `json:"piece,omitempty"`
	State        string `json:"state,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	ConnCapacity int    `json:"conn_capacity,omitempty"`
	Verified     bool   `json:"verified,omitempty"`
}

func baseEvent(name Name, h core.InfoHash, self core.PeerID) *Event {
	return &Event{
		Name:    name,
		Torrent: h.String(),
		Self:    self.String(),
		Time:    time.Now(),
	}
}

// JSON renders the event as a JSON string, for logging contexts that want
// a flattened representation.
func (e *Event) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		log.Errorf("networkevent: marshal error: %s", err)
		return ""
	}
	return string(b)
}

// ConnectedEvent reports that a TCP connection to peer was established.
func ConnectedEvent(h core.InfoHash, self, peer core.PeerID) *Event {
	e := baseEvent(Connected, h, self)
	e.Peer = peer.String()
	return e
}

// DisconnectedEvent reports that the connection to peer was torn down.
func DisconnectedEvent(h core.InfoHash, self, peer core.PeerID) *Event {
	e := baseEvent(Disconnected, h, self)
	e.Peer = peer.String()
	return e
}

// HandshakedEvent reports a completed BEP-3 handshake with peer.
func HandshakedEvent(h core.InfoHash, self, peer core.PeerID) *Event {
	e := baseEvent(Handshaked, h, self)
	e.Peer = peer.String()
	return e
}

// BitFieldReceivedEvent reports an inbound bitfield message from peer.
func BitFieldReceivedEvent(h core.InfoHash, self, peer core.PeerID) *Event {
	e := baseEvent(BitFieldReceived, h, self)
	e.Peer = peer.String()
	return e
}

// HavePieceReceivedEvent reports an inbound have message from peer for a
// given piece.
func HavePieceReceivedEvent(h core.InfoHash, self, peer core.PeerID, piece int) *Event {
	e := baseEvent(HavePieceReceived, h, self)
	e.Peer = peer.String()
	e.Piece = piece
	return e
}

// StateChangedEvent reports a torrent lifecycle transition.
func StateChangedEvent(h core.InfoHash, self core.PeerID, state string) *Event {
	e := baseEvent(StateChanged, h, self)
	e.State = state
	return e
}

// PieceVerifiedEvent reports the outcome of a piece's SHA-1 hash check.
func PieceVerifiedEvent(h core.InfoHash, self core.PeerID, piece int, verified bool) *Event {
	e := baseEvent(PieceVerified, h, self)
	e.Piece = piece
	e.Verified = verified
	return e
}

// CompletedEvent reports that every piece of the torrent has been verified.
func CompletedEvent(h core.InfoHash, self core.PeerID) *Event {
	return baseEvent(Completed, h, self)
}

// IntegrityCheckCompletedEvent reports the completion of a full-torrent
// integrity check, with how long it took.
func IntegrityCheckCompletedEvent(h core.InfoHash, self core.PeerID, dur time.Duration) *Event {
	e := baseEvent(IntegrityCheckComplete, h, self)
	e.DurationMS = dur.Milliseconds()
	return e
}
