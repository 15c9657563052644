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

import (
	"sync"

	"github.com/andres-erbsen/clock"

	"github.com/torrentkit/btcore/bitfield"
	"github.com/torrentkit/btcore/conn"
	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/ratemeasure"
	"github.com/torrentkit/btcore/request"
)

// Peer tracks one remote peer's state within the context of a single
// torrent: its connection, advertised piece availability, inbound request
// queue, and throughput.
type Peer struct {
	id   core.PeerID
	conn *conn.Conn

	mu       sync.RWMutex
	bitfield *bitfield.BitField

	inbound *request.Inbound

	download *ratemeasure.RateMeasurer
	upload   *ratemeasure.RateMeasurer
}

// newPeer creates a Peer with an empty bitfield of the given piece count.
// source and admit back the peer's inbound request queue: source reads
// block data to serve, admit applies torrent-wide bandwidth limits, and
// maxBlockSize rejects oversized requests outright.
func newPeer(
	c *conn.Conn,
	numPieces int,
	clk clock.Clock,
	source request.BlockSource,
	admit func(n int64) bool,
	maxBlockSize int) *Peer {

	return &Peer{
		id:       c.PeerID(),
		conn:     c,
		bitfield: bitfield.New(numPieces),
		inbound:  request.NewInbound(source, c.Flow(), admit, maxBlockSize),
		download: ratemeasure.New(clk),
		upload:   ratemeasure.New(clk),
	}
}

// ID returns the peer's id.
func (p *Peer) ID() core.PeerID {
	return p.id
}

// Conn returns the underlying connection.
func (p *Peer) Conn() *conn.Conn {
	return p.conn
}

// Bitfield returns a copy of the peer's last known piece availability.
func (p *Peer) Bitfield() *bitfield.BitField {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bitfield.Clone()
}

// SetBitfield copies bf into the peer's existing bitfield, as received in
// a BitField message immediately following the handshake. The peer keeps
// the same BitField object.
func (p *Peer) SetBitfield(bf *bitfield.BitField) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bitfield.CopyFrom(bf)
}

// SetHave marks a single piece as available on this peer, as received in a
// Have message. Returns whether the piece was newly marked.
func (p *Peer) SetHave(piece int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if piece < 0 || piece >= p.bitfield.Len() {
		return false
	}
	if p.bitfield.Get(piece) {
		return false
	}
	p.bitfield.Set(piece, true)
	return true
}

// HasPiece reports whether the peer has advertised piece i.
func (p *Peer) HasPiece(i int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= p.bitfield.Len() {
		return false
	}
	return p.bitfield.Get(i)
}

// Download returns the peer's inbound throughput measurer.
func (p *Peer) Download() *ratemeasure.RateMeasurer {
	return p.download
}

// Upload returns the peer's outbound throughput measurer.
func (p *Peer) Upload() *ratemeasure.RateMeasurer {
	return p.upload
}

// Inbound returns the peer's incoming request queue.
func (p *Peer) Inbound() *request.Inbound {
	return p.inbound
}
