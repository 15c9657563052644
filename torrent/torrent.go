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
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"golang.org/x/sync/syncmap"

	"github.com/torrentkit/btcore/bitfield"
	"github.com/torrentkit/btcore/conn"
	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/diskio"
	"github.com/torrentkit/btcore/log"
	"github.com/torrentkit/btcore/networkevent"
	"github.com/torrentkit/btcore/piece"
	"github.com/torrentkit/btcore/pieceselect"
	"github.com/torrentkit/btcore/request"
	"github.com/torrentkit/btcore/tracker"
	"github.com/torrentkit/btcore/wire"
)

// Torrent orchestrates the download/seed of a single piece of content: it
// owns the piece table, the set of connected peers, outgoing request
// bookkeeping, and the periodic tick that drives piece selection.
type Torrent struct {
	metaData core.TorrentMetaData
	backend  diskio.Backend
	trackers tracker.Group
	config   Config

	localPeerID core.PeerID

	netEvents networkevent.Producer
	stats     tally.Scope
	clk       clock.Clock

	pieces    []*piece.Piece
	fileTable *piece.FileTable

	selector *pieceselect.AvailableThenRarestFirstSelector
	requests *request.Manager
	admit    func(n int64) bool

	mu          sync.RWMutex
	state       State
	numComplete *atomic.Int32

	peers syncmap.Map // core.PeerID -> *Peer

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Torrent in the Inactive state. admit is consulted before
// serving any outgoing block (pass nil to admit unconditionally -- callers
// wanting upload bandwidth limits should supply a ratelimit.Group's
// TryAdmit method).
func New(
	metaData core.TorrentMetaData,
	backend diskio.Backend,
	trackers tracker.Group,
	localPeerID core.PeerID,
	config Config,
	netEvents networkevent.Producer,
	stats tally.Scope,
	clk clock.Clock,
	admit func(n int64) bool) (*Torrent, error) {

	config = config.applyDefaults()

	numPieces := metaData.PieceCount()
	if numPieces == 0 {
		return nil, fmt.Errorf("torrent: metadata has no pieces")
	}
	pieces := make([]*piece.Piece, numPieces)
	for i := 0; i < numPieces; i++ {
		pieces[i] = piece.New(i, metaData.PieceLength(i), metaData.PieceHash(i), piece.DefaultBlockSize)
	}

	fileEntries := metaData.Files()
	files := make([]piece.File, len(fileEntries))
	for i, f := range fileEntries {
		files[i] = piece.File{RelativePath: f.RelativePath, Size: f.Size}
	}

	t := &Torrent{
		metaData:    metaData,
		backend:     backend,
		trackers:    trackers,
		config:      config,
		localPeerID: localPeerID,
		netEvents:   netEvents,
		stats:       stats,
		clk:         clk,
		pieces:      pieces,
		fileTable:   piece.NewFileTable(files),
		selector:    pieceselect.NewSelector(),
		requests:    request.NewManager(clk, config.PieceRequestTimeout, config.MaxConcurrentPieceRequests),
		admit:       admit,
		state:       Inactive,
		numComplete: atomic.NewInt32(0),
		closed:      atomic.NewBool(false),
		done:        make(chan struct{}),
	}
	return t, nil
}

// InfoHash returns the torrent's content identity.
func (t *Torrent) InfoHash() core.InfoHash {
	return t.metaData.InfoHash()
}

// State returns the torrent's current lifecycle state.
func (t *Torrent) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Torrent) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.netEvents.Produce(networkevent.StateChangedEvent(t.InfoHash(), t.localPeerID, s.String()))
	log.Infof("torrent %s entering state %s", t.InfoHash(), s)
}

// NumPieces returns the number of pieces in the torrent.
func (t *Torrent) NumPieces() int {
	return len(t.pieces)
}

// Complete reports whether every piece has been verified.
func (t *Torrent) Complete() bool {
	return int(t.numComplete.Load()) == len(t.pieces)
}

// Bitfield returns a snapshot of which pieces are complete.
func (t *Torrent) Bitfield() *bitfield.BitField {
	bf := bitfield.New(len(t.pieces))
	for _, p := range t.pieces {
		if p.Status() == piece.Complete {
			bf.Set(p.Index, true)
		}
	}
	return bf
}

// Start begins integrity checking and, once it completes, begins the tick
// loop that drives piece selection and request scheduling.
func (t *Torrent) Start() {
	t.setState(IntegrityChecking)
	t.wg.Add(1)
	go t.runIntegrityCheck()
}

func (t *Torrent) runIntegrityCheck() {
	defer t.wg.Done()

	start := t.clk.Now()
	for _, p := range t.pieces {
		verified := t.verifyPiece(p)
		t.netEvents.Produce(networkevent.PieceVerifiedEvent(t.InfoHash(), t.localPeerID, p.Index, verified))
		if verified {
			p.SetStatus(piece.Complete)
			t.numComplete.Inc()
		}
	}
	t.netEvents.Produce(networkevent.IntegrityCheckCompletedEvent(t.InfoHash(), t.localPeerID, t.clk.Now().Sub(start)))

	if t.Complete() {
		t.setState(Seeding)
		t.netEvents.Produce(networkevent.CompletedEvent(t.InfoHash(), t.localPeerID))
		t.trackers.Announce(core.AnnounceCompleted)
	} else {
		t.setState(Downloading)
		t.trackers.Announce(core.AnnounceStarted)
	}

	t.wg.Add(1)
	go t.tickLoop()
}

// verifyPiece reads a piece's full content back from the backend and
// checks it against the expected SHA-1 hash.
func (t *Torrent) verifyPiece(p *piece.Piece) bool {
	data, err := t.backend.ReadBlock(p.Index, 0, int(p.Length))
	if err != nil {
		return false
	}
	if sha1.Sum(data) != p.Hash {
		return false
	}
	return true
}

func (t *Torrent) tickLoop() {
	defer t.wg.Done()

	ticker := t.clk.Ticker(t.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.tick()
		case <-t.done:
			return
		}
	}
}

// tick drives one round of choke/unchoke decisions, request expiry, and
// outgoing request scheduling across all connected peers.
func (t *Torrent) tick() {
	t.expireFailedRequests()

	totalPeers := t.PeerCount()

	for _, p := range t.connectedPeers() {
		t.updateChokeState(p)

		if !p.Conn().Flow().CanRequest() {
			continue
		}
		t.scheduleRequests(p, totalPeers)
	}
}

// updateChokeState applies the BEP-3 unchoke policy: unchoke a peer that
// has become interested, choke one that is no longer interested.
func (t *Torrent) updateChokeState(p *Peer) {
	flow := p.Conn().Flow()
	switch {
	case flow.InterestedByRemote() && flow.ChokedByUs():
		flow.SetChokedByUs(false)
		p.Conn().Send(wire.NewUnchoke())
	case !flow.InterestedByRemote() && !flow.ChokedByUs():
		flow.SetChokedByUs(true)
		p.Conn().Send(wire.NewChoke())
	}
}

// expireFailedRequests cancels every request the manager considers no
// longer pending (timed out, marked unsent after a failed send, or marked
// invalid after a Piece message whose offset or length did not match the
// block), resetting the
// corresponding block so it becomes eligible for re-selection.
func (t *Torrent) expireFailedRequests() {
	for _, r := range t.requests.FailedRequests() {
		pc := t.pieces[r.Key.Piece]
		block := pc.Blocks()[r.Key.Block]
		block.Reset()
		t.requests.Clear(r.Key)
		if peer, ok := t.peerByID(r.PeerID); ok {
			peer.Conn().Send(wire.NewCancel(r.Key.Piece, int(block.Offset), block.Length))
		}
	}
}

// peerByID looks up a connected peer by id.
func (t *Torrent) peerByID(id core.PeerID) (*Peer, bool) {
	v, ok := t.peers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Peer), true
}

func (t *Torrent) scheduleRequests(p *Peer, totalPeers int) {
	var candidates []pieceselect.PieceInfo
	for _, pc := range t.pieces {
		if pc.Status() == piece.Complete {
			continue
		}
		if !p.HasPiece(pc.Index) {
			continue
		}
		candidates = append(candidates, pieceselect.FromPiece(pc))
	}
	if len(candidates) == 0 {
		return
	}

	endgame := t.isEndgame()
	valid := func(idx int) bool { return t.pieces[idx].Status() != piece.Complete }

	selected, err := t.selector.Select(t.config.MaxConcurrentPieceRequests, candidates, totalPeers, valid)
	if err != nil {
		log.Errorf("torrent %s: select pieces: %s", t.InfoHash(), err)
		return
	}

	var blockCandidates []request.BlockKey
	for _, idx := range selected {
		pc := t.pieces[idx]
		for _, b := range pc.Blocks() {
			if b.Status() == piece.BlockWritten {
				continue
			}
			blockCandidates = append(blockCandidates, request.BlockKey{Piece: idx, Block: b.Index})
		}
	}

	reserved := t.requests.Reserve(p.ID(), blockCandidates, endgame)
	for _, key := range reserved {
		pc := t.pieces[key.Piece]
		block := pc.Blocks()[key.Block]
		block.MarkRequested()
		msg := wire.NewRequest(key.Piece, int(block.Offset), block.Length)
		if err := p.Conn().Send(msg); err != nil {
			t.requests.MarkUnsent(p.ID(), key)
		}
	}
}

// isEndgame reports whether few enough pieces remain that duplicate
// requests across peers are permitted to finish faster.
func (t *Torrent) isEndgame() bool {
	remaining := len(t.pieces) - int(t.numComplete.Load())
	return float64(remaining)/float64(len(t.pieces)) <= t.config.EndgameThreshold
}

// AddPeer registers a newly handshaked connection and starts exchanging
// messages with it.
func (t *Torrent) AddPeer(c *conn.Conn) *Peer {
	p := newPeer(c, len(t.pieces), t.clk, blockSource{t.backend}, t.admit, piece.DefaultBlockSize)

	t.peers.Store(c.PeerID(), p)

	c.Start()
	t.netEvents.Produce(networkevent.HandshakedEvent(t.InfoHash(), t.localPeerID, c.PeerID()))

	if bf := t.Bitfield(); bf.Count() > 0 {
		c.Send(wire.NewBitField(bf.MarshalWire()))
	}

	t.wg.Add(1)
	go t.servePeer(p)

	return p
}

// RemovePeer drops all bookkeeping for a disconnected peer.
func (t *Torrent) RemovePeer(id core.PeerID) {
	t.peers.Delete(id)

	t.requests.ClearPeer(id)
	t.netEvents.Produce(networkevent.DisconnectedEvent(t.InfoHash(), t.localPeerID, id))
}

// PeerCount returns the number of currently connected peers.
func (t *Torrent) PeerCount() int {
	n := 0
	t.peers.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (t *Torrent) connectedPeers() []*Peer {
	var out []*Peer
	t.peers.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Peer))
		return true
	})
	return out
}

// servePeer reads messages off a peer's connection until it closes.
func (t *Torrent) servePeer(p *Peer) {
	defer t.wg.Done()
	defer t.RemovePeer(p.ID())

	for {
		select {
		case msg, ok := <-p.Conn().Receiver():
			if !ok {
				return
			}
			if msg == nil {
				continue // keep-alive
			}
			if err := t.handleMessage(p, msg); err != nil {
				log.Warnf("torrent %s: peer %s: %s", t.InfoHash(), p.ID(), err)
			}
		case <-t.done:
			return
		}
	}
}

func (t *Torrent) handleMessage(p *Peer, msg *wire.Message) error {
	switch msg.ID {
	case wire.Choke:
		if p.Conn().Flow().SetChokedByRemote(true) {
			t.cancelAllRequests(p)
		}
	case wire.Unchoke:
		p.Conn().Flow().SetChokedByRemote(false)
	case wire.Interested:
		p.Conn().Flow().SetInterestedByRemote(true)
	case wire.NotInterested:
		p.Conn().Flow().SetInterestedByRemote(false)
	case wire.Have:
		if p.SetHave(msg.PieceIndex) {
			t.netEvents.Produce(networkevent.HavePieceReceivedEvent(t.InfoHash(), t.localPeerID, p.ID(), msg.PieceIndex))
			t.maybeExpressInterest(p)
		}
	case wire.BitFieldID:
		bf, err := bitfield.UnmarshalWire(msg.BitField, len(t.pieces))
		if err != nil {
			return fmt.Errorf("unmarshal bitfield: %s", err)
		}
		p.SetBitfield(bf)
		t.netEvents.Produce(networkevent.BitFieldReceivedEvent(t.InfoHash(), t.localPeerID, p.ID()))
		t.maybeExpressInterest(p)
	case wire.Request:
		return t.handleRequest(p, msg)
	case wire.Cancel:
		p.Inbound().Cancel(msg.Index, msg.Begin)
	case wire.Piece:
		return t.handlePiece(p, msg)
	case wire.Port:
		// DHT not implemented; nothing to do with the advertised port.
	default:
		return fmt.Errorf("unhandled message id %s", msg.ID)
	}
	return nil
}

func (t *Torrent) maybeExpressInterest(p *Peer) {
	for _, pc := range t.pieces {
		if pc.Status() != piece.Complete && p.HasPiece(pc.Index) {
			if p.Conn().Flow().SetInterestedByUs(true) {
				p.Conn().Send(wire.NewInterested())
			}
			return
		}
	}
	if p.Conn().Flow().SetInterestedByUs(false) {
		p.Conn().Send(wire.NewNotInterested())
	}
}

// cancelAllRequests cancels every outstanding request to p, resetting the
// corresponding blocks and emitting a wire Cancel for each. Called when p
// chokes us, since none of those requests will ever be answered.
func (t *Torrent) cancelAllRequests(p *Peer) {
	for _, key := range t.requests.PendingKeys(p.ID()) {
		pc := t.pieces[key.Piece]
		block := pc.Blocks()[key.Block]
		block.Reset()
		p.Conn().Send(wire.NewCancel(key.Piece, int(block.Offset), block.Length))
	}
	t.requests.ClearPeer(p.ID())
}

func (t *Torrent) handleRequest(p *Peer, msg *wire.Message) error {
	if msg.Index < 0 || msg.Index >= len(t.pieces) {
		return fmt.Errorf("requested piece index %d out of range", msg.Index)
	}
	pc := t.pieces[msg.Index]
	if pc.Status() != piece.Complete {
		log.Warnf("torrent %s: peer %s requested unverified piece %d", t.InfoHash(), p.ID(), msg.Index)
		return nil
	}
	if msg.Begin < 0 || msg.Length <= 0 || int64(msg.Begin)+int64(msg.Length) > pc.Length {
		log.Warnf("torrent %s: peer %s requested out-of-range block (piece %d, begin %d, length %d)",
			t.InfoHash(), p.ID(), msg.Index, msg.Begin, msg.Length)
		return nil
	}
	if p.Conn().Flow().ChokedByUs() {
		log.Warnf("torrent %s: peer %s requested a block while choked", t.InfoHash(), p.ID())
		return nil
	}
	if !p.Inbound().Enqueue(p.ID(), msg.Index, msg.Begin, msg.Length) {
		return nil
	}
	data, ok := p.Inbound().Serve(msg.Index, msg.Begin, msg.Length)
	if !ok {
		return nil
	}
	p.Upload().Record(int64(len(data)))
	return p.Conn().Send(wire.NewPiece(msg.Index, msg.Begin, data))
}

func (t *Torrent) handlePiece(p *Peer, msg *wire.Message) error {
	if msg.Index < 0 || msg.Index >= len(t.pieces) {
		return fmt.Errorf("piece index %d out of range", msg.Index)
	}
	pc := t.pieces[msg.Index]
	blockIdx := blockIndexFor(pc, msg.Begin)
	if blockIdx < 0 || blockIdx >= pc.BlockCount() {
		return fmt.Errorf("piece %d: block offset %d out of range", msg.Index, msg.Begin)
	}
	block := pc.Blocks()[blockIdx]
	key := request.BlockKey{Piece: msg.Index, Block: blockIdx}

	if int64(msg.Begin) != block.Offset || len(msg.Block) != block.Length {
		t.requests.MarkInvalid(p.ID(), key)
		log.Warnf("torrent %s: peer %s sent mismatched piece (piece %d, begin %d, length %d)",
			t.InfoHash(), p.ID(), msg.Index, msg.Begin, len(msg.Block))
		return nil
	}
	if !t.requests.Accept(p.ID(), key) {
		log.Warnf("torrent %s: peer %s sent unsolicited piece (piece %d, begin %d)",
			t.InfoHash(), p.ID(), msg.Index, msg.Begin)
		return nil
	}

	if err := t.backend.WriteBlock(msg.Index, int64(msg.Begin), msg.Block); err != nil {
		return fmt.Errorf("write block: %s", err)
	}
	p.Download().Record(int64(len(msg.Block)))

	if !block.MarkDownloaded() {
		return nil
	}
	block.MarkWritten()

	if pc.AllBlocksWritten() {
		t.completePiece(pc)
	}
	return nil
}

func (t *Torrent) completePiece(pc *piece.Piece) {
	if t.verifyPiece(pc) {
		pc.SetStatus(piece.Complete)
		t.numComplete.Inc()
		t.netEvents.Produce(networkevent.PieceVerifiedEvent(t.InfoHash(), t.localPeerID, pc.Index, true))
		for _, p := range t.connectedPeers() {
			p.Conn().Send(wire.NewHave(pc.Index))
		}
		if t.Complete() {
			t.setState(Seeding)
			t.netEvents.Produce(networkevent.CompletedEvent(t.InfoHash(), t.localPeerID))
			t.trackers.Announce(core.AnnounceCompleted)
		}
	} else {
		pc.ResetOnVerificationFailure()
		t.netEvents.Produce(networkevent.PieceVerifiedEvent(t.InfoHash(), t.localPeerID, pc.Index, false))
	}
}

// blockIndexFor maps a piece-relative byte offset back to its block index.
func blockIndexFor(pc *piece.Piece, begin int) int {
	return begin / piece.DefaultBlockSize
}

// Stop shuts down the tick loop and all peer connections.
func (t *Torrent) Stop() {
	if !t.closed.CAS(false, true) {
		return
	}
	close(t.done)
	for _, p := range t.connectedPeers() {
		p.Conn().Close()
	}
	t.wg.Wait()
	t.trackers.Announce(core.AnnounceStopped)
}
