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
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/torrentkit/btcore/conn"
	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/networkevent"
	"github.com/torrentkit/btcore/piece"
	"github.com/torrentkit/btcore/ratelimit"
	"github.com/torrentkit/btcore/request"
	"github.com/torrentkit/btcore/tracker"
	"github.com/torrentkit/btcore/wire"
)

// fakeBackend is an in-memory diskio.Backend sized for a fixed set of
// piece lengths, for exercising Torrent without a real file store.
type fakeBackend struct {
	mu     sync.Mutex
	pieces map[int][]byte
}

func newFakeBackend(lengths []int) *fakeBackend {
	b := &fakeBackend{pieces: make(map[int][]byte)}
	for i, l := range lengths {
		b.pieces[i] = make([]byte, l)
	}
	return b
}

func (b *fakeBackend) ReadBlock(piece int, offset int64, length int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.pieces[piece]
	out := make([]byte, length)
	copy(out, data[offset:int(offset)+length])
	return out, nil
}

func (b *fakeBackend) WriteBlock(piece int, offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.pieces[piece][offset:], data)
	return nil
}

func (b *fakeBackend) CreateEmpty(totalSize int64) error     { return nil }
func (b *fakeBackend) CreateAllocated(totalSize int64) error { return nil }

func testMetaData(t *testing.T, pieceLen int64, content []byte) core.TorrentMetaData {
	var ihBytes [20]byte
	ih, err := core.NewInfoHashFromBytes(ihBytes[:])
	require.NoError(t, err)

	numPieces := (int64(len(content)) + pieceLen - 1) / pieceLen
	sums := make([][20]byte, numPieces)
	for i := int64(0); i < numPieces; i++ {
		start := i * pieceLen
		end := start + pieceLen
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		sums[i] = sha1.Sum(content[start:end])
	}

	files := []core.FileEntry{{RelativePath: "data.bin", Size: int64(len(content))}}
	return core.NewStaticMetaData(ih, pieceLen, sums, files, false, nil)
}

func newTestTorrent(t *testing.T, md core.TorrentMetaData, backend *fakeBackend, clk clock.Clock) *Torrent {
	tor, err := New(md, backend, tracker.NoopGroup{}, core.NonePeerID, Config{}, networkevent.NoopProducer(), tally.NoopScope, clk, nil)
	require.NoError(t, err)
	return tor
}

func TestIntegrityCheckMarksSeedingWhenDataValid(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	copy(backend.pieces[0], content[0:8])
	copy(backend.pieces[1], content[8:16])

	md := testMetaData(t, 8, content)
	clk := clock.NewMock()
	tor := newTestTorrent(t, md, backend, clk)

	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	require.True(tor.Complete())
	require.Equal(Seeding, tor.State())
}

func TestIntegrityCheckStaysDownloadingWhenDataMissing(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	copy(backend.pieces[0], content[0:8])
	// piece 1 left as zeros, intentionally wrong.

	md := testMetaData(t, 8, content)
	clk := clock.NewMock()
	tor := newTestTorrent(t, md, backend, clk)

	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	require.False(tor.Complete())
	require.Equal(Downloading, tor.State())
	require.Equal("complete", tor.pieces[0].Status().String())
	require.Equal("incomplete", tor.pieces[1].Status().String())
}

func newPipeConn(t *testing.T, local net.Conn, clk clock.Clock, infoHash core.InfoHash, self, remote core.PeerID) *conn.Conn {
	l, err := ratelimit.NewLimiter(ratelimit.Config{Enable: false})
	require.NoError(t, err)
	c, err := conn.New(
		conn.Config{},
		tally.NoopScope,
		clk,
		networkevent.NoopProducer(),
		l,
		discardEvents{},
		local,
		self,
		remote,
		infoHash,
		false,
		zap.NewNop().Sugar(),
	)
	require.NoError(t, err)
	return c
}

type discardEvents struct{}

func (discardEvents) ConnClosed(*conn.Conn) {}

func TestAddPeerSendsOurBitfield(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	copy(backend.pieces[0], content[0:8])
	copy(backend.pieces[1], content[8:16])

	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)

	tor.AddPeer(c)

	select {
	case msg := <-readRaw(t, client):
		require.Equal(wire.BitFieldID, msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bitfield")
	}
}

// readRaw reads one wire.Message off the client side of a pipe driven by
// the peer's write loop.
func readRaw(t *testing.T, nc net.Conn) <-chan *wire.Message {
	out := make(chan *wire.Message, 1)
	go func() {
		msg, err := wire.ReadMessageWithTimeout(nc, 5*time.Second)
		require.NoError(t, err)
		out <- msg
	}()
	return out
}

func TestHandlePieceCompletesAndBroadcastsHave(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	copy(backend.pieces[0], content[0:8])
	// piece 1 missing.

	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	require.Equal(Downloading, tor.State())

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	// Drain the bitfield we sent so it doesn't interfere with the read
	// below.
	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	// A Piece message is only accepted against a block we actually
	// reserved to this peer.
	tor.requests.Reserve(p.ID(), []request.BlockKey{{Piece: 1, Block: 0}}, false)

	msg := wire.NewPiece(1, 0, content[8:16])
	require.NoError(tor.handlePiece(p, msg))

	require.True(tor.Complete())
	require.Equal(Seeding, tor.State())

	have, err := wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)
	require.Equal(wire.Have, have.ID)
	require.Equal(1, have.PieceIndex)
}

func TestHandlePieceRejectsUnsolicitedData(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	copy(backend.pieces[0], content[0:8])
	// piece 1 missing.

	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	// No Reserve call was made for piece 1 block 0: this Piece message is
	// unsolicited and must not be written or counted.
	msg := wire.NewPiece(1, 0, content[8:16])
	require.NoError(tor.handlePiece(p, msg))

	require.False(tor.Complete())
	require.Equal(Downloading, tor.State())
}

func TestUpdateChokeStateUnchokesInterestedPeer(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	require.True(p.Conn().Flow().ChokedByUs())
	p.Conn().Flow().SetInterestedByRemote(true)

	tor.updateChokeState(p)

	require.False(p.Conn().Flow().ChokedByUs())
	msg, err := wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)
	require.Equal(wire.Unchoke, msg.ID)
}

func TestUpdateChokeStateChokesUninterestedPeer(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	// Unchoke it first so the choke transition below is a genuine change.
	p.Conn().Flow().SetChokedByUs(false)

	tor.updateChokeState(p)

	require.True(p.Conn().Flow().ChokedByUs())
	msg, err := wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)
	require.Equal(wire.Choke, msg.ID)
}

func TestChokeFromRemoteCancelsOutgoingRequests(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	// Establish a baseline where the peer has unchoked us and we have an
	// outstanding request, so the Choke below is a genuine transition.
	p.Conn().Flow().SetChokedByRemote(false)
	tor.requests.Reserve(p.ID(), []request.BlockKey{{Piece: 0, Block: 0}}, false)
	tor.pieces[0].Blocks()[0].MarkRequested()

	require.NoError(tor.handleMessage(p, wire.NewChoke()))

	require.True(p.Conn().Flow().ChokedByRemote())
	require.Empty(tor.requests.PendingKeys(p.ID()))

	msg, err := wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)
	require.Equal(wire.Cancel, msg.ID)
	require.Equal(0, msg.Index)
	require.Equal(0, msg.Begin)
}

func TestHandleRequestRejectsUnverifiedPiece(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	// Neither piece written: both remain unverified.
	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	p.Conn().Flow().SetChokedByUs(false)

	msg := wire.NewRequest(0, 0, 8)
	require.NoError(tor.handleRequest(p, msg))

	// No Piece response should have been written back.
	select {
	case <-readRaw(t, client):
		t.Fatal("unexpected message sent for unverified piece request")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleRequestRejectsOutOfRangeBlock(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	copy(backend.pieces[0], content[0:8])
	copy(backend.pieces[1], content[8:16])

	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	require.True(tor.Complete())

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	p.Conn().Flow().SetChokedByUs(false)

	// Requests a length extending past the piece's 8-byte size.
	msg := wire.NewRequest(0, 4, 8)
	require.NoError(tor.handleRequest(p, msg))

	select {
	case <-readRaw(t, client):
		t.Fatal("unexpected message sent for out-of-range block request")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleRequestRejectsWhileChoking(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	copy(backend.pieces[0], content[0:8])
	copy(backend.pieces[1], content[8:16])

	md := testMetaData(t, 8, content)
	clk := clock.New()
	tor := newTestTorrent(t, md, backend, clk)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	// Default FlowState starts chokedByUs == true: don't unchoke.
	require.True(p.Conn().Flow().ChokedByUs())

	msg := wire.NewRequest(0, 0, 8)
	require.NoError(tor.handleRequest(p, msg))

	select {
	case <-readRaw(t, client):
		t.Fatal("unexpected message sent while choking")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTickCancelsExpiredRequests(t *testing.T) {
	require := require.New(t)

	content := []byte("abcdefgh12345678")
	backend := newFakeBackend([]int{8, 8})
	md := testMetaData(t, 8, content)
	clk := clock.New()

	cfg := Config{PieceRequestTimeout: 50 * time.Millisecond}
	tor, err := New(md, backend, tracker.NoopGroup{}, core.NonePeerID, cfg, networkevent.NoopProducer(), tally.NoopScope, clk, nil)
	require.NoError(err)
	tor.wg.Add(1)
	tor.runIntegrityCheck()
	defer tor.Stop()

	client, server := net.Pipe()
	defer client.Close()

	remotePeerID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)
	c := newPipeConn(t, server, clk, tor.InfoHash(), tor.localPeerID, remotePeerID)
	p := tor.AddPeer(c)

	_, err = wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)

	tor.requests.Reserve(p.ID(), []request.BlockKey{{Piece: 0, Block: 0}}, false)
	tor.pieces[0].Blocks()[0].MarkRequested()

	time.Sleep(100 * time.Millisecond)
	tor.tick()

	require.Empty(tor.requests.PendingKeys(p.ID()))
	require.Equal(piece.BlockEmpty, tor.pieces[0].Blocks()[0].Status())

	msg, err := wire.ReadMessageWithTimeout(client, 2*time.Second)
	require.NoError(err)
	require.Equal(wire.Cancel, msg.ID)
}
