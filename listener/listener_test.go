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
package listener

import (
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/diskio"
	"github.com/torrentkit/btcore/networkevent"
	"github.com/torrentkit/btcore/ratelimit"
	"github.com/torrentkit/btcore/torrent"
	"github.com/torrentkit/btcore/tracker"
	"github.com/torrentkit/btcore/wire"
)

type nullBackend struct{}

func (nullBackend) ReadBlock(piece int, offset int64, length int) ([]byte, error) {
	return make([]byte, length), nil
}
func (nullBackend) WriteBlock(piece int, offset int64, data []byte) error { return nil }
func (nullBackend) CreateEmpty(totalSize int64) error                     { return nil }
func (nullBackend) CreateAllocated(totalSize int64) error                 { return nil }

type staticRegistry struct {
	h core.InfoHash
	t *torrent.Torrent
}

func (r staticRegistry) Torrent(h core.InfoHash) (*torrent.Torrent, bool) {
	if h != r.h {
		return nil, false
	}
	return r.t, true
}

func noLimiter(t *testing.T) *ratelimit.Limiter {
	l, err := ratelimit.NewLimiter(ratelimit.Config{Enable: false})
	require.NoError(t, err)
	return l
}

func TestListenerRoutesKnownInfoHash(t *testing.T) {
	require := require.New(t)

	var ihBytes [20]byte
	ihBytes[0] = 7
	ih, err := core.NewInfoHashFromBytes(ihBytes[:])
	require.NoError(err)

	sums := [][20]byte{{}}
	md := core.NewStaticMetaData(ih, 8, sums, []core.FileEntry{{RelativePath: "f", Size: 8}}, false, nil)

	selfID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)

	tor, err := torrent.New(md, nullBackend{}, tracker.NoopGroup{}, selfID, torrent.Config{}, networkevent.NoopProducer(), tally.NoopScope, clock.New(), nil)
	require.NoError(err)

	l, err := New(
		Config{ListenPort: 0},
		selfID,
		staticRegistry{h: ih, t: tor},
		tally.NoopScope,
		clock.New(),
		networkevent.NoopProducer(),
		noLimiter(t),
		zap.NewNop().Sugar(),
	)
	require.NoError(err)
	l.Start()
	defer l.Stop()

	remoteID, err := core.NewPeerIDFromBytes(bytesWith(9))
	require.NoError(err)

	nc, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	require.NoError(err)
	defer nc.Close()

	require.NoError(wire.WriteHandshake(nc, &wire.Handshake{InfoHash: ih, PeerID: remoteID}, 2*time.Second))
	reply, err := wire.ReadHandshake(nc, 2*time.Second)
	require.NoError(err)
	require.Equal(ih, reply.InfoHash)
	require.Equal(selfID, reply.PeerID)
}

func TestListenerRejectsUnknownInfoHash(t *testing.T) {
	require := require.New(t)

	var knownHash, unknownHash [20]byte
	knownHash[0] = 1
	unknownHash[0] = 2
	ih, _ := core.NewInfoHashFromBytes(knownHash[:])
	otherIH, _ := core.NewInfoHashFromBytes(unknownHash[:])

	selfID, err := core.NewPeerIDFromBytes(make([]byte, 20))
	require.NoError(err)

	l, err := New(
		Config{ListenPort: 0},
		selfID,
		staticRegistry{h: ih, t: nil},
		tally.NoopScope,
		clock.New(),
		networkevent.NoopProducer(),
		noLimiter(t),
		zap.NewNop().Sugar(),
	)
	require.NoError(err)
	l.Start()
	defer l.Stop()

	remoteID, err := core.NewPeerIDFromBytes(bytesWith(9))
	require.NoError(err)

	nc, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	require.NoError(err)
	defer nc.Close()

	require.NoError(wire.WriteHandshake(nc, &wire.Handshake{InfoHash: otherIH, PeerID: remoteID}, 2*time.Second))

	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = nc.Read(buf)
	require.Error(err) // connection closed without a reply handshake
}

func bytesWith(b byte) []byte {
	out := make([]byte, 20)
	out[0] = b
	return out
}

var _ diskio.Backend = nullBackend{}
