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
	"fmt"
	"net"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/torrentkit/btcore/conn"
	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/log"
	"github.com/torrentkit/btcore/networkevent"
	"github.com/torrentkit/btcore/ratelimit"
	"github.com/torrentkit/btcore/torrent"
	"github.com/torrentkit/btcore/wire"
)

// Registry resolves an info hash to the torrent that owns it, so an
// inbound connection can be routed once its handshake has been read.
type Registry interface {
	Torrent(h core.InfoHash) (*torrent.Torrent, bool)
}

// Listener accepts inbound TCP connections, completes the BEP-3 handshake
// on each, and hands the resulting conn.Conn off to the matching torrent.
type Listener struct {
	config   Config
	localID  core.PeerID
	registry Registry

	stats     tally.Scope
	clk       clock.Clock
	netEvents networkevent.Producer
	bandwidth *ratelimit.Limiter
	logger    *zap.SugaredLogger

	tcp net.Listener

	wg   sync.WaitGroup
	done chan struct{}
}

type discardEvents struct{}

func (discardEvents) ConnClosed(*conn.Conn) {}

// New opens a TCP listener on config.ListenPort.
func New(
	config Config,
	localID core.PeerID,
	registry Registry,
	stats tally.Scope,
	clk clock.Clock,
	netEvents networkevent.Producer,
	bandwidth *ratelimit.Limiter,
	logger *zap.SugaredLogger) (*Listener, error) {

	config = config.applyDefaults()

	tcp, err := net.Listen("tcp", fmt.Sprintf(":%d", config.ListenPort))
	if err != nil {
		return nil, fmt.Errorf("listener: listen: %s", err)
	}

	return &Listener{
		config:    config,
		localID:   localID,
		registry:  registry,
		stats:     stats.Tagged(map[string]string{"module": "listener"}),
		clk:       clk,
		netEvents: netEvents,
		bandwidth: bandwidth,
		logger:    logger,
		tcp:       tcp,
		done:      make(chan struct{}),
	}, nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.tcp.Addr()
}

// Start begins accepting connections in the background.
func (l *Listener) Start() {
	l.wg.Add(1)
	go l.acceptLoop()
}

// Stop closes the listener socket and waits for in-flight handshakes to
// finish.
func (l *Listener) Stop() {
	close(l.done)
	l.tcp.Close()
	l.wg.Wait()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	log.Infof("listener: listening on %s", l.tcp.Addr())
	for {
		nc, err := l.tcp.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				log.Warnf("listener: accept: %s", err)
				return
			}
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleIncoming(nc)
		}()
	}
}

func (l *Listener) handleIncoming(nc net.Conn) {
	hs, err := wire.ReadHandshake(nc, l.config.HandshakeTimeout)
	if err != nil {
		log.Warnf("listener: read handshake: %s", err)
		nc.Close()
		return
	}

	t, ok := l.registry.Torrent(hs.InfoHash)
	if !ok {
		log.Warnf("listener: unknown info hash %s, rejecting", hs.InfoHash)
		nc.Close()
		return
	}

	reply := &wire.Handshake{InfoHash: hs.InfoHash, PeerID: l.localID}
	if err := wire.WriteHandshake(nc, reply, l.config.HandshakeTimeout); err != nil {
		log.Warnf("listener: write handshake: %s", err)
		nc.Close()
		return
	}

	c, err := conn.New(
		conn.Config{HandshakeTimeout: l.config.HandshakeTimeout},
		l.stats,
		l.clk,
		l.netEvents,
		l.bandwidth,
		discardEvents{},
		nc,
		l.localID,
		hs.PeerID,
		hs.InfoHash,
		true,
		l.logger,
	)
	if err != nil {
		log.Warnf("listener: new conn: %s", err)
		nc.Close()
		return
	}

	t.AddPeer(c)
}
