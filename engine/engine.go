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

// Package engine wires together a listener, an optional local discovery
// announcer, and a registry of active torrents into the single object an
// embedder starts and stops. It replaces a process-wide scheduler
// singleton with an explicit, independently constructible context --
// nothing here prevents running more than one Engine in a process.
package engine

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/torrentkit/btcore/config"
	"github.com/torrentkit/btcore/conn"
	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/diskio"
	"github.com/torrentkit/btcore/listener"
	"github.com/torrentkit/btcore/log"
	"github.com/torrentkit/btcore/lsd"
	"github.com/torrentkit/btcore/networkevent"
	"github.com/torrentkit/btcore/ratelimit"
	"github.com/torrentkit/btcore/torrent"
	"github.com/torrentkit/btcore/tracker"
	"github.com/torrentkit/btcore/wire"
)

// Engine errors.
var (
	ErrTorrentExists   = errors.New("engine: torrent already added")
	ErrTorrentNotFound = errors.New("engine: torrent not found")
	ErrEngineStopped   = errors.New("engine: stopped")
)

// entry bundles a running Torrent with the collaborators specific to it:
// the tracker tier it announces to, and the goroutine that periodically
// polls that tier for new peers.
type entry struct {
	t        *torrent.Torrent
	trackers tracker.Group
	done     chan struct{}
}

// Engine is the top-level context for peer-to-peer torrenting: it owns the
// inbound listener, the local discovery announcer, and every active
// Torrent, and dials outbound connections on their behalf.
type Engine struct {
	config      config.Config
	localPeerID core.PeerID
	stats       tally.Scope
	clk         clock.Clock
	netEvents   networkevent.Producer
	logger      *zap.SugaredLogger
	bandwidth   *ratelimit.Limiter

	listener  *listener.Listener
	announcer *lsd.Announcer

	mu       sync.RWMutex
	torrents map[core.InfoHash]*entry

	closedMu sync.Mutex
	closed   bool
}

// New creates an Engine bound to config.Listener.ListenPort. The Engine is
// not accepting connections or polling trackers until Start is called.
func New(
	cfg config.Config,
	localPeerID core.PeerID,
	stats tally.Scope,
	netEvents networkevent.Producer) (*Engine, error) {

	return newEngine(cfg, localPeerID, stats, netEvents, clock.New())
}

func newEngine(
	cfg config.Config,
	localPeerID core.PeerID,
	stats tally.Scope,
	netEvents networkevent.Producer,
	clk clock.Clock) (*Engine, error) {

	cfg = cfg.applyDefaults()

	logger := log.New(cfg.Log)

	bandwidth, err := ratelimit.NewLimiter(cfg.Bandwidth)
	if err != nil {
		return nil, fmt.Errorf("bandwidth: %s", err)
	}

	e := &Engine{
		config:      cfg,
		localPeerID: localPeerID,
		stats:       stats,
		clk:         clk,
		netEvents:   netEvents,
		logger:      logger,
		bandwidth:   bandwidth,
		torrents:    make(map[core.InfoHash]*entry),
	}

	l, err := listener.New(cfg.Listener, localPeerID, e, stats, clk, netEvents, bandwidth, logger)
	if err != nil {
		return nil, fmt.Errorf("listener: %s", err)
	}
	e.listener = l

	if !cfg.DisableLSD {
		a, err := lsd.New(cfg.LSD, e.onPeerDiscovered)
		if err != nil {
			return nil, fmt.Errorf("lsd: %s", err)
		}
		e.announcer = a
	}

	return e, nil
}

// Start begins accepting inbound connections and, unless disabled,
// listening for local service discovery broadcasts.
func (e *Engine) Start() {
	e.listener.Start()
	if e.announcer != nil {
		e.announcer.Start()
	}
}

// Stop tears down every active torrent and closes the listener and
// announcer. Idempotent.
func (e *Engine) Stop() {
	e.closedMu.Lock()
	if e.closed {
		e.closedMu.Unlock()
		return
	}
	e.closed = true
	e.closedMu.Unlock()

	e.mu.Lock()
	entries := make([]*entry, 0, len(e.torrents))
	for _, ent := range e.torrents {
		entries = append(entries, ent)
	}
	e.torrents = make(map[core.InfoHash]*entry)
	e.mu.Unlock()

	for _, ent := range entries {
		close(ent.done)
		ent.t.Stop()
	}

	if e.announcer != nil {
		e.announcer.Stop()
	}
	e.listener.Stop()
}

// AddTorrent registers metaData for download/seeding, using backend for
// persistence and trackers to discover peers. The returned Torrent has
// already had Start called on it.
func (e *Engine) AddTorrent(
	metaData core.TorrentMetaData,
	backend diskio.Backend,
	trackers tracker.Group) (*torrent.Torrent, error) {

	e.closedMu.Lock()
	stopped := e.closed
	e.closedMu.Unlock()
	if stopped {
		return nil, ErrEngineStopped
	}

	infoHash := metaData.InfoHash()

	e.mu.Lock()
	if _, ok := e.torrents[infoHash]; ok {
		e.mu.Unlock()
		return nil, ErrTorrentExists
	}

	admit := func(n int64) bool { return e.bandwidth.ReserveEgress(n) == nil }

	t, err := torrent.New(
		metaData, backend, trackers, e.localPeerID, e.config.Torrent,
		e.netEvents, e.stats, e.clk, admit)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("new torrent: %s", err)
	}

	ent := &entry{t: t, trackers: trackers, done: make(chan struct{})}
	e.torrents[infoHash] = ent
	e.mu.Unlock()

	t.Start()
	go e.pollTracker(ent, infoHash)

	return t, nil
}

// RemoveTorrent stops and forgets the torrent with the given info hash.
func (e *Engine) RemoveTorrent(infoHash core.InfoHash) error {
	e.mu.Lock()
	ent, ok := e.torrents[infoHash]
	if !ok {
		e.mu.Unlock()
		return ErrTorrentNotFound
	}
	delete(e.torrents, infoHash)
	e.mu.Unlock()

	close(ent.done)
	ent.t.Stop()
	return nil
}

// Torrent implements listener.Registry, resolving an inbound handshake's
// info hash to the Torrent that owns it.
func (e *Engine) Torrent(h core.InfoHash) (*torrent.Torrent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.torrents[h]
	if !ok {
		return nil, false
	}
	return ent.t, true
}

// pollTracker periodically calls trackers.Update and dials every peer
// endpoint it returns, until ent.done is closed.
func (e *Engine) pollTracker(ent *entry, infoHash core.InfoHash) {
	if ent.trackers == nil {
		return
	}

	ticker := e.clk.Tick(30 * time.Second)
	for {
		select {
		case <-ent.done:
			return
		case <-ticker:
			peers, err := ent.trackers.Update()
			if err != nil {
				log.Warnf("engine: tracker update for %s: %s", infoHash, err)
				continue
			}
			for _, p := range peers {
				go e.dialAndAddPeer(ent.t, infoHash, p)
			}
		}
	}
}

// onPeerDiscovered is the lsd.PeerFound callback: it dials any peer found
// announcing a torrent we currently have active.
func (e *Engine) onPeerDiscovered(infoHash core.InfoHash, endpoint core.PeerEndpoint) {
	e.mu.RLock()
	ent, ok := e.torrents[infoHash]
	e.mu.RUnlock()
	if !ok {
		return
	}
	go e.dialAndAddPeer(ent.t, infoHash, endpoint)
}

// dialAndAddPeer opens a TCP connection to endpoint, performs the BEP-3
// handshake as the initiating side, and hands the resulting conn.Conn to
// t. Self-loops (a peer ID matching our own) are closed without being
// added.
func (e *Engine) dialAndAddPeer(t *torrent.Torrent, infoHash core.InfoHash, endpoint core.PeerEndpoint) {
	handshakeTimeout := e.config.Conn.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = 5 * time.Second
	}

	nc, err := net.DialTimeout("tcp", endpoint.Addr(), handshakeTimeout)
	if err != nil {
		log.Debugf("engine: dial %s: %s", endpoint.Addr(), err)
		return
	}

	ours := &wire.Handshake{InfoHash: infoHash, PeerID: e.localPeerID}
	if err := wire.WriteHandshake(nc, ours, handshakeTimeout); err != nil {
		log.Warnf("engine: write handshake to %s: %s", endpoint.Addr(), err)
		nc.Close()
		return
	}
	reply, err := wire.ReadHandshake(nc, handshakeTimeout)
	if err != nil {
		log.Warnf("engine: read handshake from %s: %s", endpoint.Addr(), err)
		nc.Close()
		return
	}
	if reply.InfoHash != infoHash {
		log.Warnf("engine: info hash mismatch from %s", endpoint.Addr())
		nc.Close()
		return
	}
	if reply.PeerID == e.localPeerID {
		nc.Close()
		return
	}

	c, err := conn.New(
		e.config.Conn, e.stats, e.clk, e.netEvents, e.bandwidth,
		noopEvents{}, nc, e.localPeerID, reply.PeerID, infoHash, false, e.logger)
	if err != nil {
		log.Warnf("engine: new conn to %s: %s", endpoint.Addr(), err)
		nc.Close()
		return
	}

	t.AddPeer(c)
}

type noopEvents struct{}

func (noopEvents) ConnClosed(*conn.Conn) {}
