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
package conn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/networkevent"
	"github.com/torrentkit/btcore/ratelimit"
	"github.com/torrentkit/btcore/wire"
)

// Events defines the callbacks Conn invokes on lifecycle transitions.
type Events interface {
	ConnClosed(*Conn)
}

// Conn manages a single established peer connection: a handshake has
// already completed, and Conn owns the read/write goroutines that
// translate between the socket and typed wire.Message values.
type Conn struct {
	peerID      core.PeerID
	infoHash    core.InfoHash
	localPeerID core.PeerID
	createdAt   time.Time
	bandwidth   *ratelimit.Limiter

	flow *FlowState

	events Events

	mu              sync.Mutex // protects lastActivity
	lastActivity    time.Time

	nc     net.Conn
	config Config
	clk    clock.Clock
	stats  tally.Scope
	netEvents networkevent.Producer

	openedByRemote bool

	startOnce sync.Once

	sender   chan *wire.Message
	receiver chan *wire.Message

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	logger *zap.SugaredLogger
}

// New creates a Conn wrapping an already-handshaked socket.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	netevents networkevent.Producer,
	bandwidth *ratelimit.Limiter,
	events Events,
	nc net.Conn,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	infoHash core.InfoHash,
	openedByRemote bool,
	logger *zap.SugaredLogger) (*Conn, error) {

	config = config.applyDefaults()

	// Deadlines set during handshaking no longer apply; this Conn manages
	// its own liveness via InactiveTimeout.
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("conn: clear deadline: %s", err)
	}

	c := &Conn{
		peerID:         remotePeerID,
		infoHash:       infoHash,
		localPeerID:    localPeerID,
		createdAt:      clk.Now(),
		bandwidth:      bandwidth,
		flow:           NewFlowState(),
		events:         events,
		lastActivity:   clk.Now(),
		nc:             nc,
		config:         config,
		clk:            clk,
		stats:          stats,
		netEvents:      netevents,
		openedByRemote: openedByRemote,
		sender:         make(chan *wire.Message, config.SenderBufferSize),
		receiver:       make(chan *wire.Message, config.ReceiverBufferSize),
		closed:         atomic.NewBool(false),
		done:           make(chan struct{}),
		logger:         logger,
	}
	return c, nil
}

// Start begins the read/write/keep-alive goroutines. Idempotent.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		if c.netEvents != nil {
			c.netEvents.Produce(networkevent.ConnectedEvent(c.infoHash, c.localPeerID, c.peerID))
		}
		c.wg.Add(3)
		go c.readLoop()
		go c.writeLoop()
		go c.livenessLoop()
	})
}

// PeerID returns the remote peer's id.
func (c *Conn) PeerID() core.PeerID { return c.peerID }

// InfoHash returns the torrent this connection serves.
func (c *Conn) InfoHash() core.InfoHash { return c.infoHash }

// CreatedAt returns when the Conn was constructed.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// Flow returns the connection's choke/interest state.
func (c *Conn) Flow() *FlowState { return c.flow }

// OpenedByRemote reports whether the remote peer initiated this
// connection.
func (c *Conn) OpenedByRemote() bool { return c.openedByRemote }

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s, opened_by_remote=%t)",
		c.peerID, c.infoHash, c.openedByRemote)
}

// Send enqueues msg for writing. A nil msg sends a keep-alive. Returns an
// error immediately if the connection is closed or the send buffer is
// full, rather than blocking the caller -- this mirrors the "single
// in-flight send guard" requirement: callers must not have more than one
// outstanding Send racing on backpressure at a time per logical message.
func (c *Conn) Send(msg *wire.Message) error {
	if c.closed.Load() {
		return errors.New("conn: closed")
	}
	select {
	case <-c.done:
		return errors.New("conn: closed")
	case c.sender <- msg:
		return nil
	default:
		if c.stats != nil {
			c.stats.Counter("dropped_messages").Inc(1)
		}
		return errors.New("conn: send buffer full")
	}
}

// Receiver exposes the channel of incoming messages.
func (c *Conn) Receiver() <-chan *wire.Message { return c.receiver }

// Close begins an idempotent shutdown.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		if c.netEvents != nil {
			c.netEvents.Produce(networkevent.DisconnectedEvent(c.infoHash, c.localPeerID, c.peerID))
		}
		if c.events != nil {
			c.events.ConnClosed(c)
		}
	}()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool { return c.closed.Load() }

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = c.clk.Now()
	c.mu.Unlock()
}

func (c *Conn) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clk.Now().Sub(c.lastActivity)
}

func (c *Conn) readOne() (*wire.Message, error) {
	msg, err := wire.ReadMessage(c.nc)
	if err != nil {
		return nil, err
	}
	if msg != nil && msg.ID == wire.Piece {
		if err := c.bandwidth.ReserveIngress(int64(len(msg.Block))); err != nil {
			return nil, fmt.Errorf("conn: ingress bandwidth: %s", err)
		}
	}
	return msg, nil
}

// readLoop reads frames off the socket and republishes them on receiver
// until an error (including a closed connection) occurs.
func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
			msg, err := c.readOne()
			if err != nil {
				c.log().Infof("conn: read loop exiting: %s", err)
				return
			}
			c.touch()
			if msg == nil {
				// Keep-alive: nothing to dispatch.
				continue
			}
			select {
			case c.receiver <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Conn) writeOne(msg *wire.Message) error {
	if msg != nil && msg.ID == wire.Piece {
		if err := c.bandwidth.ReserveEgress(int64(len(msg.Block))); err != nil {
			return fmt.Errorf("conn: egress bandwidth: %s", err)
		}
	}
	if err := wire.WriteMessage(c.nc, msg); err != nil {
		return err
	}
	c.touch()
	return nil
}

// writeLoop drains the sender channel to the socket.
func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if err := c.writeOne(msg); err != nil {
				c.log().Infof("conn: write loop exiting: %s", err)
				return
			}
		}
	}
}

// livenessLoop sends periodic keep-alives and closes the connection if
// nothing at all has been seen for longer than InactiveTimeout.
func (c *Conn) livenessLoop() {
	defer c.wg.Done()

	ticker := c.clk.Ticker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.idleFor() >= c.config.InactiveTimeout {
				c.log().Infof("conn: closing after %s of inactivity", c.idleFor())
				c.Close()
				return
			}
			if err := c.Send(nil); err != nil {
				c.log().Infof("conn: keep-alive send failed: %s", err)
			}
		}
	}
}

func (c *Conn) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", c.peerID, "hash", c.infoHash)
	return c.logger.With(keysAndValues...)
}
