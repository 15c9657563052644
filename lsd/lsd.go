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
package lsd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"

	"github.com/torrentkit/btcore/core"
	"github.com/torrentkit/btcore/log"
)

// PeerFound is invoked whenever a valid, non-self BT-SEARCH broadcast is
// received for some info hash. Callers decide whether to act on it --
// LSD itself has no notion of which torrents are private.
type PeerFound func(h core.InfoHash, endpoint core.PeerEndpoint)

// Announcer sends and listens for BT-SEARCH broadcasts on the LSD
// multicast group. One Announcer serves every torrent in the
// process; the caller's handler fans discovered peers back out.
type Announcer struct {
	cookie  string
	handler PeerFound

	v4Addr *net.UDPAddr
	conn   *net.UDPConn

	wg   sync.WaitGroup
	done chan struct{}
}

// New creates an Announcer bound to the IPv4 LSD multicast group. It does
// not join the IPv6 group at IPv6Addr.
func New(config Config, handler PeerFound) (*Announcer, error) {
	cookie := config.Cookie
	if cookie == "" {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("lsd: generate cookie: %s", err)
		}
		cookie = hex.EncodeToString(buf[:])
	}

	v4Addr, err := net.ResolveUDPAddr("udp4", IPv4Addr)
	if err != nil {
		return nil, fmt.Errorf("lsd: resolve multicast addr: %s", err)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, v4Addr)
	if err != nil {
		return nil, fmt.Errorf("lsd: join multicast group: %s", err)
	}

	return &Announcer{
		cookie:  cookie,
		handler: handler,
		v4Addr:  v4Addr,
		conn:    conn,
		done:    make(chan struct{}),
	}, nil
}

// Start begins listening for broadcasts in the background.
func (a *Announcer) Start() {
	a.wg.Add(1)
	go a.listenLoop()
}

// Stop closes the multicast socket and waits for the listen loop to exit.
func (a *Announcer) Stop() {
	close(a.done)
	a.conn.Close()
	a.wg.Wait()
}

// Announce broadcasts that we have infoHash available on listenPort.
func (a *Announcer) Announce(infoHash core.InfoHash, listenPort int) error {
	msg := Message{
		Host:     IPv4Addr,
		Port:     listenPort,
		InfoHash: infoHash,
		Cookie:   a.cookie,
	}
	_, err := a.conn.WriteToUDP(msg.Encode(), a.v4Addr)
	if err != nil {
		return fmt.Errorf("lsd: announce: %s", err)
	}
	return nil
}

func (a *Announcer) listenLoop() {
	defer a.wg.Done()

	buf := make([]byte, 1500)
	for {
		n, remote, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-a.done:
				return
			default:
				log.Warnf("lsd: read: %s", err)
				return
			}
		}

		msg, err := Parse(buf[:n], IPv4Addr)
		if err != nil {
			continue
		}
		if msg.Cookie == a.cookie {
			continue // self-echo
		}

		a.handler(msg.InfoHash, core.PeerEndpoint{IP: remote.IP.String(), Port: msg.Port})
	}
}
