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
package wire

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/torrentkit/btcore/core"
)

// ProtocolName is the identifier string carried in the handshake's pstr
// field, matching the reference BEP-3 handshake.
const ProtocolName = "BitTorrent protocol"

// HandshakeLength is the total size of a BEP-3 handshake frame: 1 + 19 +
// 8 + 20 + 20 = 68 bytes.
const HandshakeLength = 1 + len(ProtocolName) + 8 + 20 + 20

// Handshake is the fixed-length preamble exchanged before any
// length-prefixed message may flow.
type Handshake struct {
	Reserved [8]byte
	InfoHash core.InfoHash
	PeerID   core.PeerID
}

// Encode serializes h into the 68-byte wire form.
func (h *Handshake) Encode() []byte {
	buf := make([]byte, 0, HandshakeLength)
	buf = append(buf, byte(len(ProtocolName)))
	buf = append(buf, ProtocolName...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash.Bytes()...)
	buf = append(buf, h.PeerID.Bytes()...)
	return buf
}

// DecodeHandshake parses a 68-byte handshake frame.
func DecodeHandshake(buf []byte) (*Handshake, error) {
	if len(buf) != HandshakeLength {
		return nil, fmt.Errorf("wire: handshake must be %d bytes, got %d", HandshakeLength, len(buf))
	}
	pstrlen := int(buf[0])
	if pstrlen != len(ProtocolName) {
		return nil, fmt.Errorf("wire: unexpected protocol name length %d", pstrlen)
	}
	if !bytes.Equal(buf[1:1+pstrlen], []byte(ProtocolName)) {
		return nil, fmt.Errorf("wire: unrecognized protocol %q", buf[1:1+pstrlen])
	}
	off := 1 + pstrlen
	var h Handshake
	copy(h.Reserved[:], buf[off:off+8])
	off += 8
	ih, err := core.NewInfoHashFromBytes(buf[off : off+20])
	if err != nil {
		return nil, fmt.Errorf("wire: info hash: %s", err)
	}
	h.InfoHash = ih
	off += 20
	pid, err := core.NewPeerIDFromBytes(buf[off : off+20])
	if err != nil {
		return nil, fmt.Errorf("wire: peer id: %s", err)
	}
	h.PeerID = pid
	return &h, nil
}

// WriteHandshake writes h's encoded form to nc with a write deadline.
func WriteHandshake(nc net.Conn, h *Handshake, timeout time.Duration) error {
	if err := nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("wire: set write deadline: %s", err)
	}
	buf := h.Encode()
	for len(buf) > 0 {
		n, err := nc.Write(buf)
		if err != nil {
			return fmt.Errorf("wire: write handshake: %s", err)
		}
		buf = buf[n:]
	}
	return nil
}

// ReadHandshake reads and parses a 68-byte handshake frame from nc with a
// read deadline.
func ReadHandshake(nc net.Conn, timeout time.Duration) (*Handshake, error) {
	if err := nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("wire: set read deadline: %s", err)
	}
	buf := make([]byte, HandshakeLength)
	if _, err := io.ReadFull(nc, buf); err != nil {
		return nil, fmt.Errorf("wire: read handshake: %s", err)
	}
	return DecodeHandshake(buf)
}
