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

// Package wire implements the BEP-3 peer wire protocol: the 68-byte
// handshake and the length-prefixed message stream that follows it.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// MessageID identifies the kind of a length-prefixed message.
type MessageID byte

// Possible MessageID values. These ids match BEP-3 exactly.
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	BitFieldID    MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Port          MessageID = 9
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case BitFieldID:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// MaxMessageLength caps a single frame's payload at 128 KiB plus the small
// per-message header, guarding against a malicious or buggy peer claiming
// an enormous length prefix.
const MaxMessageLength = 128*1024 + 16

// Message is a single parsed peer-wire message: an id plus whatever fields
// that id carries. Unused fields are zero for message types that don't use
// them.
type Message struct {
	ID MessageID

	// Have
	PieceIndex int

	// BitFieldID
	BitField []byte

	// Request / Cancel
	Index  int
	Begin  int
	Length int

	// Piece
	Block []byte

	// Port
	ListenPort int
}

// NewKeepAlive-equivalent: a keep-alive has no message id, it is simply a
// zero-length frame. It's represented by sending/receiving a nil *Message
// at the frame layer, so it has no constructor here.

// NewHave builds a Have message.
func NewHave(index int) *Message { return &Message{ID: Have, PieceIndex: index} }

// NewBitField builds a BitField message from already-serialized payload
// bytes (see the bitfield package's MarshalWire).
func NewBitField(payload []byte) *Message {
	return &Message{ID: BitFieldID, BitField: payload}
}

// NewRequest builds a Request message.
func NewRequest(index, begin, length int) *Message {
	return &Message{ID: Request, Index: index, Begin: begin, Length: length}
}

// NewCancel builds a Cancel message.
func NewCancel(index, begin, length int) *Message {
	return &Message{ID: Cancel, Index: index, Begin: begin, Length: length}
}

// NewPiece builds a Piece message carrying a block of data.
func NewPiece(index, begin int, block []byte) *Message {
	return &Message{ID: Piece, Index: index, Begin: begin, Block: block}
}

// NewPort builds a Port message (DHT listen port announcement).
func NewPort(port int) *Message { return &Message{ID: Port, ListenPort: port} }

// simple (no-payload) messages.
func NewChoke() *Message         { return &Message{ID: Choke} }
func NewUnchoke() *Message       { return &Message{ID: Unchoke} }
func NewInterested() *Message    { return &Message{ID: Interested} }
func NewNotInterested() *Message { return &Message{ID: NotInterested} }

// encode serializes m into its wire payload, not including the leading
// 4-byte length prefix.
func (m *Message) encode() []byte {
	switch m.ID {
	case Choke, Unchoke, Interested, NotInterested:
		return []byte{byte(m.ID)}
	case Have:
		b := make([]byte, 5)
		b[0] = byte(m.ID)
		binary.BigEndian.PutUint32(b[1:], uint32(m.PieceIndex))
		return b
	case BitFieldID:
		b := make([]byte, 1+len(m.BitField))
		b[0] = byte(m.ID)
		copy(b[1:], m.BitField)
		return b
	case Request, Cancel:
		b := make([]byte, 13)
		b[0] = byte(m.ID)
		binary.BigEndian.PutUint32(b[1:5], uint32(m.Index))
		binary.BigEndian.PutUint32(b[5:9], uint32(m.Begin))
		binary.BigEndian.PutUint32(b[9:13], uint32(m.Length))
		return b
	case Piece:
		b := make([]byte, 9+len(m.Block))
		b[0] = byte(m.ID)
		binary.BigEndian.PutUint32(b[1:5], uint32(m.Index))
		binary.BigEndian.PutUint32(b[5:9], uint32(m.Begin))
		copy(b[9:], m.Block)
		return b
	case Port:
		b := make([]byte, 3)
		b[0] = byte(m.ID)
		binary.BigEndian.PutUint16(b[1:3], uint16(m.ListenPort))
		return b
	default:
		return []byte{byte(m.ID)}
	}
}

// decode parses a message body (post length-prefix, pre-stripped) into a
// Message. An empty body represents a keep-alive and is handled by the
// caller before decode is invoked.
func decode(body []byte) (*Message, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("wire: empty message body")
	}
	id := MessageID(body[0])
	rest := body[1:]
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		if len(rest) != 0 {
			return nil, fmt.Errorf("wire: %s takes no payload, got %d bytes", id, len(rest))
		}
		return &Message{ID: id}, nil
	case Have:
		if len(rest) != 4 {
			return nil, fmt.Errorf("wire: have needs 4 bytes, got %d", len(rest))
		}
		return &Message{ID: id, PieceIndex: int(binary.BigEndian.Uint32(rest))}, nil
	case BitFieldID:
		buf := make([]byte, len(rest))
		copy(buf, rest)
		return &Message{ID: id, BitField: buf}, nil
	case Request, Cancel:
		if len(rest) != 12 {
			return nil, fmt.Errorf("wire: %s needs 12 bytes, got %d", id, len(rest))
		}
		return &Message{
			ID:     id,
			Index:  int(binary.BigEndian.Uint32(rest[0:4])),
			Begin:  int(binary.BigEndian.Uint32(rest[4:8])),
			Length: int(binary.BigEndian.Uint32(rest[8:12])),
		}, nil
	case Piece:
		if len(rest) < 8 {
			return nil, fmt.Errorf("wire: piece needs at least 8 bytes, got %d", len(rest))
		}
		block := make([]byte, len(rest)-8)
		copy(block, rest[8:])
		return &Message{
			ID:     id,
			Index:  int(binary.BigEndian.Uint32(rest[0:4])),
			Begin:  int(binary.BigEndian.Uint32(rest[4:8])),
			Block:  block,
		}, nil
	case Port:
		if len(rest) != 2 {
			return nil, fmt.Errorf("wire: port needs 2 bytes, got %d", len(rest))
		}
		return &Message{ID: id, ListenPort: int(binary.BigEndian.Uint16(rest))}, nil
	default:
		return nil, fmt.Errorf("wire: unknown message id %d", id)
	}
}

// WriteMessage writes a single length-prefixed frame to nc. A nil msg
// sends a zero-length keep-alive frame.
func WriteMessage(nc net.Conn, msg *Message) error {
	var payload []byte
	if msg != nil {
		payload = msg.encode()
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := nc.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %s", err)
	}
	for len(payload) > 0 {
		n, err := nc.Write(payload)
		if err != nil {
			return fmt.Errorf("wire: write payload: %s", err)
		}
		payload = payload[n:]
	}
	return nil
}

// WriteMessageWithTimeout writes msg with a write deadline. We use the
// system clock here, not the injected clock.Clock, since net.Conn deadlines
// are always measured against wall time.
func WriteMessageWithTimeout(nc net.Conn, msg *Message, timeout time.Duration) error {
	if err := nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("wire: set write deadline: %s", err)
	}
	return WriteMessage(nc, msg)
}

// ReadMessage reads one length-prefixed frame from nc. A nil return with a
// nil error indicates a keep-alive.
func ReadMessage(nc net.Conn) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(nc, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, nil
	}
	if uint64(n) > MaxMessageLength {
		return nil, fmt.Errorf("wire: message length %d exceeds max %d", n, MaxMessageLength)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(nc, body); err != nil {
		return nil, fmt.Errorf("wire: read body: %s", err)
	}
	return decode(body)
}

// ReadMessageWithTimeout reads one frame with a read deadline.
func ReadMessageWithTimeout(nc net.Conn, timeout time.Duration) (*Message, error) {
	if err := nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("wire: set read deadline: %s", err)
	}
	return ReadMessage(nc)
}
