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

// Package bitfield implements the piece-availability bitfield used in the
// BEP-3 wire protocol: an ordered, MSB-first sequence of N bits (piece 0 is
// the most significant bit of byte 0).
package bitfield

import (
	"fmt"

	"github.com/willf/bitset"
)

// BitField is an ordered sequence of N bits, backed by a bitset.BitSet for
// set arithmetic (Intersection, Difference, Count). Wire (de)serialization
// is implemented directly in this package since bitset's own binary format
// does not match BEP-3's MSB-first-per-byte layout or pad-bit rules.
type BitField struct {
	n    int
	bits *bitset.BitSet
}

// New creates a BitField of length n, all bits clear.
func New(n int) *BitField {
	return &BitField{n: n, bits: bitset.New(uint(n))}
}

// Len returns the number of meaningful bits (N), not the padded byte count.
func (b *BitField) Len() int {
	return b.n
}

// Get returns the value of bit i.
func (b *BitField) Get(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.bits.Test(uint(i))
}

// Set sets bit i to v.
func (b *BitField) Set(i int, v bool) {
	if i < 0 || i >= b.n {
		return
	}
	b.bits.SetTo(uint(i), v)
}

// SetAll sets every bit to v.
func (b *BitField) SetAll(v bool) {
	for i := 0; i < b.n; i++ {
		b.bits.SetTo(uint(i), v)
	}
}

// HasAllSet returns true iff every bit in [0,N) is set.
func (b *BitField) HasAllSet() bool {
	return int(b.bits.Count()) == b.n
}

// Count returns the number of set bits.
func (b *BitField) Count() int {
	return int(b.bits.Count())
}

// CountNeeded returns |{i : other[i] && !self[i]}|, i.e. the number of
// pieces other has that self still needs. Bits at or beyond N are ignored.
func (b *BitField) CountNeeded(other *BitField) int {
	need := other.bits.Difference(b.bits)
	return int(need.Count())
}

// Needed returns the set of indices other has that self lacks.
func (b *BitField) Needed(other *BitField) *BitField {
	return &BitField{n: b.n, bits: other.bits.Difference(b.bits)}
}

// Intersection returns a new BitField set where both b and other are set.
func (b *BitField) Intersection(other *BitField) *BitField {
	return &BitField{n: b.n, bits: b.bits.Intersection(other.bits)}
}

// NextSet returns the index of the next set bit at or after i, and whether
// one was found. Used to iterate set bits without allocating a slice.
func (b *BitField) NextSet(i int) (int, bool) {
	idx, ok := b.bits.NextSet(uint(i))
	if !ok || int(idx) >= b.n {
		return 0, false
	}
	return int(idx), true
}

// CopyFrom overwrites b's bits with other's, leaving the underlying BitField
// object (and any outstanding references to it) stable: the peer-owned
// bitfield stays put while incoming bytes are blitted into it.
func (b *BitField) CopyFrom(other *BitField) {
	b.n = other.n
	b.bits = other.bits.Clone()
}

// Clone returns an independent copy of b.
func (b *BitField) Clone() *BitField {
	return &BitField{n: b.n, bits: b.bits.Clone()}
}

func (b *BitField) String() string {
	return fmt.Sprintf("BitField(have=%d/%d)", b.Count(), b.n)
}

// byteLen returns ceil(n/8).
func byteLen(n int) int {
	return (n + 7) / 8
}

// MarshalWire serializes b into the BEP-3 on-wire form: ceil(N/8) bytes,
// MSB-first (bit 0 is the high bit of byte 0), with trailing pad bits
// zeroed.
func (b *BitField) MarshalWire() []byte {
	out := make([]byte, byteLen(b.n))
	for i := 0; i < b.n; i++ {
		if b.Get(i) {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return out
}

// UnmarshalWire parses a BEP-3 bitfield payload of n pieces out of raw,
// which must be exactly ceil(n/8) bytes.
func UnmarshalWire(raw []byte, n int) (*BitField, error) {
	if len(raw) != byteLen(n) {
		return nil, fmt.Errorf(
			"bitfield: expected %d bytes for %d pieces, got %d", byteLen(n), n, len(raw))
	}
	b := New(n)
	for i := 0; i < n; i++ {
		if raw[i/8]&(0x80>>uint(i%8)) != 0 {
			b.Set(i, true)
		}
	}
	return b, nil
}

// HasValidPadding reports whether the pad bits (indices >= n, within the
// final byte) are all zero, as the wire transmission invariant requires.
func HasValidPadding(raw []byte, n int) bool {
	if len(raw) != byteLen(n) {
		return false
	}
	for i := n; i < byteLen(n)*8; i++ {
		if raw[i/8]&(0x80>>uint(i%8)) != 0 {
			return false
		}
	}
	return true
}
