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
package bitfield

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripVariousLengths(t *testing.T) {
	require := require.New(t)

	for _, n := range []int{0, 1, 7, 8, 9, 10, 64, 65, 1000} {
		b := New(n)
		for i := 0; i < n; i += 3 {
			b.Set(i, true)
		}
		raw := b.MarshalWire()
		require.Len(raw, byteLen(n))

		got, err := UnmarshalWire(raw, n)
		require.NoError(err)
		require.Equal(n, got.Len())
		for i := 0; i < n; i++ {
			require.Equal(b.Get(i), got.Get(i), "bit %d mismatch for n=%d", i, n)
		}
	}
}

func TestPadBitsAreZeroOnMarshal(t *testing.T) {
	require := require.New(t)

	b := New(10)
	b.SetAll(true)
	raw := b.MarshalWire()
	require.Equal([]byte{0xFF, 0xC0}, raw)
	require.True(HasValidPadding(raw, 10))
}

func TestTenPieceBitfieldMatchesWireExample(t *testing.T) {
	require := require.New(t)

	raw := []byte{0xFF, 0x80}
	b, err := UnmarshalWire(raw, 10)
	require.NoError(err)
	for i := 0; i < 9; i++ {
		require.True(b.Get(i), "piece %d should be set", i)
	}
	for i := 9; i < 10; i++ {
		require.False(b.Get(i), "piece %d should be clear", i)
	}
	require.Equal(raw, b.MarshalWire())
}

func TestUnmarshalWireRejectsWrongLength(t *testing.T) {
	require := require.New(t)

	_, err := UnmarshalWire([]byte{0xFF}, 10)
	require.Error(err)
}

func TestHasValidPaddingRejectsDirtyPadBits(t *testing.T) {
	require := require.New(t)

	raw := []byte{0xFF, 0xE0}
	require.False(HasValidPadding(raw, 10))
}

func TestHasAllSet(t *testing.T) {
	require := require.New(t)

	b := New(5)
	require.False(b.HasAllSet())
	b.SetAll(true)
	require.True(b.HasAllSet())
}

func TestCountNeeded(t *testing.T) {
	require := require.New(t)

	self := New(8)
	self.Set(0, true)
	self.Set(1, true)

	other := New(8)
	other.Set(0, true)
	other.Set(2, true)
	other.Set(3, true)

	require.Equal(2, self.CountNeeded(other))
}

func TestIntersection(t *testing.T) {
	require := require.New(t)

	a := New(4)
	a.Set(0, true)
	a.Set(1, true)

	b := New(4)
	b.Set(1, true)
	b.Set(2, true)

	inter := a.Intersection(b)
	require.False(inter.Get(0))
	require.True(inter.Get(1))
	require.False(inter.Get(2))
}

func TestCopyFromIsIndependent(t *testing.T) {
	require := require.New(t)

	src := New(4)
	src.Set(0, true)

	dst := New(4)
	dst.CopyFrom(src)
	require.True(dst.Get(0))

	src.Set(1, true)
	require.False(dst.Get(1))
}

func TestNextSet(t *testing.T) {
	require := require.New(t)

	b := New(10)
	b.Set(3, true)
	b.Set(7, true)

	idx, ok := b.NextSet(0)
	require.True(ok)
	require.Equal(3, idx)

	idx, ok = b.NextSet(4)
	require.True(ok)
	require.Equal(7, idx)

	_, ok = b.NextSet(8)
	require.False(ok)
}
