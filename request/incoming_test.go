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
package request

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	data []byte
	err  error
}

func (f *fakeSource) ReadBlock(piece, begin, length int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fixedFlow struct{ canServe bool }

func (f fixedFlow) CanServe() bool { return f.canServe }

func TestServeRejectsWhenChoking(t *testing.T) {
	require := require.New(t)

	in := NewInbound(&fakeSource{data: []byte("x")}, fixedFlow{false}, nil, 1<<20)
	require.True(in.Enqueue(peerID(1), 0, 0, 10))

	_, ok := in.Serve(0, 0, 10)
	require.False(ok)
}

func TestServeReturnsDataWhenAllowed(t *testing.T) {
	require := require.New(t)

	in := NewInbound(&fakeSource{data: []byte("block-data")}, fixedFlow{true}, nil, 1<<20)
	require.True(in.Enqueue(peerID(1), 0, 0, 10))

	data, ok := in.Serve(0, 0, 10)
	require.True(ok)
	require.Equal([]byte("block-data"), data)
}

func TestServeRejectsWhenBandwidthDenies(t *testing.T) {
	require := require.New(t)

	admit := func(n int64) bool { return false }
	in := NewInbound(&fakeSource{data: []byte("x")}, fixedFlow{true}, admit, 1<<20)
	require.True(in.Enqueue(peerID(1), 0, 0, 10))

	_, ok := in.Serve(0, 0, 10)
	require.False(ok)
}

func TestEnqueueRejectsOversizedRequest(t *testing.T) {
	require := require.New(t)

	in := NewInbound(&fakeSource{}, fixedFlow{true}, nil, 100)
	require.False(in.Enqueue(peerID(1), 0, 0, 1000))
}

func TestCancelIsIdempotent(t *testing.T) {
	require := require.New(t)

	in := NewInbound(&fakeSource{}, fixedFlow{true}, nil, 1<<20)
	in.Cancel(0, 0) // never enqueued
	require.True(in.Enqueue(peerID(1), 0, 0, 10))
	in.Cancel(0, 0)
	in.Cancel(0, 0) // already gone
	require.Equal(0, in.Pending())
}

func TestServeOnUnknownRequestFails(t *testing.T) {
	require := require.New(t)

	in := NewInbound(&fakeSource{err: errors.New("boom")}, fixedFlow{true}, nil, 1<<20)
	_, ok := in.Serve(0, 0, 10)
	require.False(ok)
}

func TestClearAll(t *testing.T) {
	require := require.New(t)

	in := NewInbound(&fakeSource{}, fixedFlow{true}, nil, 1<<20)
	in.Enqueue(peerID(1), 0, 0, 10)
	in.Enqueue(peerID(1), 0, 16384, 10)
	require.Equal(2, in.Pending())
	in.ClearAll()
	require.Equal(0, in.Pending())
}
