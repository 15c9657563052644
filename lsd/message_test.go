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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrentkit/btcore/core"
)

func testInfoHash(b byte) core.InfoHash {
	var raw [20]byte
	raw[0] = b
	h, _ := core.NewInfoHashFromBytes(raw[:])
	return h
}

func TestEncodeThenParseRoundTrips(t *testing.T) {
	require := require.New(t)

	m := Message{Host: IPv4Addr, Port: 6881, InfoHash: testInfoHash(1), Cookie: "abc123"}
	parsed, err := Parse(m.Encode(), IPv4Addr)
	require.NoError(err)
	require.Equal(m.Port, parsed.Port)
	require.Equal(m.InfoHash, parsed.InfoHash)
	require.Equal(m.Cookie, parsed.Cookie)
}

func TestParseRejectsWrongHost(t *testing.T) {
	require := require.New(t)

	m := Message{Host: IPv4Addr, Port: 6881, InfoHash: testInfoHash(1), Cookie: "abc123"}
	_, err := Parse(m.Encode(), IPv6Addr)
	require.Error(err)
}

func TestParseRejectsMalformedRequestLine(t *testing.T) {
	require := require.New(t)

	_, err := Parse([]byte("GET / HTTP/1.1\r\n\r\n\r\n"), IPv4Addr)
	require.Error(err)
}

func TestParseRejectsShortInfohash(t *testing.T) {
	require := require.New(t)

	raw := []byte("BT-SEARCH * HTTP/1.1\r\nHost: " + IPv4Addr + "\r\nPort: 6881\r\nInfohash: deadbeef\r\ncookie: x\r\n\r\n\r\n")
	_, err := Parse(raw, IPv4Addr)
	require.Error(err)
}

func TestEncodeUppercasesInfohash(t *testing.T) {
	require := require.New(t)

	m := Message{Host: IPv4Addr, Port: 1, InfoHash: testInfoHash(0xab), Cookie: "c"}
	encoded := string(m.Encode())
	require.Contains(encoded, "Infohash: AB00000")
}
