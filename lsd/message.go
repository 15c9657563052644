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
	"fmt"
	"strconv"
	"strings"

	"github.com/torrentkit/btcore/core"
)

// Message is a single BT-SEARCH broadcast.
type Message struct {
	Host     string
	Port     int
	InfoHash core.InfoHash
	Cookie   string
}

// Encode renders m in the HTTP-like BT-SEARCH wire form.
func (m Message) Encode() []byte {
	var b strings.Builder
	b.WriteString("BT-SEARCH * HTTP/1.1\r\n")
	fmt.Fprintf(&b, "Host: %s\r\n", m.Host)
	fmt.Fprintf(&b, "Port: %d\r\n", m.Port)
	fmt.Fprintf(&b, "Infohash: %s\r\n", strings.ToUpper(m.InfoHash.Hex()))
	fmt.Fprintf(&b, "cookie: %s\r\n", m.Cookie)
	b.WriteString("\r\n\r\n")
	return []byte(b.String())
}

// Parse decodes a BT-SEARCH broadcast, validating its request line, Host
// header (must match expectedHost for the receiving socket family), and
// that Infohash is exactly 40 hex characters.
func Parse(raw []byte, expectedHost string) (*Message, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || lines[0] != "BT-SEARCH * HTTP/1.1" {
		return nil, fmt.Errorf("lsd: not a BT-SEARCH request")
	}

	headers := make(map[string]string)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}

	host := headers["host"]
	if host != expectedHost {
		return nil, fmt.Errorf("lsd: host %q does not match expected %q", host, expectedHost)
	}

	portStr, ok := headers["port"]
	if !ok {
		return nil, fmt.Errorf("lsd: missing Port header")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("lsd: invalid Port header: %s", err)
	}

	ihHex, ok := headers["infohash"]
	if !ok || len(ihHex) != 40 {
		return nil, fmt.Errorf("lsd: Infohash header must be 40 hex characters")
	}
	ih, err := core.NewInfoHashFromHex(ihHex)
	if err != nil {
		return nil, fmt.Errorf("lsd: invalid Infohash: %s", err)
	}

	return &Message{
		Host:     host,
		Port:     port,
		InfoHash: ih,
		Cookie:   headers["cookie"],
	}, nil
}
