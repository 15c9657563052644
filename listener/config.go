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

// Package listener accepts inbound peer connections, performs the BEP-3
// handshake against a pending-connection watchdog timeout, and routes
// the resulting connection to the torrent matching its info hash.
package listener

import "time"

// Config configures a Listener.
type Config struct {
	ListenPort       int           `yaml:"listen_port"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	return c
}
