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

import "time"

// Config is the configuration for individual live connections.
type Config struct {

	// HandshakeTimeout bounds dialing, writing, and reading during the
	// handshake exchange.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// InactiveTimeout closes a connection that has sent or received
	// nothing, not even a keep-alive, for this long.
	InactiveTimeout time.Duration `yaml:"inactive_timeout"`

	// KeepAliveInterval is how often a keep-alive frame is sent. One is
	// queued on every interval, whether or not other messages were sent
	// in between.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// SenderBufferSize is the size of the outbound message channel.
	SenderBufferSize int `yaml:"sender_buffer_size"`

	// ReceiverBufferSize is the size of the inbound message channel.
	ReceiverBufferSize int `yaml:"receiver_buffer_size"`
}

func (c Config) applyDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.InactiveTimeout == 0 {
		c.InactiveTimeout = 2 * time.Minute
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 90 * time.Second
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 1000
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 1000
	}
	return c
}
