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

// Package config aggregates every sub-package's configuration into the
// single document an operator hands to an Engine. It carries no behavior
// of its own; each nested config is applied by the sub-package that owns
// it. AllocateFullFileSizes and Disk are carried here but no package
// applies them.
package config

import (
	"github.com/torrentkit/btcore/conn"
	"github.com/torrentkit/btcore/listener"
	"github.com/torrentkit/btcore/log"
	"github.com/torrentkit/btcore/lsd"
	"github.com/torrentkit/btcore/ratelimit"
	"github.com/torrentkit/btcore/torrent"
)

// Config is the top-level Engine configuration.
type Config struct {
	// Peer settings: listen_port and handshake_timeout (Listener);
	// handshake_timeout, inactive_timeout and keep_alive_interval (Conn).
	// The connection limits live in Torrent.
	Listener listener.Config `yaml:"listener"`
	Conn     conn.Config     `yaml:"conn"`

	// Torrent settings: piece_request_timeout,
	// max_concurrent_piece_requests, max_download_connections,
	// max_upload_connections, tick_interval, endgame_threshold.
	Torrent torrent.Config `yaml:"torrent"`

	// AllocateFullFileSizes names the choice between a diskio.Backend's
	// CreateAllocated (true) and CreateEmpty (false). Nothing in this
	// module reads it, and neither Create method is called here.
	AllocateFullFileSizes bool `yaml:"allocate_full_file_sizes"`

	// Disk settings: max_queued_writes, max_concurrent_writes.
	Disk DiskConfig `yaml:"disk"`

	// Bandwidth caps download_bandwidth_limit / upload_bandwidth_limit as
	// ratelimit.Config's ingress/egress token buckets respectively.
	Bandwidth ratelimit.Config `yaml:"bandwidth"`

	LSD lsd.Config `yaml:"lsd"`

	// DisableLSD turns off local service discovery entirely. Useful in
	// environments where UDP multicast is blocked or undesired.
	DisableLSD bool `yaml:"disable_lsd"`

	Log log.Config `yaml:"log"`
}

// DiskConfig holds limits for driving the disk backend. The Engine does
// not read it: no ratelimit.QueueDepthLimiter is built from
// MaxQueuedWrites, and WriteBlock calls are not bounded by
// MaxConcurrentWrites.
type DiskConfig struct {
	// MaxQueuedWrites is the configured write backlog.
	MaxQueuedWrites int64 `yaml:"max_queued_writes"`

	// MaxConcurrentWrites is the configured number of WriteBlock calls in
	// flight at once.
	MaxConcurrentWrites int `yaml:"max_concurrent_writes"`
}

func (c DiskConfig) applyDefaults() DiskConfig {
	if c.MaxQueuedWrites == 0 {
		c.MaxQueuedWrites = 200
	}
	if c.MaxConcurrentWrites == 0 {
		c.MaxConcurrentWrites = 4
	}
	return c
}

// applyDefaults fills in the disk sub-config. The remaining nested configs
// apply their own defaults in their constructors, mirroring how each
// sub-package is also usable standalone.
func (c Config) applyDefaults() Config {
	c.Disk = c.Disk.applyDefaults()
	return c
}
