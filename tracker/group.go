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

// Package tracker defines the contract a Torrent uses to announce itself
// and discover peers across one or more tracker tiers. Concrete
// HTTP/UDP tracker clients are external collaborators, not shipped here.
package tracker

import "github.com/torrentkit/btcore/core"

// Group announces a single torrent across whatever tiers of trackers it
// was configured with, returning the union of discovered peers.
type Group interface {
	// Announce reports a lifecycle event and returns peers the tracker(s)
	// know about for this torrent.
	Announce(event core.AnnounceEvent) ([]core.PeerEndpoint, error)

	// Update re-announces with AnnounceNone, refreshing the peer set on
	// the tracker's regular interval.
	Update() ([]core.PeerEndpoint, error)
}

// NoopGroup is a Group that announces to nothing and returns no peers,
// useful for torrents seeded entirely from manually added or LSD-discovered
// peers.
type NoopGroup struct{}

var _ Group = NoopGroup{}

// Announce implements Group.
func (NoopGroup) Announce(event core.AnnounceEvent) ([]core.PeerEndpoint, error) {
	return nil, nil
}

// Update implements Group.
func (NoopGroup) Update() ([]core.PeerEndpoint, error) {
	return nil, nil
}
