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
package torrent

import "time"

// Config configures a Torrent's scheduling behavior.
type Config struct {
	// TickInterval is how often the torrent re-evaluates piece selection
	// and request expiry.
	TickInterval time.Duration `yaml:"tick_interval"`

	PieceRequestTimeout time.Duration `yaml:"piece_request_timeout"`

	MaxDownloadConnections int `yaml:"max_download_connections"`
	MaxUploadConnections   int `yaml:"max_upload_connections"`

	MaxConcurrentPieceRequests int `yaml:"max_concurrent_piece_requests"`

	// EndgameThreshold is the fraction of pieces remaining (0,1] below
	// which duplicate requests across peers are allowed to finish the
	// torrent faster.
	EndgameThreshold float64 `yaml:"endgame_threshold"`
}

func (c Config) applyDefaults() Config {
	if c.TickInterval == 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.PieceRequestTimeout == 0 {
		c.PieceRequestTimeout = 20 * time.Second
	}
	if c.MaxDownloadConnections == 0 {
		c.MaxDownloadConnections = 50
	}
	if c.MaxUploadConnections == 0 {
		c.MaxUploadConnections = 50
	}
	if c.MaxConcurrentPieceRequests == 0 {
		c.MaxConcurrentPieceRequests = 10
	}
	if c.EndgameThreshold == 0 {
		c.EndgameThreshold = 0.05
	}
	return c
}
