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
package core

import "fmt"

// PeerEndpoint identifies a remote peer by network address, as handed out by
// a tracker, LSD, or manually via AddPeer. PeerID may be zero-value (None)
// if it has not been learned yet.
type PeerEndpoint struct {
	IP     string
	Port   int
	PeerID PeerID
}

// Addr renders the endpoint as "ip:port".
func (e PeerEndpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

func (e PeerEndpoint) String() string {
	if e.PeerID.IsNone() {
		return e.Addr()
	}
	return fmt.Sprintf("%s(%s)", e.Addr(), e.PeerID)
}
