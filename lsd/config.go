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

// Package lsd implements BEP-14 Local Service Discovery: IPv4 multicast
// announce and listen for peers sharing a torrent on the same LAN, without
// any tracker involved. The IPv6 group (IPv6Addr) is not joined.
package lsd

// IPv4Addr is the well-known LSD multicast group and port.
const IPv4Addr = "239.192.152.143:6771"

// IPv6Addr is the well-known LSD multicast group and port for IPv6.
const IPv6Addr = "[ff15::efc0:988f]:6771"

// Config configures an Announcer.
type Config struct {
	// Cookie identifies this process's own announces so they can be
	// ignored when echoed back by the multicast group. Generated randomly
	// if empty.
	Cookie string
}
