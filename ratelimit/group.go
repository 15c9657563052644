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
package ratelimit

import (
	"time"

	"go.uber.org/atomic"
)

// Admitter is anything that can admit or reject a unit of work without
// blocking.
type Admitter interface {
	TryAdmit(n int64) bool
}

// Group composes several Admitters into one: a transfer is admitted only
// if every member admits it.
type Group struct {
	members []Admitter
}

// NewGroup creates a Group from the given members, evaluated in order.
func NewGroup(members ...Admitter) *Group {
	return &Group{members: members}
}

// TryAdmit returns true iff every member admits n. Admitters already
// consulted are not rolled back if a later member rejects; callers that
// need atomic multi-admitter semantics should order members from cheapest
// to reject to most expensive.
func (g *Group) TryAdmit(n int64) bool {
	for _, m := range g.members {
		if !m.TryAdmit(n) {
			return false
		}
	}
	return true
}

// QueueDepthLimiter admits work only while fewer than Max units are
// outstanding, used to bound the depth of the disk write queue
// (max_queued_writes).
type QueueDepthLimiter struct {
	max     int64
	current *atomic.Int64
}

// NewQueueDepthLimiter creates a QueueDepthLimiter allowing up to max
// units in flight concurrently.
func NewQueueDepthLimiter(max int64) *QueueDepthLimiter {
	return &QueueDepthLimiter{max: max, current: atomic.NewInt64(0)}
}

// TryAdmit attempts to reserve one unit of queue depth. n is ignored; this
// limiter counts items, not bytes.
func (q *QueueDepthLimiter) TryAdmit(n int64) bool {
	if q.current.Load() >= q.max {
		return false
	}
	if q.current.Inc() > q.max {
		q.current.Dec()
		return false
	}
	return true
}

// Release frees one unit of queue depth previously reserved by TryAdmit.
func (q *QueueDepthLimiter) Release() {
	q.current.Dec()
}

// Depth returns the current number of outstanding units.
func (q *QueueDepthLimiter) Depth() int64 {
	return q.current.Load()
}

// bandwidthAdmitter adapts a Limiter's egress reservation into the
// non-blocking Admitter interface by using TryReserve semantics: if the
// reservation wouldn't be immediate, it is cancelled and rejected rather
// than blocked on.
type bandwidthAdmitter struct {
	limiter   *Limiter
	direction string
}

// NewEgressAdmitter wraps l so it can participate in a Group as a
// non-blocking gate on egress bandwidth.
func NewEgressAdmitter(l *Limiter) Admitter {
	return &bandwidthAdmitter{limiter: l, direction: "egress"}
}

// NewIngressAdmitter wraps l so it can participate in a Group as a
// non-blocking gate on ingress bandwidth.
func NewIngressAdmitter(l *Limiter) Admitter {
	return &bandwidthAdmitter{limiter: l, direction: "ingress"}
}

func (b *bandwidthAdmitter) TryAdmit(n int64) bool {
	lim := b.limiter.ingress
	if b.direction == "egress" {
		lim = b.limiter.egress
	}
	if lim == nil {
		return true
	}
	tokens := int(bitsOf(n) / int64(b.limiter.config.TokenSize))
	if tokens == 0 {
		tokens = 1
	}
	r := lim.ReserveN(time.Now(), tokens)
	if !r.OK() || r.Delay() > 0 {
		r.Cancel()
		return false
	}
	return true
}
