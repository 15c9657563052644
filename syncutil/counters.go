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

// Package syncutil provides small concurrency-safe primitives shared
// across the module that don't warrant a dependency of their own.
package syncutil

import "sync/atomic"

// Counters is a fixed-size slice of independently-lockable int counters,
// used for things like per-piece peer-availability counts where each index
// is updated far more often than the whole set is read.
type Counters []int64

// NewCounters creates n counters, all initialized to zero.
func NewCounters(n int) Counters {
	return make(Counters, n)
}

// Len returns the number of counters.
func (c Counters) Len() int {
	return len(c)
}

// Get returns the current value of counter i.
func (c Counters) Get(i int) int {
	return int(atomic.LoadInt64(&c[i]))
}

// Set overwrites counter i.
func (c Counters) Set(i int, v int) {
	atomic.StoreInt64(&c[i], int64(v))
}

// Increment adds 1 to counter i.
func (c Counters) Increment(i int) {
	atomic.AddInt64(&c[i], 1)
}

// Decrement subtracts 1 from counter i.
func (c Counters) Decrement(i int) {
	atomic.AddInt64(&c[i], -1)
}
