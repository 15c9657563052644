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

// Package ratemeasure tracks transfer throughput: a cumulative total, the
// instantaneous last-second rate, and a smoothed average over the last few
// seconds, all driven by an injected clock.Clock so tests don't depend on
// wall-clock timing.
package ratemeasure

import (
	"sync"

	"github.com/andres-erbsen/clock"
)

// numBuckets is the number of one-second buckets retained for the smoothed
// average.
const numBuckets = 10

// RateMeasurer tracks bytes transferred over time. All exported methods
// are safe to call concurrently; an internal mutex guards the buckets.
type RateMeasurer struct {
	mu  sync.Mutex
	clk clock.Clock

	total int64

	buckets    [numBuckets]int64
	bucketTime [numBuckets]int64 // unix seconds each bucket belongs to
	cursor     int
}

// New creates a RateMeasurer driven by clk.
func New(clk clock.Clock) *RateMeasurer {
	return &RateMeasurer{clk: clk}
}

func (r *RateMeasurer) rotate() int64 {
	now := r.clk.Now().Unix()
	if r.bucketTime[r.cursor] != now {
		// Advance the cursor, clearing any seconds skipped over (e.g. if
		// nothing was recorded for a while).
		elapsed := now - r.bucketTime[r.cursor]
		if elapsed > numBuckets || r.bucketTime[r.cursor] == 0 {
			elapsed = numBuckets
		}
		for i := int64(0); i < elapsed; i++ {
			r.cursor = (r.cursor + 1) % numBuckets
			r.buckets[r.cursor] = 0
			r.bucketTime[r.cursor] = now
		}
	}
	return now
}

// Record adds n bytes to the current second's bucket and the running
// total.
func (r *RateMeasurer) Record(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotate()
	r.buckets[r.cursor] += n
	r.total += n
}

// Total returns the cumulative number of bytes recorded.
func (r *RateMeasurer) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// LastSecondRate returns the number of bytes recorded so far in the
// current second.
func (r *RateMeasurer) LastSecondRate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotate()
	return r.buckets[r.cursor]
}

// AverageRate returns the mean bytes/sec over the trailing numBuckets
// seconds.
func (r *RateMeasurer) AverageRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotate()
	var sum int64
	for _, b := range r.buckets {
		sum += b
	}
	return float64(sum) / float64(numBuckets)
}
