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

// Package pieceselect implements rarest-first-with-availability piece
// selection: candidates are ranked by importance (progress and rarity) and
// handed out lowest-priority-first via a small binary heap.
package pieceselect

import (
	"container/heap"
	"errors"
)

// Item is a single entry in a priorityQueue: a value ranked by Priority.
// Lower priority values are popped first.
type Item struct {
	Value    interface{}
	Priority float64
	index    int
}

type innerHeap []*Item

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// ErrEmpty is returned by PriorityQueue.Pop when the queue has no items.
var ErrEmpty = errors.New("pieceselect: priority queue is empty")

// PriorityQueue is a min-heap of *Item ordered by ascending Priority.
type PriorityQueue struct {
	h innerHeap
}

// NewPriorityQueue creates a PriorityQueue seeded with items.
func NewPriorityQueue(items ...*Item) *PriorityQueue {
	h := make(innerHeap, len(items))
	copy(h, items)
	heap.Init(&h)
	return &PriorityQueue{h: h}
}

// Len returns the number of items in the queue.
func (pq *PriorityQueue) Len() int {
	return pq.h.Len()
}

// Push inserts item into the queue.
func (pq *PriorityQueue) Push(item *Item) {
	heap.Push(&pq.h, item)
}

// Pop removes and returns the lowest-priority item.
func (pq *PriorityQueue) Pop() (*Item, error) {
	if pq.h.Len() == 0 {
		return nil, ErrEmpty
	}
	return heap.Pop(&pq.h).(*Item), nil
}
