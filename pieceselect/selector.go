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
package pieceselect

import "fmt"

// importanceScale separates the importance term from the tie-break term in
// a single composite priority, so pieces never sort out of importance
// order because of the piece index. This assumes no torrent has anywhere
// close to importanceScale pieces.
const importanceScale = 1e9

// PieceInfo is the subset of piece state the selector needs to compute a
// candidate's importance.
type PieceInfo interface {
	Index() int
	Progress() float64
	Rarity(totalPeers int) float64
}

// AvailableThenRarestFirstSelector selects, among the pieces a remote peer
// has that we lack, the ones with the highest importance
// (2*download_progress + rarity), breaking ties by ascending piece index.
type AvailableThenRarestFirstSelector struct{}

// NewSelector creates an AvailableThenRarestFirstSelector.
func NewSelector() *AvailableThenRarestFirstSelector {
	return &AvailableThenRarestFirstSelector{}
}

// Select returns up to limit piece indices from candidates (pieces the
// remote peer has, per its bitfield/have announcements) for which valid
// returns true, ordered by descending importance.
func (s *AvailableThenRarestFirstSelector) Select(
	limit int,
	candidates []PieceInfo,
	totalPeers int,
	valid func(pieceIndex int) bool) ([]int, error) {

	q := NewPriorityQueue()
	for _, p := range candidates {
		importance := 2*p.Progress() + p.Rarity(totalPeers)
		q.Push(&Item{
			Value:    p.Index(),
			Priority: -importance*importanceScale + float64(p.Index()),
		})
	}

	selected := make([]int, 0, limit)
	for len(selected) < limit && q.Len() > 0 {
		item, err := q.Pop()
		if err != nil {
			return nil, err
		}
		idx, ok := item.Value.(int)
		if !ok {
			return nil, fmt.Errorf("pieceselect: expected int, got %T", item.Value)
		}
		if valid(idx) {
			selected = append(selected, idx)
		}
	}
	return selected, nil
}
