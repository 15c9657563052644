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

import "github.com/torrentkit/btcore/piece"

// FromPiece adapts a *piece.Piece into the PieceInfo interface this
// package's selector consumes.
func FromPiece(p *piece.Piece) PieceInfo {
	return pieceAdapter{p}
}

type pieceAdapter struct {
	p *piece.Piece
}

func (a pieceAdapter) Index() int { return a.p.Index }

func (a pieceAdapter) Progress() float64 { return a.p.Progress() }

func (a pieceAdapter) Rarity(totalPeers int) float64 { return a.p.Rarity(totalPeers) }
