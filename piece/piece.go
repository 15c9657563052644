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
package piece

import (
	"sync"
	"sync/atomic"
)

// Status is the lifecycle state of a whole piece.
type Status int

// Possible Status values.
const (
	Incomplete Status = iota
	Verifying
	Complete
)

func (s Status) String() string {
	switch s {
	case Verifying:
		return "verifying"
	case Complete:
		return "complete"
	default:
		return "incomplete"
	}
}

// Piece tracks the blocks composing a single torrent piece, plus the
// rarity/availability bookkeeping used by piece selection.
type Piece struct {
	mu     sync.RWMutex
	Index  int
	Length int64
	Hash   [20]byte

	blocks []*Block
	status Status

	// numPeersWithPiece is maintained by the owning Torrent as peers
	// announce Have/BitField; read by piece selection to compute rarity.
	numPeersWithPiece int32
}

// New creates a Piece of the given length, subdivided into blocks of
// blockSize (the final block may be shorter).
func New(index int, length int64, hash [20]byte, blockSize int) *Piece {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	var blocks []*Block
	var offset int64
	i := 0
	for offset < length {
		l := int64(blockSize)
		if remaining := length - offset; remaining < l {
			l = remaining
		}
		blocks = append(blocks, NewBlock(i, offset, int(l)))
		offset += l
		i++
	}
	return &Piece{Index: index, Length: length, Hash: hash, blocks: blocks, status: Incomplete}
}

// Blocks returns the piece's blocks. Callers must not mutate the slice.
func (p *Piece) Blocks() []*Block {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blocks
}

// BlockCount returns the number of blocks in the piece.
func (p *Piece) BlockCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.blocks)
}

// Status returns the piece's current lifecycle status.
func (p *Piece) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SetStatus overwrites the piece's status.
func (p *Piece) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// AllBlocksWritten reports whether every block has reached the written
// state, meaning the piece is ready for hash verification.
func (p *Piece) AllBlocksWritten() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, b := range p.blocks {
		if b.Status() != BlockWritten {
			return false
		}
	}
	return true
}

// Progress returns the fraction of blocks in the downloaded or written
// state, used as the download_progress term of the importance calculation.
func (p *Piece) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.blocks) == 0 {
		return 0
	}
	done := 0
	for _, b := range p.blocks {
		switch b.Status() {
		case BlockDownloaded, BlockWritten:
			done++
		}
	}
	return float64(done) / float64(len(p.blocks))
}

// ResetOnVerificationFailure rolls every block back to empty and the piece
// back to incomplete, discarding all downloaded data for this piece. This
// is the rollback policy invoked when a piece's SHA-1 hash fails to match
// after all blocks were written.
func (p *Piece) ResetOnVerificationFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.blocks {
		b.Reset()
	}
	p.status = Incomplete
}

// IncPeersWithPiece records that another peer announced possession of this
// piece (via Have or an initial BitField).
func (p *Piece) IncPeersWithPiece() {
	atomic.AddInt32(&p.numPeersWithPiece, 1)
}

// DecPeersWithPiece records that a peer possessing this piece disconnected.
func (p *Piece) DecPeersWithPiece() {
	atomic.AddInt32(&p.numPeersWithPiece, -1)
}

// NumPeersWithPiece returns the current count of known peers holding this
// piece.
func (p *Piece) NumPeersWithPiece() int {
	return int(atomic.LoadInt32(&p.numPeersWithPiece))
}

// Rarity computes 1 - numPeersWithPiece/totalPeers. Returns 1
// (maximally rare) when there are no peers to compare against.
func (p *Piece) Rarity(totalPeers int) float64 {
	if totalPeers <= 0 {
		return 1
	}
	have := p.NumPeersWithPiece()
	if have > totalPeers {
		have = totalPeers
	}
	return 1 - float64(have)/float64(totalPeers)
}

// Importance computes the piece-selection priority score: 2*progress +
// rarity. Higher is more urgent to complete.
func (p *Piece) Importance(totalPeers int) float64 {
	return 2*p.Progress() + p.Rarity(totalPeers)
}
