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

// FileEntry describes one file within a (possibly multi-file) torrent, as
// supplied by the meta-info collaborator.
type FileEntry struct {
	RelativePath string
	Size         int64
}

// TorrentMetaData is the immutable description of a torrent's content,
// supplied by an external meta-info (".torrent") parser. Nothing in this
// module constructs a TorrentMetaData from bencoded bytes -- that parsing is
// explicitly out of scope.
type TorrentMetaData interface {
	InfoHash() InfoHash
	PieceCount() int
	PieceLength(i int) int64
	PieceHash(i int) [20]byte
	Files() []FileEntry
	TotalSize() int64
	IsPrivate() bool
	AnnounceGroups() [][]string
}

// staticMetaData is a simple in-memory TorrentMetaData, convenient for
// tests and for callers that already have the pieces parsed elsewhere.
type staticMetaData struct {
	infoHash  InfoHash
	pieceSize int64
	pieceSums [][20]byte
	files     []FileEntry
	private   bool
	announce  [][]string
}

// NewStaticMetaData builds a TorrentMetaData from already-parsed fields.
func NewStaticMetaData(
	infoHash InfoHash,
	pieceSize int64,
	pieceSums [][20]byte,
	files []FileEntry,
	private bool,
	announce [][]string) TorrentMetaData {

	return &staticMetaData{infoHash, pieceSize, pieceSums, files, private, announce}
}

func (m *staticMetaData) InfoHash() InfoHash { return m.infoHash }

func (m *staticMetaData) PieceCount() int { return len(m.pieceSums) }

func (m *staticMetaData) PieceLength(i int) int64 {
	if i == len(m.pieceSums)-1 {
		rem := m.TotalSize() % m.pieceSize
		if rem != 0 {
			return rem
		}
	}
	return m.pieceSize
}

func (m *staticMetaData) PieceHash(i int) [20]byte { return m.pieceSums[i] }

func (m *staticMetaData) Files() []FileEntry { return m.files }

func (m *staticMetaData) TotalSize() int64 {
	var total int64
	for _, f := range m.files {
		total += f.Size
	}
	return total
}

func (m *staticMetaData) IsPrivate() bool { return m.private }

func (m *staticMetaData) AnnounceGroups() [][]string { return m.announce }
