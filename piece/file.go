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

import "fmt"

// File describes one file of a (possibly multi-file) torrent, positioned
// within the overall concatenated piece space by its StartOffset.
type File struct {
	RelativePath string
	Size         int64
	StartOffset  int64
}

// FileTable maps absolute byte offsets within a torrent's piece space to
// the file(s) that offset falls within, for multi-file torrents where a
// piece or block may straddle a file boundary.
type FileTable struct {
	files []File
	total int64
}

// NewFileTable builds a FileTable from files in their torrent-defined
// order, computing contiguous StartOffsets.
func NewFileTable(files []File) *FileTable {
	var offset int64
	out := make([]File, len(files))
	for i, f := range files {
		f.StartOffset = offset
		out[i] = f
		offset += f.Size
	}
	return &FileTable{files: out, total: offset}
}

// TotalSize returns the sum of all file sizes.
func (t *FileTable) TotalSize() int64 {
	return t.total
}

// Files returns the files in order.
func (t *FileTable) Files() []File {
	return t.files
}

// Span is one (file, byte range within that file) segment of a larger
// piece/block range.
type Span struct {
	FileIndex  int
	FileOffset int64
	Length     int64
}

// Locate returns the ordered list of file spans that [offset, offset+length)
// covers, splitting at file boundaries as needed.
func (t *FileTable) Locate(offset, length int64) ([]Span, error) {
	if offset < 0 || length < 0 || offset+length > t.total {
		return nil, fmt.Errorf("piece: range [%d,%d) out of bounds [0,%d)", offset, offset+length, t.total)
	}
	var spans []Span
	remaining := length
	cur := offset
	for i, f := range t.files {
		if remaining == 0 {
			break
		}
		fileEnd := f.StartOffset + f.Size
		if cur >= fileEnd {
			continue
		}
		if cur < f.StartOffset {
			// Should not happen given earlier files cover [0, f.StartOffset).
			continue
		}
		withinFile := cur - f.StartOffset
		avail := f.Size - withinFile
		take := remaining
		if take > avail {
			take = avail
		}
		spans = append(spans, Span{FileIndex: i, FileOffset: withinFile, Length: take})
		cur += take
		remaining -= take
	}
	return spans, nil
}
