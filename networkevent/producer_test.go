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
package networkevent

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/torrentkit/btcore/core"
)

func TestNewProducerRequiresLogPathWhenEnabled(t *testing.T) {
	require := require.New(t)

	_, err := NewProducer(Config{Enabled: true})
	require.Error(err)
}

func TestDisabledProducerDiscardsEvents(t *testing.T) {
	require := require.New(t)

	p, err := NewProducer(Config{Enabled: false})
	require.NoError(err)
	p.Produce(ConnectedEvent(core.InfoHash{}, core.NonePeerID, core.NonePeerID))
	require.NoError(p.Close())
}

func TestProducerWritesJSONLines(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	p, err := NewProducer(Config{Enabled: true, LogPath: path})
	require.NoError(err)

	p.Produce(ConnectedEvent(core.InfoHash{}, core.NonePeerID, core.NonePeerID))
	p.Produce(StateChangedEvent(core.InfoHash{}, core.NonePeerID, "downloading"))
	require.NoError(p.Close())

	f, err := os.Open(path)
	require.NoError(err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
	}
	require.Equal(2, lines)
}
