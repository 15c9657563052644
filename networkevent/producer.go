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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/torrentkit/btcore/log"
)

// Config configures a Producer.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// Producer emits Events to a sink.
type Producer interface {
	Produce(e *Event)
	Close() error
}

type jsonLinesProducer struct {
	file *os.File
}

// NewProducer creates a Producer that appends newline-delimited JSON
// events to config.LogPath. If config.Enabled is false, the returned
// Producer discards every event.
func NewProducer(config Config) (Producer, error) {
	var f *os.File
	if config.Enabled {
		if config.LogPath == "" {
			return nil, errors.New("networkevent: no log path supplied")
		}
		flag := os.O_WRONLY | os.O_CREATE | os.O_APPEND
		var err error
		f, err = os.OpenFile(config.LogPath, flag, 0644)
		if err != nil {
			return nil, fmt.Errorf("networkevent: open %s: %s", config.LogPath, err)
		}
	} else {
		log.Info("network events disabled")
	}
	return &jsonLinesProducer{f}, nil
}

// Produce emits e as a single JSON line.
func (p *jsonLinesProducer) Produce(e *Event) {
	if p.file == nil {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		log.Errorf("networkevent: serialize event: %s", err)
		return
	}
	b = append(b, '\n')
	if _, err := p.file.Write(b); err != nil {
		log.Errorf("networkevent: write event: %s", err)
	}
}

// Close closes the underlying sink, if any.
func (p *jsonLinesProducer) Close() error {
	if p.file == nil {
		return nil
	}
	return p.file.Close()
}

// NoopProducer returns a Producer that discards everything, useful as a
// default when events are not wired to a sink.
func NoopProducer() Producer {
	return &jsonLinesProducer{}
}
