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

// Package request implements the outgoing block-request scheduler (which
// blocks to ask which peer for, pipeline limits, expiry, endgame
// duplication) and the gated incoming request pipeline that serves blocks
// back out.
package request

import (
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/torrentkit/btcore/core"
)

// Status enumerates the lifecycle of a single outstanding block request.
type Status int

// Possible Status values.
const (
	StatusPending Status = iota
	StatusExpired
	StatusUnsent
	StatusInvalid
)

// BlockKey uniquely identifies a block within a torrent: (piece, block).
type BlockKey struct {
	Piece int
	Block int
}

// Request represents a single outstanding or resolved block request.
type Request struct {
	Key    BlockKey
	PeerID core.PeerID
	Status Status

	sentAt time.Time
}

// Manager tracks thread-safe outgoing block-request bookkeeping. It makes
// no attempt to actually send or receive data over the wire.
type Manager struct {
	mu sync.RWMutex

	requests       map[BlockKey][]*Request
	requestsByPeer map[core.PeerID]map[BlockKey]*Request

	clk           clock.Clock
	timeout       time.Duration
	pipelineLimit int
}

// NewManager creates a Manager with the given per-request timeout and
// per-peer pipeline limit.
func NewManager(clk clock.Clock, timeout time.Duration, pipelineLimit int) *Manager {
	return &Manager{
		requests:       make(map[BlockKey][]*Request),
		requestsByPeer: make(map[core.PeerID]map[BlockKey]*Request),
		clk:            clk,
		timeout:        timeout,
		pipelineLimit:  pipelineLimit,
	}
}

// Reserve records peerID as having been asked for each of candidates (in
// order), stopping once the peer's pipeline quota is exhausted. If
// allowDuplicates is true (endgame mode), blocks already reserved under a
// different peer remain eligible; otherwise they are skipped. Returns the
// subset of candidates actually reserved.
func (m *Manager) Reserve(peerID core.PeerID, candidates []BlockKey, allowDuplicates bool) []BlockKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	quota := m.requestQuotaLocked(peerID)
	if quota <= 0 {
		return nil
	}

	reserved := make([]BlockKey, 0, quota)
	for _, key := range candidates {
		if len(reserved) >= quota {
			break
		}
		if !m.validRequestLocked(peerID, key, allowDuplicates) {
			continue
		}
		r := &Request{Key: key, PeerID: peerID, Status: StatusPending, sentAt: m.clk.Now()}
		m.requests[key] = append(m.requests[key], r)
		if _, ok := m.requestsByPeer[peerID]; !ok {
			m.requestsByPeer[peerID] = make(map[BlockKey]*Request)
		}
		m.requestsByPeer[peerID][key] = r
		reserved = append(reserved, key)
	}
	return reserved
}

// MarkUnsent marks key's request to peerID as safe to retry.
func (m *Manager) MarkUnsent(peerID core.PeerID, key BlockKey) {
	m.markStatus(peerID, key, StatusUnsent)
}

// MarkInvalid marks key's request to peerID as having produced bad data
// (e.g. a Piece message whose offset or length did not match the block).
func (m *Manager) MarkInvalid(peerID core.PeerID, key BlockKey) {
	m.markStatus(peerID, key, StatusInvalid)
}

// Accept consumes the pending request for key if peerID currently holds
// one, clearing key's bookkeeping across every peer and returning true.
// Returns false without mutating anything if peerID has no such
// outstanding request -- unsolicited or already-resolved Piece data should
// be discarded rather than accepted.
func (m *Manager) Accept(peerID core.PeerID, key BlockKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm, ok := m.requestsByPeer[peerID]
	if !ok {
		return false
	}
	r, ok := pm[key]
	if !ok || r.Status != StatusPending {
		return false
	}

	delete(m.requests, key)
	for pid, byKey := range m.requestsByPeer {
		delete(byKey, key)
		if len(byKey) == 0 {
			delete(m.requestsByPeer, pid)
		}
	}
	return true
}

// Clear deletes all bookkeeping for key, across every peer. Call this once
// a block has been successfully written.
func (m *Manager) Clear(key BlockKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.requests, key)
	for peerID, pm := range m.requestsByPeer {
		delete(pm, key)
		if len(pm) == 0 {
			delete(m.requestsByPeer, peerID)
		}
	}
}

// ClearPeer deletes all bookkeeping associated with peerID, typically
// called when the peer disconnects. Idempotent; cancellation of a request
// that no longer exists is a no-op.
func (m *Manager) ClearPeer(peerID core.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.requestsByPeer, peerID)
	for key, rs := range m.requests {
		filtered := rs[:0]
		for _, r := range rs {
			if r.PeerID != peerID {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) == 0 {
			delete(m.requests, key)
		} else {
			m.requests[key] = filtered
		}
	}
}

// PendingKeys returns, in sorted order, the blocks currently pending
// against peerID. Intended for tests and diagnostics.
func (m *Manager) PendingKeys(peerID core.PeerID) []BlockKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []BlockKey
	for k, r := range m.requestsByPeer[peerID] {
		if r.Status == StatusPending && !m.expiredLocked(r) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Piece != keys[j].Piece {
			return keys[i].Piece < keys[j].Piece
		}
		return keys[i].Block < keys[j].Block
	})
	return keys
}

// FailedRequests returns a snapshot of every request that is no longer
// pending (expired, unsent, or invalid), used to decide what to
// re-request.
func (m *Manager) FailedRequests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []Request
	for _, rs := range m.requests {
		for _, r := range rs {
			status := r.Status
			if status == StatusPending && m.expiredLocked(r) {
				status = StatusExpired
			}
			if status != StatusPending {
				failed = append(failed, Request{Key: r.Key, PeerID: r.PeerID, Status: status})
			}
		}
	}
	return failed
}

func (m *Manager) validRequestLocked(peerID core.PeerID, key BlockKey, allowDuplicates bool) bool {
	for _, r := range m.requests[key] {
		if r.Status == StatusPending && !m.expiredLocked(r) {
			if r.PeerID == peerID {
				return false
			}
			if !allowDuplicates {
				return false
			}
		}
	}
	return true
}

func (m *Manager) requestQuotaLocked(peerID core.PeerID) int {
	quota := m.pipelineLimit
	pm, ok := m.requestsByPeer[peerID]
	if !ok {
		return quota
	}
	for _, r := range pm {
		if r.Status == StatusPending && !m.expiredLocked(r) {
			quota--
			if quota == 0 {
				break
			}
		}
	}
	return quota
}

func (m *Manager) expiredLocked(r *Request) bool {
	return m.clk.Now().After(r.sentAt.Add(m.timeout))
}

func (m *Manager) markStatus(peerID core.PeerID, key BlockKey, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests[key] {
		if r.PeerID == peerID {
			r.Status = s
		}
	}
}
