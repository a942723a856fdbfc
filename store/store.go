/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */

// Package store persists ranking snapshots. Every backend stores the same
// JSON encoding, so a snapshot can be moved between them unchanged.
package store

import (
	"context"
	"sync"

	"github.com/mbsmash/cape-smash/ranking"
)

var (
	_ ranking.Store = (*MemoryStore)(nil)
	_ ranking.Store = (*BoltStore)(nil)
	_ ranking.Store = (*SQLStore)(nil)
	_ ranking.Store = (*S3Store)(nil)
	_ ranking.Store = (*RedisStore)(nil)

	_ ranking.ScoreIndex = (*RedisStore)(nil)
)

// MemoryStore keeps the encoded snapshot in memory. Load decodes a fresh
// copy, so callers never share state with the store.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*ranking.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return nil, nil
	}
	return ranking.UnmarshalSnapshot(m.data)
}

func (m *MemoryStore) Save(ctx context.Context, snap *ranking.Snapshot) error {
	data, err := ranking.MarshalSnapshot(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	return nil
}
