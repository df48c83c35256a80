package repository

import (
	"context"
	"encoding/json"
	"sync"
)

// MemorySnapshotStore is a process-local store for development and tests.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]Snapshot)}
}

func (s *MemorySnapshotStore) Load(ctx context.Context, documentID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	out := Snapshot{Doc: append(json.RawMessage(nil), snap.Doc...), Version: snap.Version}
	return &out, nil
}

func (s *MemorySnapshotStore) Save(ctx context.Context, documentID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snaps[documentID] = Snapshot{Doc: append(json.RawMessage(nil), snap.Doc...), Version: snap.Version}
	return nil
}
