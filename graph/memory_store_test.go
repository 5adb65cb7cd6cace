package graph

import (
	"context"
	"sort"
	"sync"
)

// memoryStore is a minimal in-process CheckpointStore used only by this
// package's own tests; the real memory-backed store lives in
// checkpoint/memory and is exercised by its own tests.
type memoryStore struct {
	mu          sync.Mutex
	checkpoints map[string][]*Checkpoint
}

func newMemoryStore() *memoryStore {
	return &memoryStore{checkpoints: make(map[string][]*Checkpoint)}
}

func (m *memoryStore) Save(_ context.Context, cfg CheckpointConfig, checkpoint *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *checkpoint
	m.checkpoints[cfg.ThreadID] = append(m.checkpoints[cfg.ThreadID], &cp)
	return nil
}

func (m *memoryStore) Load(_ context.Context, cfg CheckpointConfig) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.checkpoints[cfg.ThreadID]
	if len(all) == 0 {
		return nil, nil
	}
	return all[len(all)-1], nil
}

func (m *memoryStore) List(_ context.Context, cfg CheckpointConfig, opts ListOptions) ([]*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := append([]*Checkpoint(nil), m.checkpoints[cfg.ThreadID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
