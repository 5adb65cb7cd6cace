// Package memory provides a process-local graph.CheckpointStore, useful for
// tests and single-process deployments that don't need durability across
// restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/arigraph/stepgraph/graph"
)

// Store is a mutex-guarded, per-thread list of checkpoints held in memory.
// The zero value is not usable; use New.
type Store struct {
	mu          sync.Mutex
	checkpoints map[string][]*graph.Checkpoint
}

// New returns an empty Store.
func New() *Store {
	return &Store{checkpoints: make(map[string][]*graph.Checkpoint)}
}

// Save implements graph.CheckpointStore. It stores a copy of the checkpoint
// struct, so reassigning the caller's fields afterward does not affect the
// store; the State, NextNodes, Metadata and PendingInterrupts values are
// shared with the caller, not deep-copied.
func (s *Store) Save(_ context.Context, cfg graph.CheckpointConfig, checkpoint *graph.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *checkpoint
	s.checkpoints[cfg.ThreadID] = append(s.checkpoints[cfg.ThreadID], &cp)
	return nil
}

// Load implements graph.CheckpointStore, returning the most recently saved
// checkpoint for cfg.ThreadID, or nil if none exists.
func (s *Store) Load(_ context.Context, cfg graph.CheckpointConfig) (*graph.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.checkpoints[cfg.ThreadID]
	if len(all) == 0 {
		return nil, nil
	}
	return all[len(all)-1], nil
}

// List implements graph.CheckpointStore, most-recent-first.
func (s *Store) List(_ context.Context, cfg graph.CheckpointConfig, opts graph.ListOptions) ([]*graph.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append([]*graph.Checkpoint(nil), s.checkpoints[cfg.ThreadID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	limit := opts.Limit
	if limit == 0 {
		limit = graph.DefaultListLimit
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
