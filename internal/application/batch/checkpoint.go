package batch

import (
	"context"
	"sync"
)

// MemoryCheckpointStore keeps checkpoints in process memory.
type MemoryCheckpointStore struct {
	mu    sync.Mutex
	saved map[string]*Checkpoint
	// writes counts accepted saves.
	writes int
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{saved: make(map[string]*Checkpoint)}
}

func (s *MemoryCheckpointStore) LoadCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.saved[runID]
	if !ok {
		return nil, nil
	}
	return cp.clone(), nil
}

func (s *MemoryCheckpointStore) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.saved[cp.RunID]; ok && cur.CompletedCount > cp.CompletedCount {
		return nil
	}
	s.saved[cp.RunID] = cp.clone()
	s.writes++
	return nil
}

// Writes returns the number of accepted saves.
func (s *MemoryCheckpointStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (cp *Checkpoint) clone() *Checkpoint {
	out := *cp
	out.Completed = make(map[string]ItemOutcome, len(cp.Completed))
	for k, v := range cp.Completed {
		out.Completed[k] = v
	}
	return &out
}
