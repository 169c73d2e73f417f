// Package memory provides an in-memory CheckpointStore for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/smallnest/agentgraph/store"
)

// MemoryCheckpointStore implements store.CheckpointStore with a mutex-guarded
// map. Checkpoints are deep-copied on the way in and out so callers cannot
// mutate stored state.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	threads map[string][]*store.Checkpoint
	byID    map[string]*store.Checkpoint
}

var _ store.CheckpointStore = (*MemoryCheckpointStore)(nil)

// NewMemoryCheckpointStore creates a new in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		threads: make(map[string][]*store.Checkpoint),
		byID:    make(map[string]*store.Checkpoint),
	}
}

// Save appends a checkpoint, rejecting duplicate (thread, step) pairs.
func (s *MemoryCheckpointStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	if err := store.ValidateForSave(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.threads[cp.ThreadID] {
		if existing.Step == cp.Step {
			return fmt.Errorf("%w: thread=%s step=%d", store.ErrDuplicateStep, cp.ThreadID, cp.Step)
		}
	}

	stored := cloneCheckpoint(cp)
	s.threads[cp.ThreadID] = append(s.threads[cp.ThreadID], stored)
	sort.Slice(s.threads[cp.ThreadID], func(i, j int) bool {
		return s.threads[cp.ThreadID][i].Step < s.threads[cp.ThreadID][j].Step
	})
	s.byID[cp.ID] = stored

	return nil
}

// Load retrieves a checkpoint by ID.
func (s *MemoryCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.byID[checkpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
	}
	return cloneCheckpoint(cp), nil
}

// LoadLatest retrieves the highest-step checkpoint for a thread.
func (s *MemoryCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := s.threads[threadID]
	if len(cps) == 0 {
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	return cloneCheckpoint(cps[len(cps)-1]), nil
}

// List returns all checkpoints for a thread ordered by step ascending.
func (s *MemoryCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := s.threads[threadID]
	out := make([]*store.Checkpoint, 0, len(cps))
	for _, cp := range cps {
		out = append(out, cloneCheckpoint(cp))
	}
	return out, nil
}

// Delete removes all checkpoints for a thread.
func (s *MemoryCheckpointStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cp := range s.threads[threadID] {
		delete(s.byID, cp.ID)
	}
	delete(s.threads, threadID)
	return nil
}

func cloneCheckpoint(cp *store.Checkpoint) *store.Checkpoint {
	out := &store.Checkpoint{
		ID:        cp.ID,
		ThreadID:  cp.ThreadID,
		Step:      cp.Step,
		State:     cloneMap(cp.State),
		Metadata:  cloneMap(cp.Metadata),
		CreatedAt: cp.CreatedAt,
	}
	if len(cp.PendingNodes) > 0 {
		out.PendingNodes = append([]string(nil), cp.PendingNodes...)
	}
	if cp.Interrupt != nil {
		ir := *cp.Interrupt
		ir.Payload = append(ir.Payload[:0:0], ir.Payload...)
		out.Interrupt = &ir
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
