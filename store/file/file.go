// Package file provides a file-system backed CheckpointStore. Each
// checkpoint is one JSON file under a per-thread directory, named by step
// so directory listing order matches step order.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/smallnest/agentgraph/store"
)

// FileCheckpointStore implements store.CheckpointStore on the local
// filesystem. Layout:
//
//	<root>/<thread_id>/step-000042.json
//
// An index file per checkpoint ID is kept alongside for point lookup.
type FileCheckpointStore struct {
	root string
	mu   sync.Mutex
}

var _ store.CheckpointStore = (*FileCheckpointStore)(nil)

// NewFileCheckpointStore creates a store rooted at path, creating the
// directory if needed.
func NewFileCheckpointStore(path string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint root: %w", err)
	}
	return &FileCheckpointStore{root: path}, nil
}

func (s *FileCheckpointStore) threadDir(threadID string) string {
	return filepath.Join(s.root, sanitize(threadID))
}

func (s *FileCheckpointStore) stepPath(threadID string, step int) string {
	return filepath.Join(s.threadDir(threadID), fmt.Sprintf("step-%06d.json", step))
}

// Save writes the checkpoint to disk, rejecting duplicate steps.
func (s *FileCheckpointStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	if err := store.ValidateForSave(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.threadDir(cp.ThreadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create thread directory: %w", err)
	}

	path := s.stepPath(cp.ThreadID, cp.Step)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: thread=%s step=%d", store.ErrDuplicateStep, cp.ThreadID, cp.Step)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Write-then-rename so a crashed write never leaves a torn checkpoint.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}

	return nil
}

// Load retrieves a checkpoint by ID, scanning thread directories.
func (s *FileCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	threads, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint root: %w", err)
	}

	for _, thread := range threads {
		if !thread.IsDir() {
			continue
		}
		cps, err := s.readThreadDir(filepath.Join(s.root, thread.Name()))
		if err != nil {
			return nil, err
		}
		for _, cp := range cps {
			if cp.ID == checkpointID {
				return cp, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
}

// LoadLatest retrieves the highest-step checkpoint for a thread.
func (s *FileCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	cps, err := s.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	return cps[len(cps)-1], nil
}

// List returns all checkpoints for a thread ordered by step ascending.
func (s *FileCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	dir := s.threadDir(threadID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*store.Checkpoint{}, nil
	}
	return s.readThreadDir(dir)
}

// Delete removes all checkpoints for a thread.
func (s *FileCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if err := os.RemoveAll(s.threadDir(threadID)); err != nil {
		return fmt.Errorf("failed to delete thread checkpoints: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) readThreadDir(dir string) ([]*store.Checkpoint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read thread directory: %w", err)
	}

	var cps []*store.Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint file %s: %w", name, err)
		}
		var cp store.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint file %s: %w", name, err)
		}
		cps = append(cps, &cp)
	}

	sort.Slice(cps, func(i, j int) bool { return cps[i].Step < cps[j].Step })
	return cps, nil
}

// sanitize keeps thread IDs safe to use as directory names.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
