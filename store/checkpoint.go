package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a checkpoint does not exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrDuplicateStep is returned when saving a checkpoint for a
	// (thread, step) pair that already has one. Checkpoint history is
	// append-only; an existing step is never overwritten.
	ErrDuplicateStep = errors.New("checkpoint step already exists for thread")
)

// InterruptRecord captures why a thread was suspended, persisted alongside
// the checkpoint so a resumed process can pick up where it left off.
type InterruptRecord struct {
	// Node is the name of the node that triggered the interrupt.
	Node string `json:"node"`

	// Reason is a human-readable description of the interrupt.
	Reason string `json:"reason"`

	// Payload carries arbitrary JSON data supplied by the interrupting node.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Checkpoint is a durable snapshot of one super-step of a graph execution.
// One checkpoint is written per (thread, step); step 0 is the initialized
// state before any node has run.
type Checkpoint struct {
	// ID is a unique, opaque identifier for point lookup.
	ID string `json:"id"`

	// ThreadID scopes the checkpoint to one resumable execution.
	ThreadID string `json:"thread_id"`

	// Step is the super-step number, strictly increasing per thread.
	Step int `json:"step"`

	// State is the merged state after this super-step.
	State map[string]any `json:"state"`

	// PendingNodes are the nodes scheduled for the next super-step.
	PendingNodes []string `json:"pending_nodes"`

	// Interrupt is set when execution suspended at this checkpoint.
	Interrupt *InterruptRecord `json:"interrupt,omitempty"`

	// Metadata carries execution config and provenance for audit.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is the time the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// CheckpointStore is the persistence contract the executor depends on.
// The in-memory and durable implementations satisfy identical semantics;
// the executor never cares which one it is given.
type CheckpointStore interface {
	// Save appends a checkpoint. Saving a (thread, step) pair that already
	// exists fails with ErrDuplicateStep.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load retrieves a checkpoint by its opaque ID, ErrNotFound if absent.
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// LoadLatest retrieves the highest-step checkpoint for a thread,
	// ErrNotFound if the thread has none.
	LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// List returns all checkpoints for a thread ordered by step ascending.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Delete removes all checkpoints for a thread.
	Delete(ctx context.Context, threadID string) error
}

// ValidateForSave checks the invariants every store enforces before writing.
func ValidateForSave(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if cp.ID == "" {
		return fmt.Errorf("checkpoint has empty id")
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint has empty thread id")
	}
	if cp.Step < 0 {
		return fmt.Errorf("checkpoint has negative step %d", cp.Step)
	}
	return nil
}
