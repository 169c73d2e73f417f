package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallnest/agentgraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteCheckpointStore {
	t.Helper()

	s, err := NewSqliteCheckpointStore(SqliteOptions{
		Path: filepath.Join(t.TempDir(), "checkpoints.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSqliteCheckpointStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := &store.Checkpoint{
		ID:           "cp-1",
		ThreadID:     "invoice-flow",
		Step:         1,
		State:        map[string]any{"total": 42.5, "customer": "acme"},
		PendingNodes: []string{"validate", "charge"},
		CreatedAt:    time.Now().UTC(),
		Metadata:     map[string]any{"region": "eu"},
	}

	err := s.Save(ctx, cp)
	assert.NoError(t, err)

	loaded, err := s.Load(ctx, "cp-1")
	assert.NoError(t, err)
	assert.Equal(t, "invoice-flow", loaded.ThreadID)
	assert.Equal(t, 1, loaded.Step)
	assert.Equal(t, []string{"validate", "charge"}, loaded.PendingNodes)
	assert.Equal(t, "acme", loaded.State["customer"])
	assert.Equal(t, 42.5, loaded.State["total"])
	assert.Equal(t, "eu", loaded.Metadata["region"])
}

func TestSqliteCheckpointStore_LoadNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.LoadLatest(context.Background(), "no-such-thread")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSqliteCheckpointStore_DuplicateStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := &store.Checkpoint{
		ID:        "cp-a",
		ThreadID:  "thread-1",
		Step:      2,
		State:     map[string]any{},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Save(ctx, cp))

	dup := &store.Checkpoint{
		ID:        "cp-b",
		ThreadID:  "thread-1",
		Step:      2,
		State:     map[string]any{},
		CreatedAt: time.Now(),
	}
	err := s.Save(ctx, dup)
	assert.ErrorIs(t, err, store.ErrDuplicateStep)

	// Same step on another thread is fine
	other := &store.Checkpoint{
		ID:        "cp-c",
		ThreadID:  "thread-2",
		Step:      2,
		State:     map[string]any{},
		CreatedAt: time.Now(),
	}
	assert.NoError(t, s.Save(ctx, other))
}

func TestSqliteCheckpointStore_ListAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	threadID := "ticket-triage"

	for _, step := range []int{1, 0, 3, 2} {
		cp := &store.Checkpoint{
			ID:        fmt.Sprintf("cp-%d", step),
			ThreadID:  threadID,
			Step:      step,
			State:     map[string]any{"step": step},
			CreatedAt: time.Now(),
		}
		require.NoError(t, s.Save(ctx, cp))
	}

	list, err := s.List(ctx, threadID)
	assert.NoError(t, err)
	require.Len(t, list, 4)
	for i, cp := range list {
		assert.Equal(t, i, cp.Step)
	}

	latest, err := s.LoadLatest(ctx, threadID)
	assert.NoError(t, err)
	assert.Equal(t, 3, latest.Step)
	assert.Equal(t, "cp-3", latest.ID)
}

func TestSqliteCheckpointStore_InterruptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := &store.Checkpoint{
		ID:           "cp-int",
		ThreadID:     "approval",
		Step:         1,
		State:        map[string]any{"amount": float64(900)},
		PendingNodes: []string{"approve"},
		Interrupt: &store.InterruptRecord{
			Node:    "approve",
			Reason:  "needs_review",
			Payload: []byte(`{"amount":900}`),
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Save(ctx, cp))

	loaded, err := s.Load(ctx, "cp-int")
	assert.NoError(t, err)
	require.NotNil(t, loaded.Interrupt)
	assert.Equal(t, "approve", loaded.Interrupt.Node)
	assert.Equal(t, "needs_review", loaded.Interrupt.Reason)
	assert.JSONEq(t, `{"amount":900}`, string(loaded.Interrupt.Payload))

	// A checkpoint without an interrupt comes back with a nil record
	plain := &store.Checkpoint{
		ID:        "cp-plain",
		ThreadID:  "approval",
		Step:      2,
		State:     map[string]any{},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Save(ctx, plain))

	loaded, err = s.Load(ctx, "cp-plain")
	assert.NoError(t, err)
	assert.Nil(t, loaded.Interrupt)
}

func TestSqliteCheckpointStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for step := range 3 {
		cp := &store.Checkpoint{
			ID:        fmt.Sprintf("del-%d", step),
			ThreadID:  "short-lived",
			Step:      step,
			State:     map[string]any{},
			CreatedAt: time.Now(),
		}
		require.NoError(t, s.Save(ctx, cp))
	}

	err := s.Delete(ctx, "short-lived")
	assert.NoError(t, err)

	list, err := s.List(ctx, "short-lived")
	assert.NoError(t, err)
	assert.Len(t, list, 0)

	_, err = s.Load(ctx, "del-0")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSqliteCheckpointStore_CustomTableName(t *testing.T) {
	s, err := NewSqliteCheckpointStore(SqliteOptions{
		Path:      filepath.Join(t.TempDir(), "custom.db"),
		TableName: "graph_history",
	})
	require.NoError(t, err)
	defer s.Close()

	cp := &store.Checkpoint{
		ID:        "cp-custom",
		ThreadID:  "t",
		Step:      0,
		State:     map[string]any{"ok": true},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Save(context.Background(), cp))

	loaded, err := s.Load(context.Background(), "cp-custom")
	assert.NoError(t, err)
	assert.Equal(t, true, loaded.State["ok"])
}
