package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/smallnest/agentgraph/store"
)

// SqliteCheckpointStore implements store.CheckpointStore using SQLite.
type SqliteCheckpointStore struct {
	db        *sql.DB
	tableName string
}

var _ store.CheckpointStore = (*SqliteCheckpointStore)(nil)

// SqliteOptions configuration for the SQLite connection.
type SqliteOptions struct {
	Path      string
	TableName string // Default "checkpoints"
}

// NewSqliteCheckpointStore opens (or creates) the database and its schema.
func NewSqliteCheckpointStore(opts SqliteOptions) (*SqliteCheckpointStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &SqliteCheckpointStore{
		db:        db,
		tableName: tableName,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the checkpoint table if it doesn't exist. The unique
// (thread_id, step) index is what enforces append-only history.
func (s *SqliteCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			state TEXT NOT NULL,
			pending_nodes TEXT NOT NULL,
			interrupt TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_thread_step ON %s (thread_id, step);
	`, s.tableName, s.tableName, s.tableName)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SqliteCheckpointStore) Close() error {
	return s.db.Close()
}

// Save stores a checkpoint, rejecting duplicate (thread, step) pairs.
func (s *SqliteCheckpointStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	if err := store.ValidateForSave(cp); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	pendingJSON, err := json.Marshal(cp.PendingNodes)
	if err != nil {
		return fmt.Errorf("failed to marshal pending nodes: %w", err)
	}
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var interruptJSON []byte
	if cp.Interrupt != nil {
		interruptJSON, err = json.Marshal(cp.Interrupt)
		if err != nil {
			return fmt.Errorf("failed to marshal interrupt: %w", err)
		}
	}

	var exists int
	dupQuery := fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE thread_id = ? AND step = ?`, s.tableName)
	if err := s.db.QueryRowContext(ctx, dupQuery, cp.ThreadID, cp.Step).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check existing step: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: thread=%s step=%d", store.ErrDuplicateStep, cp.ThreadID, cp.Step)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, step, state, pending_nodes, interrupt, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query,
		cp.ID,
		cp.ThreadID,
		cp.Step,
		string(stateJSON),
		string(pendingJSON),
		nullable(interruptJSON),
		string(metadataJSON),
		cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// Load retrieves a checkpoint by ID.
func (s *SqliteCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, state, pending_nodes, interrupt, metadata, created_at
		FROM %s
		WHERE id = ?
	`, s.tableName)

	cp, err := s.scanRow(s.db.QueryRowContext(ctx, query, checkpointID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
	}
	return cp, err
}

// LoadLatest retrieves the highest-step checkpoint for a thread.
func (s *SqliteCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, state, pending_nodes, interrupt, metadata, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY step DESC
		LIMIT 1
	`, s.tableName)

	cp, err := s.scanRow(s.db.QueryRowContext(ctx, query, threadID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	return cp, err
}

// List returns all checkpoints for a thread ordered by step ascending.
func (s *SqliteCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, state, pending_nodes, interrupt, metadata, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY step ASC
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*store.Checkpoint
	for rows.Next() {
		cp, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return cps, nil
}

// Delete removes all checkpoints for a thread.
func (s *SqliteCheckpointStore) Delete(ctx context.Context, threadID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = ?`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SqliteCheckpointStore) scanRow(row rowScanner) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var stateJSON, pendingJSON, metadataJSON string
	var interruptJSON sql.NullString

	err := row.Scan(
		&cp.ID,
		&cp.ThreadID,
		&cp.Step,
		&stateJSON,
		&pendingJSON,
		&interruptJSON,
		&metadataJSON,
		&cp.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingJSON), &cp.PendingNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending nodes: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal([]byte(metadataJSON), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if interruptJSON.Valid && interruptJSON.String != "" {
		cp.Interrupt = &store.InterruptRecord{}
		if err := json.Unmarshal([]byte(interruptJSON.String), cp.Interrupt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal interrupt: %w", err)
		}
	}

	return &cp, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
