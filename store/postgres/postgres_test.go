package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/smallnest/agentgraph/store"
	"github.com/stretchr/testify/assert"
)

const selectColumns = "SELECT id, thread_id, step, state, pending_nodes, interrupt, metadata, created_at"

func TestPostgresCheckpointStore_Save(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	cp := &store.Checkpoint{
		ID:           "cp-1",
		ThreadID:     "thread-1",
		Step:         2,
		State:        map[string]any{"foo": "bar"},
		PendingNodes: []string{"node-b"},
		CreatedAt:    time.Now(),
		Metadata:     map[string]any{"run": "nightly"},
	}

	stateJSON, _ := json.Marshal(cp.State)
	pendingJSON, _ := json.Marshal(cp.PendingNodes)
	metadataJSON, _ := json.Marshal(cp.Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(
			cp.ID,
			cp.ThreadID,
			cp.Step,
			stateJSON,
			pendingJSON,
			[]byte(nil), // no interrupt
			metadataJSON,
			cp.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.Save(context.Background(), cp)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save_DuplicateStep(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	cp := &store.Checkpoint{
		ID:        "cp-dup",
		ThreadID:  "thread-1",
		Step:      2,
		State:     map[string]any{},
		CreatedAt: time.Now(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = s.Save(context.Background(), cp)
	assert.ErrorIs(t, err, store.ErrDuplicateStep)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save_MarshalError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	cp := &store.Checkpoint{
		ID:       "cp-1",
		ThreadID: "thread-1",
		Step:     0,
		State: map[string]any{
			"invalid": make(chan int), // channels cannot be marshaled to JSON
		},
		CreatedAt: time.Now(),
	}

	err = s.Save(context.Background(), cp)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal state")
}

func TestPostgresCheckpointStore_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	createdAt := time.Now()
	stateJSON, _ := json.Marshal(map[string]any{"foo": "bar"})
	pendingJSON, _ := json.Marshal([]string{"node-b"})
	interruptJSON, _ := json.Marshal(&store.InterruptRecord{
		Node:    "node-b",
		Reason:  "approval",
		Payload: []byte(`{"k":1}`),
	})

	rows := pgxmock.NewRows([]string{"id", "thread_id", "step", "state", "pending_nodes", "interrupt", "metadata", "created_at"}).
		AddRow("cp-1", "thread-1", 2, stateJSON, pendingJSON, interruptJSON, []byte(`{}`), createdAt)

	mock.ExpectQuery(regexp.QuoteMeta(selectColumns)).
		WithArgs("cp-1").
		WillReturnRows(rows)

	loaded, err := s.Load(context.Background(), "cp-1")
	assert.NoError(t, err)
	assert.Equal(t, "cp-1", loaded.ID)
	assert.Equal(t, "thread-1", loaded.ThreadID)
	assert.Equal(t, 2, loaded.Step)
	assert.Equal(t, "bar", loaded.State["foo"])
	assert.Equal(t, []string{"node-b"}, loaded.PendingNodes)
	assert.NotNil(t, loaded.Interrupt)
	assert.Equal(t, "approval", loaded.Interrupt.Reason)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Load_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	mock.ExpectQuery(regexp.QuoteMeta(selectColumns)).
		WithArgs("non-existent").
		WillReturnError(pgx.ErrNoRows)

	loaded, err := s.Load(context.Background(), "non-existent")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, loaded)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Load_InvalidStateJSON(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	rows := pgxmock.NewRows([]string{"id", "thread_id", "step", "state", "pending_nodes", "interrupt", "metadata", "created_at"}).
		AddRow("cp-1", "thread-1", 0, []byte("{invalid json"), []byte(`[]`), []byte(nil), []byte(`{}`), time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(selectColumns)).
		WithArgs("cp-1").
		WillReturnRows(rows)

	loaded, err := s.Load(context.Background(), "cp-1")
	assert.Error(t, err)
	assert.Nil(t, loaded)
	assert.Contains(t, err.Error(), "failed to unmarshal state")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_LoadLatest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	stateJSON, _ := json.Marshal(map[string]any{"step": float64(5)})
	pendingJSON, _ := json.Marshal([]string{})

	rows := pgxmock.NewRows([]string{"id", "thread_id", "step", "state", "pending_nodes", "interrupt", "metadata", "created_at"}).
		AddRow("cp-5", "thread-1", 5, stateJSON, pendingJSON, []byte(nil), []byte(nil), time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY step DESC")).
		WithArgs("thread-1").
		WillReturnRows(rows)

	latest, err := s.LoadLatest(context.Background(), "thread-1")
	assert.NoError(t, err)
	assert.Equal(t, 5, latest.Step)
	assert.Equal(t, "cp-5", latest.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_LoadLatest_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY step DESC")).
		WithArgs("empty-thread").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.LoadLatest(context.Background(), "empty-thread")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	pendingJSON, _ := json.Marshal([]string{})
	rows := pgxmock.NewRows([]string{"id", "thread_id", "step", "state", "pending_nodes", "interrupt", "metadata", "created_at"})
	for step := range 3 {
		stateJSON, _ := json.Marshal(map[string]any{"step": step})
		rows.AddRow("cp-"+string(rune('0'+step)), "thread-1", step, stateJSON, pendingJSON, []byte(nil), []byte(nil), time.Now())
	}

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY step ASC")).
		WithArgs("thread-1").
		WillReturnRows(rows)

	list, err := s.List(context.Background(), "thread-1")
	assert.NoError(t, err)
	assert.Len(t, list, 3)
	for i, cp := range list {
		assert.Equal(t, i, cp.Step)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_List_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	rows := pgxmock.NewRows([]string{"id", "thread_id", "step", "state", "pending_nodes", "interrupt", "metadata", "created_at"})

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY step ASC")).
		WithArgs("empty-thread").
		WillReturnRows(rows)

	list, err := s.List(context.Background(), "empty-thread")
	assert.NoError(t, err)
	assert.Len(t, list, 0)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_List_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY step ASC")).
		WithArgs("thread-1").
		WillReturnError(errors.New("database connection failed"))

	list, err := s.List(context.Background(), "thread-1")
	assert.Error(t, err)
	assert.Nil(t, list)
	assert.Contains(t, err.Error(), "failed to list checkpoints")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE thread_id = $1")).
		WithArgs("thread-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	err = s.Delete(context.Background(), "thread-1")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_InitSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	err = s.InitSchema(context.Background())
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_InitSchema_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnError(errors.New("database connection failed"))

	err = s.InitSchema(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create schema")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresCheckpointStoreWithPool_DefaultTableName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock, "")
	assert.NotNil(t, s)
	assert.Equal(t, "checkpoints", s.tableName)
}

func TestPostgresCheckpointStore_Close(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)

	s := NewPostgresCheckpointStoreWithPool(mock, "checkpoints")
	assert.NotPanics(t, func() {
		s.Close()
	})
}
