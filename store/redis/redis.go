package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/agentgraph/store"
)

// RedisCheckpointStore implements store.CheckpointStore backed by Redis.
// Each checkpoint is stored as a JSON string under <prefix>:cp:<id>, and a
// per-thread sorted set <prefix>:thread:<thread_id> scored by step keeps
// the history ordered.
type RedisCheckpointStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ store.CheckpointStore = (*RedisCheckpointStore)(nil)

// RedisOptions configuration for the Redis connection.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // Default "agentgraph"
}

// NewRedisCheckpointStore creates a new Redis checkpoint store.
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisCheckpointStoreWithClient(client, opts.KeyPrefix)
}

// NewRedisCheckpointStoreWithClient creates a store with an existing client.
// Useful for testing with miniredis.
func NewRedisCheckpointStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisCheckpointStore {
	if keyPrefix == "" {
		keyPrefix = "agentgraph"
	}
	return &RedisCheckpointStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Close closes the underlying client.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

func (s *RedisCheckpointStore) checkpointKey(id string) string {
	return fmt.Sprintf("%s:cp:%s", s.keyPrefix, id)
}

func (s *RedisCheckpointStore) threadKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s", s.keyPrefix, threadID)
}

// Save stores a checkpoint and indexes it under its thread. A second
// checkpoint at the same step for the same thread is rejected with
// ErrDuplicateStep.
func (s *RedisCheckpointStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	if err := store.ValidateForSave(cp); err != nil {
		return err
	}

	threadKey := s.threadKey(cp.ThreadID)

	// The sorted set is scored by step, so a non-empty range at this
	// score means the step is already taken.
	score := fmt.Sprintf("%d", cp.Step)
	existing, err := s.client.ZRangeByScore(ctx, threadKey, &redis.ZRangeBy{
		Min: score,
		Max: score,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to check existing step: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: thread=%s step=%d", store.ErrDuplicateStep, cp.ThreadID, cp.Step)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(cp.ID), data, 0)
	pipe.ZAdd(ctx, threadKey, redis.Z{Score: float64(cp.Step), Member: cp.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID.
func (s *RedisCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return unmarshalCheckpoint(data)
}

// LoadLatest retrieves the highest-step checkpoint for a thread.
func (s *RedisCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.threadKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query thread index: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	return s.Load(ctx, ids[0])
}

// List returns all checkpoints for a thread ordered by step ascending.
func (s *RedisCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query thread index: %w", err)
	}

	var cps []*store.Checkpoint
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// Delete removes all checkpoints for a thread and its index.
func (s *RedisCheckpointStore) Delete(ctx context.Context, threadID string) error {
	threadKey := s.threadKey(threadID)
	ids, err := s.client.ZRange(ctx, threadKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to query thread index: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.checkpointKey(id))
	}
	pipe.Del(ctx, threadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

func unmarshalCheckpoint(data []byte) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
