// Package store defines the checkpoint persistence contract for graph
// execution, along with the Checkpoint record itself.
//
// A Checkpoint captures (state, pending node set, step number) for a thread
// after every super-step, making an execution durable and resumable. The
// history per thread is append-only: a store never overwrites an existing
// (thread, step) pair, which is what makes time travel by step or by
// checkpoint ID possible.
//
// Implementations live in the subpackages:
//
//   - store/memory: process-local, for tests and short-lived graphs
//   - store/file: one JSON file per checkpoint under a thread directory
//   - store/sqlite: embedded SQLite database
//   - store/postgres: PostgreSQL via pgx
//   - store/redis: Redis with per-thread step index
//
// All implementations satisfy the same CheckpointStore interface and the
// executor is agnostic to which one it is configured with.
package store
