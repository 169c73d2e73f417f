// Package sqlite provides a CheckpointStore backed by SQLite, suitable for
// single-process durable execution without an external database server.
//
// Example:
//
//	cs, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//		Path: "checkpoints.db",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cs.Close()
//
//	compiled := g.MustCompile().WithCheckpointer(cs)
package sqlite
