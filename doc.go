// AgentGraph - a durable, interruptible graph execution engine for Go.
//
// AgentGraph runs directed graphs of nodes over a shared, schema-declared
// state. Execution is organized in super-steps: active nodes run
// concurrently against immutable state snapshots, their writes are merged
// deterministically through per-channel reducers, and every step is
// persisted as a checkpoint. Threads survive crashes, pause for human
// approval, and can be forked from any point in their history.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/smallnest/agentgraph
//
// Basic example:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/agentgraph/graph"
//		"github.com/smallnest/agentgraph/store/memory"
//	)
//
//	func main() {
//		schema := graph.NewStateSchema().
//			Channel("input").
//			ListChannel("log").
//			MustBuild()
//
//		g := graph.NewStateGraph(schema)
//		g.AddNodeFunc("work", func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
//			return graph.NewNodeOutput().WithUpdate("log", "handled "+nc.GetString("input")), nil
//		})
//		g.SetEntryPoint("work")
//		g.SetFinishPoint("work")
//
//		runnable, _ := g.Compile(graph.WithCheckpointer(memory.NewMemoryCheckpointStore()))
//		result, _ := runnable.Invoke(context.Background(),
//			map[string]any{"input": "hello"}, graph.WithThreadID("t1"))
//		fmt.Println(result["log"])
//	}
//
// # Packages
//
//   - graph: schema, builder, Pregel executor, interrupts, streaming,
//     routers, retry, visualization
//   - store: the CheckpointStore contract and the shared Checkpoint model
//   - store/memory, store/file, store/sqlite, store/postgres, store/redis:
//     checkpoint backends
//   - log: the Logger interface with stdlib and golog implementations
//
// See the examples directory for complete programs: a sequential pipeline,
// a parallel fan-out, a human-in-the-loop approval workflow backed by
// sqlite, a cyclic OpenAI-backed agent loop, and checkpoint time travel.
package agentgraph
