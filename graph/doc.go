// Package graph provides a checkpointable, interruptible graph execution
// engine with Pregel-style super-steps.
//
// A graph is a set of named nodes connected by static or conditional edges
// over a declared state schema. Execution proceeds in super-steps: every
// active node runs concurrently against the same immutable snapshot of the
// state, their contributions are merged through per-channel reducers in node
// registration order, routing computes the next active set, and the result is
// persisted as a checkpoint before the next step begins. The same inputs
// always produce the same merged state.
//
// # Building a graph
//
//	schema := graph.NewStateSchema().
//		Channel("input").
//		ListChannel("messages").
//		CounterChannel("steps").
//		MustBuild()
//
//	g := graph.NewStateGraph(schema)
//	g.AddNodeFunc("work", func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
//		return graph.NewNodeOutput().
//			WithUpdate("messages", "working on "+nc.GetString("input")).
//			WithUpdate("steps", 1), nil
//	})
//	g.SetEntryPoint("work")
//	g.SetFinishPoint("work")
//
//	runnable, err := g.Compile()
//
// # Durable execution
//
// Compile with a checkpoint store and run under a thread id; every super-step
// is persisted and the thread survives crashes:
//
//	runnable, _ := g.Compile(graph.WithCheckpointer(memory.NewMemoryCheckpointStore()))
//	result, err := runnable.Invoke(ctx, input, graph.WithThreadID("job-7"))
//
// Invoking a thread that already has checkpoints resumes it from the latest
// one, so retrying a crashed run never re-executes completed steps.
//
// # Human in the loop
//
// Execution suspends at nodes named in WithInterruptBefore/WithInterruptAfter,
// or when a node calls the Interrupt helper. A suspension is returned as a
// *GraphInterrupt error; Resume and ResumeWithValue continue the thread:
//
//	_, err := runnable.Invoke(ctx, input, graph.WithThreadID("review-1"))
//	var gi *graph.GraphInterrupt
//	if errors.As(err, &gi) {
//		// ... collect a decision ...
//		result, err = runnable.ResumeWithValue(ctx, graph.WithThreadID("review-1"), "approved")
//	}
//
// # Streaming
//
// Stream runs the graph while emitting events (full state values, per-node
// updates, conversational messages, or everything in debug mode). The stream
// is an observer: consuming or abandoning it never changes execution.
package graph
