package graph

// ExecutionConfig carries the per-invocation settings: thread identity,
// resume behavior, and the super-step budget.
type ExecutionConfig struct {
	// ThreadID scopes checkpoints to one resumable execution. Required for
	// any operation touching the checkpoint store.
	ThreadID string

	// ResumeFrom is a checkpoint id to restart from instead of the thread's
	// latest. Combine with a fresh ThreadID to fork history (time travel)
	// without colliding with the original thread's steps.
	ResumeFrom string

	// RecursionLimit overrides the compiled super-step budget when positive.
	RecursionLimit int

	// ResumeValue is handed to a node re-executing after an interrupt; the
	// Interrupt helper returns it.
	ResumeValue any

	// Metadata is recorded on every checkpoint the run writes and exposed to
	// nodes through NodeContext.
	Metadata map[string]any
}

// WithThreadID creates a config with the given thread id.
//
// Example:
//
//	result, err := runnable.Invoke(ctx, input, graph.WithThreadID("order-42"))
func WithThreadID(threadID string) *ExecutionConfig {
	return &ExecutionConfig{ThreadID: threadID}
}

// WithResumeFrom sets the checkpoint id to restart from.
func (c *ExecutionConfig) WithResumeFrom(checkpointID string) *ExecutionConfig {
	c.ResumeFrom = checkpointID
	return c
}

// WithRecursionLimit overrides the super-step budget for this run.
func (c *ExecutionConfig) WithRecursionLimit(limit int) *ExecutionConfig {
	c.RecursionLimit = limit
	return c
}

// WithResumeValue sets the value the Interrupt helper will return.
func (c *ExecutionConfig) WithResumeValue(value any) *ExecutionConfig {
	c.ResumeValue = value
	return c
}

// WithMetadata attaches metadata recorded on every checkpoint of the run.
func (c *ExecutionConfig) WithMetadata(metadata map[string]any) *ExecutionConfig {
	c.Metadata = metadata
	return c
}
