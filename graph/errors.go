package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryPointNotSet is returned when the graph has no edge out of START.
	ErrEntryPointNotSet = errors.New("entry point not set: add an edge from START")

	// ErrNodeNotFound is returned when a referenced node is not in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoCheckpointer is returned when a thread operation is attempted on a
	// runnable compiled without a checkpoint store.
	ErrNoCheckpointer = errors.New("no checkpoint store configured")

	// ErrNoThreadID is returned when a thread operation is attempted without a
	// thread id in the execution config.
	ErrNoThreadID = errors.New("thread id required")
)

// CompileError is returned by Compile when the graph definition is invalid.
// A failed compile produces nothing partial.
type CompileError struct {
	// Reason describes what is wrong with the definition.
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error: %s", e.Reason)
}

// ChannelNotFoundError is returned when a state read or write names a channel
// the schema does not declare.
type ChannelNotFoundError struct {
	// Channel is the undeclared channel name.
	Channel string

	// Node is the node that produced the write, empty for direct reads.
	Node string
}

func (e *ChannelNotFoundError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("channel %q not declared in schema (written by node %s)", e.Channel, e.Node)
	}
	return fmt.Sprintf("channel %q not declared in schema", e.Channel)
}

// TypeMismatchError is returned when a reducer receives a value of the wrong
// shape, such as a non-numeric contribution to a sum channel.
type TypeMismatchError struct {
	// Channel is the channel being reduced.
	Channel string

	// Expected describes the shape the reducer needs.
	Expected string

	// Got is the offending value.
	Got any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("channel %q: expected %s, got %T", e.Channel, e.Expected, e.Got)
}

// RoutingError is returned when a conditional edge resolves to a target
// outside its declared set.
type RoutingError struct {
	// Node is the node whose router misbehaved.
	Node string

	// Target is the value the router returned.
	Target string

	// Declared is the legal target set for the edge.
	Declared []string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("router for node %s returned %q, not in declared targets %v", e.Node, e.Target, e.Declared)
}

// RecursionLimitError is returned when an execution exceeds its super-step
// budget without reaching END.
type RecursionLimitError struct {
	// Limit is the configured maximum number of super-steps.
	Limit int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit of %d super-steps exceeded", e.Limit)
}

// NodeExecutionError wraps an error or panic raised by a node.
type NodeExecutionError struct {
	// Node is the failing node.
	Node string

	// Step is the super-step during which it failed.
	Step int

	// Err is the underlying error. Sibling errors from the same step are
	// joined onto it.
	Err error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed at step %d: %v", e.Node, e.Step, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// CheckpointError wraps a checkpoint store failure. A failed save blocks
// progress: the step is not considered committed.
type CheckpointError struct {
	// Op is the store operation that failed.
	Op string

	// ThreadID is the affected thread.
	ThreadID string

	// Err is the underlying store error.
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s failed for thread %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}
