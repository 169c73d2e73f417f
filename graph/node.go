package graph

import "context"

// Node is the unit of work scheduled by the executor. Execute receives a
// read-only snapshot of the state and returns the contributions to merge.
// A node must never mutate the snapshot it is handed.
type Node interface {
	// Name is the unique identifier of the node within a graph.
	Name() string

	// Execute runs the node against the step's state snapshot.
	Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error)
}

// NodeContext is the view of the execution a node receives.
type NodeContext struct {
	// State is a snapshot of the merged state at the start of the step.
	// Writes from nodes running in the same step are never visible here.
	State State

	// Step is the current super-step number.
	Step int

	// ThreadID is the executing thread, empty for unpersisted runs.
	ThreadID string

	// Metadata is the execution config metadata, shared across nodes.
	Metadata map[string]any
}

// Get reads a channel from the snapshot, nil if unset.
func (nc *NodeContext) Get(channel string) any {
	return nc.State[channel]
}

// GetString reads a channel as a string, "" if unset or not a string.
func (nc *NodeContext) GetString(channel string) string {
	s, _ := nc.State[channel].(string)
	return s
}

// GetInt reads a channel as an int, coercing the numeric types a JSON
// round-trip produces. Zero if unset or non-numeric.
func (nc *NodeContext) GetInt(channel string) int {
	f, ok := asFloat(nc.State[channel])
	if !ok {
		return 0
	}
	return int(f)
}

// GetBool reads a channel as a bool, false if unset or not a bool.
func (nc *NodeContext) GetBool(channel string) bool {
	b, _ := nc.State[channel].(bool)
	return b
}

// GetList reads a channel as a list, nil if unset or not a list.
func (nc *NodeContext) GetList(channel string) []any {
	l, _ := nc.State[channel].([]any)
	return l
}

// InterruptRequest asks the executor to suspend the thread after this step.
type InterruptRequest struct {
	// Reason is a human-readable description of why execution paused.
	Reason string

	// Data is a JSON-serializable payload surfaced to the operator, such as
	// the content awaiting approval.
	Data any
}

// NodeOutput carries a node's channel contributions and optional interrupt.
type NodeOutput struct {
	// Updates maps channel names to contributions. Every key must be a
	// declared channel.
	Updates map[string]any

	// Interrupt, when set, suspends the thread. The node's own Updates are
	// withheld and the node re-executes on resume.
	Interrupt *InterruptRequest
}

// NewNodeOutput returns an empty output.
func NewNodeOutput() *NodeOutput {
	return &NodeOutput{Updates: make(map[string]any)}
}

// WithUpdate adds one channel contribution.
func (o *NodeOutput) WithUpdate(channel string, value any) *NodeOutput {
	if o.Updates == nil {
		o.Updates = make(map[string]any)
	}
	o.Updates[channel] = value
	return o
}

// WithUpdates adds a batch of channel contributions.
func (o *NodeOutput) WithUpdates(updates map[string]any) *NodeOutput {
	if o.Updates == nil {
		o.Updates = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		o.Updates[k] = v
	}
	return o
}

// WithInterrupt marks the output as interrupting with a reason.
func (o *NodeOutput) WithInterrupt(reason string) *NodeOutput {
	o.Interrupt = &InterruptRequest{Reason: reason}
	return o
}

// WithInterruptData marks the output as interrupting with a reason and payload.
func (o *NodeOutput) WithInterruptData(reason string, data any) *NodeOutput {
	o.Interrupt = &InterruptRequest{Reason: reason, Data: data}
	return o
}

// InterruptOutput is a shorthand for an output that only interrupts.
func InterruptOutput(reason string) *NodeOutput {
	return NewNodeOutput().WithInterrupt(reason)
}

// InterruptOutputWithData is InterruptOutput with a payload.
func InterruptOutputWithData(reason string, data any) *NodeOutput {
	return NewNodeOutput().WithInterruptData(reason, data)
}

// NodeFunc is the function shape for inline nodes.
type NodeFunc func(ctx context.Context, nc *NodeContext) (*NodeOutput, error)

// FunctionNode wraps a plain function as a Node.
type FunctionNode struct {
	name string
	fn   NodeFunc
}

// NewFunctionNode creates a named node from a function.
func NewFunctionNode(name string, fn NodeFunc) *FunctionNode {
	return &FunctionNode{name: name, fn: fn}
}

func (n *FunctionNode) Name() string {
	return n.name
}

func (n *FunctionNode) Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	return n.fn(ctx, nc)
}

// PassthroughNode contributes nothing. Useful as a join point for fan-in or
// as a labeled interrupt location.
type PassthroughNode struct {
	name string
}

// NewPassthroughNode creates a node that emits an empty output.
func NewPassthroughNode(name string) *PassthroughNode {
	return &PassthroughNode{name: name}
}

func (n *PassthroughNode) Name() string {
	return n.name
}

func (n *PassthroughNode) Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	return NewNodeOutput(), nil
}
