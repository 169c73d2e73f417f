package graph

import (
	"context"
	"fmt"
)

// GraphInterrupt is returned when execution suspends, either at a configured
// interrupt point or because a node requested one. It satisfies error so it
// travels through the normal return path; callers distinguish it from a
// failure with errors.As.
type GraphInterrupt struct {
	// Node that caused the interruption.
	Node string

	// Reason describes why execution paused.
	Reason string

	// Value is the payload provided by a dynamic interrupt, if any.
	Value any

	// State at the time of interruption.
	State State

	// NextNodes are the nodes that will run when the thread resumes.
	NextNodes []string

	// CheckpointID identifies the checkpoint carrying the interrupt marker,
	// empty when running without a checkpoint store.
	CheckpointID string
}

func (e *GraphInterrupt) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("graph interrupted at node %s with value: %v", e.Node, e.Value)
	}
	if e.Reason != "" {
		return fmt.Sprintf("graph interrupted at node %s: %s", e.Node, e.Reason)
	}
	return fmt.Sprintf("graph interrupted at node %s", e.Node)
}

// NodeInterrupt is the error a node raises to request an interrupt from
// inside its body. Prefer the Interrupt helper over constructing it directly.
type NodeInterrupt struct {
	// Node is filled in by the executor.
	Node string

	// Value is the data/query provided by the interrupt.
	Value any
}

func (e *NodeInterrupt) Error() string {
	return fmt.Sprintf("interrupt at node %s: %v", e.Node, e.Value)
}

// Interrupt pauses execution and waits for input. When the node re-executes
// after ResumeWithValue, it returns the resume value instead of pausing, so
// the node body reads linearly:
//
//	answer, err := graph.Interrupt(ctx, "approve this plan?")
//	if err != nil {
//	    return nil, err
//	}
func Interrupt(ctx context.Context, value any) (any, error) {
	if resumeVal := GetResumeValue(ctx); resumeVal != nil {
		return resumeVal, nil
	}
	return nil, &NodeInterrupt{Value: value}
}

type resumeValueKey struct{}

// WithResumeValue adds a resume value to the context. The executor injects it
// when resuming; Interrupt returns it to the re-executing node.
func WithResumeValue(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, resumeValueKey{}, value)
}

// GetResumeValue retrieves the resume value from the context, nil if absent.
func GetResumeValue(ctx context.Context) any {
	return ctx.Value(resumeValueKey{})
}
