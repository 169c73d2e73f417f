package graph

import (
	"context"
	"time"
)

// StreamMode selects which events a stream carries.
type StreamMode string

const (
	// StreamModeValues emits the full merged state after each step.
	StreamModeValues StreamMode = "values"

	// StreamModeUpdates emits each node's contributions as they are merged.
	StreamModeUpdates StreamMode = "updates"

	// StreamModeMessages emits only updates to conversational channels.
	StreamModeMessages StreamMode = "messages"

	// StreamModeDebug emits every event, including node start and end.
	StreamModeDebug StreamMode = "debug"
)

// StreamEventType identifies what a StreamEvent describes.
type StreamEventType string

const (
	// EventNodeStart fires when a node begins executing.
	EventNodeStart StreamEventType = "node_start"

	// EventNodeEnd fires when a node finishes, successfully or not.
	EventNodeEnd StreamEventType = "node_end"

	// EventValues carries the full merged state after a step.
	EventValues StreamEventType = "values"

	// EventUpdates carries one node's merged contributions.
	EventUpdates StreamEventType = "updates"

	// EventMessages carries contributions to conversational channels.
	EventMessages StreamEventType = "messages"

	// EventInterrupt fires when execution suspends.
	EventInterrupt StreamEventType = "interrupt"

	// EventError is the terminal event of a failed run.
	EventError StreamEventType = "error"

	// EventDone is the terminal event of a completed run.
	EventDone StreamEventType = "done"
)

// StreamEvent is one observation of a running execution. The emitter is a
// pure observer: consuming, ignoring, or abandoning events never changes
// merge results or checkpoints.
type StreamEvent struct {
	// Type of the event.
	Type StreamEventType

	// Node that the event concerns, empty for step-level events.
	Node string

	// Step is the super-step the event belongs to.
	Step int

	// State is the full merged state, set on values, interrupt, and done.
	State State

	// Updates are the contributions carried by updates/messages events.
	Updates map[string]any

	// Error is set on error events and failed node_end events.
	Error error

	// Timestamp when the event occurred.
	Timestamp time.Time

	// Duration of the node run, set on node_end.
	Duration time.Duration
}

// StreamResult is the handle a streaming execution returns. Events is closed
// after the terminal done or error event; Cancel aborts the run. A consumer
// that stops reading early should call Cancel; if it simply walks away, the
// run still completes, shedding the oldest buffered events as needed.
type StreamResult struct {
	Events <-chan StreamEvent
	Cancel context.CancelFunc
}

// streamBufferSize bounds the event channel. A consumer that keeps reading
// sees every event; once the buffer fills, the oldest buffered event is
// dropped so an abandoned stream can never wedge the run.
const streamBufferSize = 64

type emitter struct {
	ch   chan StreamEvent
	mode StreamMode
}

func newEmitter(mode StreamMode) *emitter {
	return &emitter{
		ch:   make(chan StreamEvent, streamBufferSize),
		mode: mode,
	}
}

func (e *emitter) emit(ctx context.Context, ev StreamEvent) {
	if e == nil || !e.shouldEmit(ev.Type) {
		return
	}
	ev.Timestamp = time.Now()
	select {
	case e.ch <- ev:
	case <-ctx.Done():
	default:
		// Buffer full: the consumer stopped reading, or fell far behind.
		// Evict the oldest event to make room so the run keeps moving;
		// terminal events are emitted last and therefore always land.
		select {
		case <-e.ch:
		default:
		}
		select {
		case e.ch <- ev:
		default:
		}
	}
}

func (e *emitter) shouldEmit(t StreamEventType) bool {
	// Terminal and interrupt events flow in every mode.
	switch t {
	case EventInterrupt, EventError, EventDone:
		return true
	}
	switch e.mode {
	case StreamModeValues:
		return t == EventValues
	case StreamModeUpdates:
		return t == EventUpdates
	case StreamModeMessages:
		return t == EventMessages
	default:
		return true
	}
}
