package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentgraph/store/memory"
)

func collectEvents(t *testing.T, sr *StreamResult) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sr.Events:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func buildStreamGraph(t *testing.T, opts ...CompileOption) *Runnable {
	t.Helper()
	schema := NewStateSchema().
		ListChannel("messages").
		CounterChannel("count").
		MustBuild()

	g := NewStateGraph(schema)
	g.AddNodeFunc("first", func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
		return NewNodeOutput().WithUpdate("messages", "hello").WithUpdate("count", 1), nil
	})
	g.AddNodeFunc("second", func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
		return NewNodeOutput().WithUpdate("count", 1), nil
	})
	g.SetEntryPoint("first")
	g.AddEdge("first", "second")
	g.SetFinishPoint("second")

	runnable, err := g.Compile(opts...)
	require.NoError(t, err)
	return runnable
}

func eventTypes(events []StreamEvent) []StreamEventType {
	types := make([]StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestStream_Values(t *testing.T) {
	runnable := buildStreamGraph(t)

	sr, err := runnable.Stream(context.Background(), nil, nil, StreamModeValues)
	require.NoError(t, err)
	events := collectEvents(t, sr)

	require.Len(t, events, 3)
	assert.Equal(t, []StreamEventType{EventValues, EventValues, EventDone}, eventTypes(events))
	assert.Equal(t, 1, events[0].State["count"])
	assert.Equal(t, 2, events[1].State["count"])
	assert.Equal(t, 2, events[2].State["count"])
	assert.Equal(t, 1, events[0].Step)
	assert.Equal(t, 2, events[1].Step)
}

func TestStream_Updates(t *testing.T) {
	runnable := buildStreamGraph(t)

	sr, err := runnable.Stream(context.Background(), nil, nil, StreamModeUpdates)
	require.NoError(t, err)
	events := collectEvents(t, sr)

	require.Len(t, events, 3)
	assert.Equal(t, EventUpdates, events[0].Type)
	assert.Equal(t, "first", events[0].Node)
	assert.Equal(t, 1, events[0].Updates["count"])
	assert.Equal(t, EventUpdates, events[1].Type)
	assert.Equal(t, "second", events[1].Node)
	assert.Equal(t, EventDone, events[2].Type)
}

func TestStream_Messages(t *testing.T) {
	runnable := buildStreamGraph(t)

	sr, err := runnable.Stream(context.Background(), nil, nil, StreamModeMessages)
	require.NoError(t, err)
	events := collectEvents(t, sr)

	// Only the first node touches the messages channel.
	require.Len(t, events, 2)
	assert.Equal(t, EventMessages, events[0].Type)
	assert.Equal(t, "first", events[0].Node)
	assert.Equal(t, "hello", events[0].Updates["messages"])
	assert.Equal(t, EventDone, events[1].Type)
}

func TestStream_Debug(t *testing.T) {
	runnable := buildStreamGraph(t)

	sr, err := runnable.Stream(context.Background(), nil, nil, StreamModeDebug)
	require.NoError(t, err)
	events := collectEvents(t, sr)

	counts := make(map[StreamEventType]int)
	for _, ev := range events {
		counts[ev.Type]++
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, 2, counts[EventNodeStart])
	assert.Equal(t, 2, counts[EventNodeEnd])
	assert.Equal(t, 2, counts[EventValues])
	assert.Equal(t, 2, counts[EventUpdates])
	assert.Equal(t, 1, counts[EventDone])
}

func TestStream_Error(t *testing.T) {
	schema := SimpleSchema("value")
	boom := errors.New("boom")

	g := NewStateGraph(schema)
	g.AddNodeFunc("fail", func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
		return nil, boom
	})
	g.SetEntryPoint("fail")
	g.SetFinishPoint("fail")

	runnable, err := g.Compile()
	require.NoError(t, err)

	sr, err := runnable.Stream(context.Background(), nil, nil, StreamModeValues)
	require.NoError(t, err)
	events := collectEvents(t, sr)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.ErrorIs(t, events[0].Error, boom)
}

func TestStream_Interrupt(t *testing.T) {
	schema := SimpleSchema("value")

	g := NewStateGraph(schema)
	g.AddNodeFunc("hold", func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
		return InterruptOutput("waiting"), nil
	})
	g.SetEntryPoint("hold")
	g.SetFinishPoint("hold")

	cs := memory.NewMemoryCheckpointStore()
	runnable, err := g.Compile(WithCheckpointer(cs))
	require.NoError(t, err)

	sr, err := runnable.Stream(context.Background(), nil, WithThreadID("t1"), StreamModeValues)
	require.NoError(t, err)
	events := collectEvents(t, sr)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventInterrupt, last.Type)
	assert.Equal(t, "hold", last.Node)
}

func TestStream_AbandonedConsumerDoesNotBlockRun(t *testing.T) {
	schema := NewStateSchema().CounterChannel("count").MustBuild()

	var ticks atomic.Int32
	g := NewStateGraph(schema)
	g.AddNodeFunc("tick", func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
		ticks.Add(1)
		return NewNodeOutput().WithUpdate("count", 1), nil
	})
	g.SetEntryPoint("tick")
	g.AddConditionalEdge("tick", RouteMaxIterations("count", 60, "tick"), "tick")

	runnable, err := g.Compile(WithRecursionLimit(1000))
	require.NoError(t, err)

	// Debug mode emits several events per step, far more than the buffer
	// holds. Read nothing: the run must still reach the end.
	sr, err := runnable.Stream(context.Background(), nil, nil, StreamModeDebug)
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for ticks.Load() < 60 {
		select {
		case <-deadline:
			t.Fatalf("run stalled at %d steps with an unread stream", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Older events were shed, but the channel still drains and closes with
	// the terminal event intact.
	events := collectEvents(t, sr)
	require.NotEmpty(t, events)
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

func TestStream_Cancel(t *testing.T) {
	schema := NewStateSchema().CounterChannel("count").MustBuild()

	g := NewStateGraph(schema)
	g.AddNodeFunc("spin", func(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return NewNodeOutput().WithUpdate("count", 1), nil
	})
	g.SetEntryPoint("spin")
	g.AddConditionalEdge("spin", RouterOf("spin"), "spin")

	runnable, err := g.Compile(WithRecursionLimit(1000))
	require.NoError(t, err)

	sr, err := runnable.Stream(context.Background(), nil, nil, StreamModeValues)
	require.NoError(t, err)

	// Read one step, then abort the run.
	select {
	case <-sr.Events:
	case <-time.After(5 * time.Second):
		t.Fatal("no event before cancel")
	}
	sr.Cancel()

	done := make(chan struct{})
	go func() {
		for range sr.Events {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}
