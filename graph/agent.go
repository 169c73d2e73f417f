package graph

import (
	"context"
	"fmt"
)

// Agent is an external collaborator, typically an LLM-backed loop. AgentNode
// adapts it to the Node contract; the executor never sees the agent itself.
type Agent interface {
	Run(ctx context.Context, input AgentInput) ([]AgentEvent, error)
}

// AgentInput is what an agent receives for one turn.
type AgentInput struct {
	// Query is the user request for this turn.
	Query string

	// Messages is the conversation so far.
	Messages []any

	// Metadata carries execution config metadata through to the agent.
	Metadata map[string]any
}

// AgentEvent is one observable action the agent took during a turn.
type AgentEvent struct {
	// Type of the event, such as "message" or "tool_call".
	Type string

	// Role of the author, such as "assistant" or "tool".
	Role string

	// Content is the textual payload.
	Content string

	// Data carries structured payloads like tool arguments.
	Data map[string]any
}

const (
	// AgentEventMessage is a conversational message from the agent.
	AgentEventMessage = "message"

	// AgentEventToolCall records a tool invocation the agent made.
	AgentEventToolCall = "tool_call"
)

// InputMapper builds the agent's input from the state snapshot.
type InputMapper func(state State) AgentInput

// OutputMapper turns the agent's events into channel contributions.
type OutputMapper func(events []AgentEvent) map[string]any

// AgentNode drives an Agent as a graph node. The default mappers read the
// "input" and "messages" channels and write "messages" and "output"; override
// them for other schemas.
type AgentNode struct {
	name         string
	agent        Agent
	inputMapper  InputMapper
	outputMapper OutputMapper
}

// AgentNodeOption configures an AgentNode.
type AgentNodeOption func(*AgentNode)

// WithInputMapper overrides how the state becomes agent input.
func WithInputMapper(m InputMapper) AgentNodeOption {
	return func(n *AgentNode) { n.inputMapper = m }
}

// WithOutputMapper overrides how agent events become channel contributions.
func WithOutputMapper(m OutputMapper) AgentNodeOption {
	return func(n *AgentNode) { n.outputMapper = m }
}

// NewAgentNode wraps agent as a node.
func NewAgentNode(name string, agent Agent, opts ...AgentNodeOption) *AgentNode {
	n := &AgentNode{
		name:         name,
		agent:        agent,
		inputMapper:  defaultInputMapper,
		outputMapper: defaultOutputMapper,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *AgentNode) Name() string {
	return n.name
}

func (n *AgentNode) Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	in := n.inputMapper(nc.State)
	in.Metadata = nc.Metadata

	events, err := n.agent.Run(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", n.name, err)
	}
	return NewNodeOutput().WithUpdates(n.outputMapper(events)), nil
}

func defaultInputMapper(state State) AgentInput {
	in := AgentInput{}
	in.Query, _ = state["input"].(string)
	in.Messages, _ = state["messages"].([]any)
	return in
}

func defaultOutputMapper(events []AgentEvent) map[string]any {
	updates := make(map[string]any)
	var msgs []any
	last := ""
	for _, ev := range events {
		if ev.Type != AgentEventMessage {
			continue
		}
		msgs = append(msgs, map[string]any{"role": ev.Role, "content": ev.Content})
		last = ev.Content
	}
	if len(msgs) > 0 {
		updates["messages"] = msgs
		updates["output"] = last
	}
	return updates
}
