package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/smallnest/agentgraph/log"
	"github.com/smallnest/agentgraph/store"
)

const (
	// START is the virtual source every execution begins from. Edges out of
	// START define the entry nodes.
	START = "__start__"

	// END is the virtual sink. A node routed to END stops scheduling
	// successors; the run finishes when no nodes remain.
	END = "__end__"
)

// DefaultRecursionLimit is the super-step budget applied when neither the
// compile options nor the execution config override it.
const DefaultRecursionLimit = 50

// RouterFunc decides the next node after a conditional edge's source ran.
// It sees the merged state of the step and returns a node name or END.
type RouterFunc func(ctx context.Context, state State) string

// Edge is a static transition between two nodes.
type Edge struct {
	From string
	To   string
}

type conditionalEdge struct {
	router  RouterFunc
	targets []string
}

// StateGraph accumulates the graph definition: schema, nodes, and edges.
// Definition mistakes are collected and reported together by Compile.
type StateGraph struct {
	schema      *StateSchema
	nodes       map[string]Node
	order       []string
	edges       []Edge
	conditional map[string]conditionalEdge
	retryPolicy *RetryPolicy
	defErrs     []string
}

// NewStateGraph creates a graph builder over the given schema.
func NewStateGraph(schema *StateSchema) *StateGraph {
	return &StateGraph{
		schema:      schema,
		nodes:       make(map[string]Node),
		conditional: make(map[string]conditionalEdge),
	}
}

// AddNode registers a node. Registration order is significant: it is the
// tie-break for merging concurrent writes and for error precedence.
func (g *StateGraph) AddNode(node Node) {
	name := node.Name()
	if name == "" || name == START || name == END {
		g.defErrs = append(g.defErrs, fmt.Sprintf("invalid node name %q", name))
		return
	}
	if _, dup := g.nodes[name]; dup {
		g.defErrs = append(g.defErrs, fmt.Sprintf("duplicate node %q", name))
		return
	}
	g.nodes[name] = node
	g.order = append(g.order, name)
}

// AddNodeFunc registers an inline function node.
func (g *StateGraph) AddNodeFunc(name string, fn NodeFunc) {
	g.AddNode(NewFunctionNode(name, fn))
}

// AddEdge adds a static edge. Multiple edges from one node fan out: all
// targets are scheduled concurrently in the next step.
func (g *StateGraph) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{From: from, To: to})
}

// AddConditionalEdge routes from a node through a router function at runtime.
// The declared targets are the router's legal return values; anything else is
// a RoutingError when the edge fires.
func (g *StateGraph) AddConditionalEdge(from string, router RouterFunc, targets ...string) {
	if _, dup := g.conditional[from]; dup {
		g.defErrs = append(g.defErrs, fmt.Sprintf("node %q already has a conditional edge", from))
		return
	}
	g.conditional[from] = conditionalEdge{router: router, targets: targets}
}

// SetEntryPoint marks a node as an entry, shorthand for AddEdge(START, name).
func (g *StateGraph) SetEntryPoint(name string) {
	g.AddEdge(START, name)
}

// SetFinishPoint routes a node to END, shorthand for AddEdge(name, END).
func (g *StateGraph) SetFinishPoint(name string) {
	g.AddEdge(name, END)
}

// SetRetryPolicy sets a graph-wide retry policy applied to every node.
func (g *StateGraph) SetRetryPolicy(policy *RetryPolicy) {
	g.retryPolicy = policy
}

// Compile validates the definition and freezes it into a Runnable. A failed
// compile returns a CompileError and nothing partial.
func (g *StateGraph) Compile(opts ...CompileOption) (*Runnable, error) {
	if g.schema == nil {
		return nil, &CompileError{Reason: "graph has no state schema"}
	}
	if len(g.nodes) == 0 {
		return nil, &CompileError{Reason: "graph has no nodes"}
	}
	if len(g.defErrs) > 0 {
		return nil, &CompileError{Reason: g.defErrs[0]}
	}

	known := func(name string) bool {
		_, ok := g.nodes[name]
		return ok
	}

	successors := make(map[string][]string)
	for _, e := range g.edges {
		if e.From != START && !known(e.From) {
			return nil, &CompileError{Reason: fmt.Sprintf("edge from unknown node %q", e.From)}
		}
		if e.To != END && !known(e.To) {
			return nil, &CompileError{Reason: fmt.Sprintf("edge to unknown node %q", e.To)}
		}
		if e.To == START {
			return nil, &CompileError{Reason: "edge into START"}
		}
		if e.From == END {
			return nil, &CompileError{Reason: "edge out of END"}
		}
		if !slices.Contains(successors[e.From], e.To) {
			successors[e.From] = append(successors[e.From], e.To)
		}
	}

	conditional := make(map[string]conditionalEdge, len(g.conditional))
	for from, ce := range g.conditional {
		if !known(from) {
			return nil, &CompileError{Reason: fmt.Sprintf("conditional edge from unknown node %q", from)}
		}
		if ce.router == nil {
			return nil, &CompileError{Reason: fmt.Sprintf("conditional edge from %q has nil router", from)}
		}
		if len(ce.targets) == 0 {
			return nil, &CompileError{Reason: fmt.Sprintf("conditional edge from %q declares no targets", from)}
		}
		for _, t := range ce.targets {
			if t != END && !known(t) {
				return nil, &CompileError{Reason: fmt.Sprintf("conditional edge from %q declares unknown target %q", from, t)}
			}
		}
		if len(successors[from]) > 0 {
			return nil, &CompileError{Reason: fmt.Sprintf("node %q has both static and conditional outgoing edges", from)}
		}
		conditional[from] = ce
	}

	entry := successors[START]
	if len(entry) == 0 {
		return nil, ErrEntryPointNotSet
	}

	for _, name := range g.order {
		if len(successors[name]) == 0 {
			if _, ok := conditional[name]; !ok {
				return nil, &CompileError{Reason: fmt.Sprintf("node %q has no outgoing edge; route it to END", name)}
			}
		}
	}

	r := &Runnable{
		schema:          g.schema,
		nodes:           g.nodes,
		order:           slices.Clone(g.order),
		successors:      successors,
		conditional:     conditional,
		entry:           entry,
		retryPolicy:     g.retryPolicy,
		recursionLimit:  DefaultRecursionLimit,
		interruptBefore: make(map[string]bool),
		interruptAfter:  make(map[string]bool),
		logger:          &log.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.recursionLimit <= 0 {
		return nil, &CompileError{Reason: fmt.Sprintf("recursion limit must be positive, got %d", r.recursionLimit)}
	}
	// A misspelled interrupt point would otherwise never pause anything.
	for n := range r.interruptBefore {
		if _, ok := r.nodes[n]; !ok {
			return nil, &CompileError{Reason: fmt.Sprintf("interrupt before unknown node %q", n)}
		}
	}
	for n := range r.interruptAfter {
		if _, ok := r.nodes[n]; !ok {
			return nil, &CompileError{Reason: fmt.Sprintf("interrupt after unknown node %q", n)}
		}
	}
	return r, nil
}

// Runnable is a compiled, immutable graph ready to execute. It is safe for
// concurrent use; all per-run state lives in the execution, not here.
type Runnable struct {
	schema          *StateSchema
	nodes           map[string]Node
	order           []string
	successors      map[string][]string
	conditional     map[string]conditionalEdge
	entry           []string
	retryPolicy     *RetryPolicy
	checkpointer    store.CheckpointStore
	interruptBefore map[string]bool
	interruptAfter  map[string]bool
	recursionLimit  int
	logger          log.Logger
}

// CompileOption configures the compiled graph.
type CompileOption func(*Runnable)

// WithCheckpointer attaches a checkpoint store; every super-step is then
// persisted and threads become resumable.
func WithCheckpointer(cs store.CheckpointStore) CompileOption {
	return func(r *Runnable) { r.checkpointer = cs }
}

// WithInterruptBefore suspends execution whenever one of the named nodes is
// about to run.
func WithInterruptBefore(nodes ...string) CompileOption {
	return func(r *Runnable) {
		for _, n := range nodes {
			r.interruptBefore[n] = true
		}
	}
}

// WithInterruptAfter suspends execution after one of the named nodes ran.
func WithInterruptAfter(nodes ...string) CompileOption {
	return func(r *Runnable) {
		for _, n := range nodes {
			r.interruptAfter[n] = true
		}
	}
}

// WithRecursionLimit sets the default super-step budget.
func WithRecursionLimit(limit int) CompileOption {
	return func(r *Runnable) { r.recursionLimit = limit }
}

// WithLogger sets the logger for step-level debug output.
func WithLogger(l log.Logger) CompileOption {
	return func(r *Runnable) { r.logger = l }
}

// Schema returns the state schema the graph was compiled with.
func (r *Runnable) Schema() *StateSchema {
	return r.schema
}

// Nodes returns the node names in registration order.
func (r *Runnable) Nodes() []string {
	return slices.Clone(r.order)
}

// registrationOrder sorts node names by their registration index. Unknown
// names sort last, preserving their relative order.
func (r *Runnable) registrationOrder(names []string) []string {
	idx := make(map[string]int, len(r.order))
	for i, n := range r.order {
		idx[n] = i
	}
	out := slices.Clone(names)
	slices.SortStableFunc(out, func(a, b string) int {
		ia, aok := idx[a]
		ib, bok := idx[b]
		switch {
		case aok && bok:
			return ia - ib
		case aok:
			return -1
		case bok:
			return 1
		default:
			return 0
		}
	})
	return out
}
