package graph

import (
	"fmt"
	"strings"
)

// Exporter renders a compiled graph in diagram formats.
type Exporter struct {
	runnable *Runnable
}

// NewExporter creates an exporter for the compiled graph.
func NewExporter(r *Runnable) *Exporter {
	return &Exporter{runnable: r}
}

// MermaidOptions configures Mermaid diagram generation.
type MermaidOptions struct {
	// Direction of the flowchart, "TD" or "LR". Defaults to "TD".
	Direction string
}

// DrawMermaid renders the graph as a top-down Mermaid flowchart.
func (e *Exporter) DrawMermaid() string {
	return e.DrawMermaidWithOptions(MermaidOptions{Direction: "TD"})
}

// DrawMermaidWithOptions renders a Mermaid flowchart with custom options.
// Conditional edges appear dashed, one per declared target.
func (e *Exporter) DrawMermaidWithOptions(opts MermaidOptions) string {
	r := e.runnable
	var sb strings.Builder

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}
	fmt.Fprintf(&sb, "flowchart %s\n", direction)

	sb.WriteString("    __start__([\"START\"])\n")
	sb.WriteString("    style __start__ fill:#90EE90\n")
	for _, name := range r.order {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", name, name)
	}
	if e.reachesEnd() {
		sb.WriteString("    __end__([\"END\"])\n")
		sb.WriteString("    style __end__ fill:#FFB6C1\n")
	}

	for _, entry := range r.entry {
		fmt.Fprintf(&sb, "    __start__ --> %s\n", entry)
	}
	for _, from := range r.order {
		for _, to := range r.successors[from] {
			fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
		}
		if ce, ok := r.conditional[from]; ok {
			for _, target := range ce.targets {
				fmt.Fprintf(&sb, "    %s -.-> %s\n", from, target)
			}
		}
	}

	return sb.String()
}

// DrawDOT renders the graph in Graphviz DOT format.
func (e *Exporter) DrawDOT() string {
	r := e.runnable
	var sb strings.Builder

	sb.WriteString("digraph G {\n")
	sb.WriteString("    rankdir=TD;\n")
	sb.WriteString("    node [shape=box];\n")
	sb.WriteString("    __start__ [label=\"START\", shape=ellipse, style=filled, fillcolor=lightgreen];\n")
	if e.reachesEnd() {
		sb.WriteString("    __end__ [label=\"END\", shape=ellipse, style=filled, fillcolor=lightpink];\n")
	}

	for _, entry := range r.entry {
		fmt.Fprintf(&sb, "    __start__ -> %s;\n", entry)
	}
	for _, from := range r.order {
		for _, to := range r.successors[from] {
			fmt.Fprintf(&sb, "    %s -> %s;\n", from, to)
		}
		if ce, ok := r.conditional[from]; ok {
			for _, target := range ce.targets {
				fmt.Fprintf(&sb, "    %s -> %s [style=dashed];\n", from, target)
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (e *Exporter) reachesEnd() bool {
	r := e.runnable
	for _, name := range r.order {
		for _, to := range r.successors[name] {
			if to == END {
				return true
			}
		}
		if ce, ok := r.conditional[name]; ok {
			for _, target := range ce.targets {
				if target == END {
					return true
				}
			}
		}
	}
	return false
}
