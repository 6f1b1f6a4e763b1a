package graph

import (
	"fmt"
	"io"
	"strings"
)

// Scoped is implemented by node values that know the scope they are bound in.
type Scoped interface {
	ScopeName() string
}

// Visualizer provides methods to visualize the dependency graph
type Visualizer struct {
	graph *DependencyGraph
}

// NewVisualizer creates a new graph visualizer
func NewVisualizer(graph *DependencyGraph) *Visualizer {
	return &Visualizer{graph: graph}
}

// WriteDOT writes the graph in Graphviz DOT format
func (v *Visualizer) WriteDOT(w io.Writer) error {
	sorted, err := v.graph.TopologicalSort()
	if err != nil {
		return err
	}

	v.graph.mu.RLock()
	defer v.graph.mu.RUnlock()

	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	// Write nodes with labels
	nodeIDs := make(map[NodeKey]string, len(sorted))
	for i, node := range sorted {
		nodeID := fmt.Sprintf("n%d", i)
		nodeIDs[node.Key] = nodeID

		fmt.Fprintf(&b, "  %s [label=\"%s\", fillcolor=\"%s\", style=filled];\n",
			nodeID, v.formatNodeLabel(node), v.getNodeColor(node))
	}

	// Write edges
	for _, node := range sorted {
		for _, to := range v.graph.edges[node.Key] {
			fmt.Fprintf(&b, "  %s -> %s;\n", nodeIDs[node.Key], nodeIDs[to])
		}
	}

	b.WriteString("}\n")
	_, err = io.WriteString(w, b.String())
	return err
}

// WriteText writes a text representation of the graph grouped by depth
func (v *Visualizer) WriteText(w io.Writer) error {
	sorted, err := v.graph.TopologicalSort()
	if err != nil {
		return err
	}

	v.graph.mu.Lock()
	defer v.graph.mu.Unlock()

	v.graph.calculateDepths(sorted)

	var b strings.Builder
	b.WriteString("Dependency Graph:\n")
	b.WriteString("=================\n\n")

	maxDepth := 0
	depthGroups := make(map[int][]*Node)
	for _, node := range sorted {
		depthGroups[node.Depth] = append(depthGroups[node.Depth], node)
		if node.Depth > maxDepth {
			maxDepth = node.Depth
		}
	}

	for depth := 0; depth <= maxDepth && len(sorted) > 0; depth++ {
		fmt.Fprintf(&b, "Level %d:\n", depth)
		b.WriteString("--------\n")
		for _, node := range depthGroups[depth] {
			v.writeNodeDetails(&b, node, "  ")
		}
		b.WriteString("\n")
	}

	v.writeStatistics(&b)

	_, err = io.WriteString(w, b.String())
	return err
}

// formatNodeLabel creates a label for a node
func (v *Visualizer) formatNodeLabel(node *Node) string {
	typeStr := fmt.Sprintf("%v", node.Key.Type)

	// Simplify type string (remove package path for readability)
	if i := strings.LastIndex(typeStr, "/"); i >= 0 {
		typeStr = typeStr[i+1:]
	}
	typeStr = strings.ReplaceAll(typeStr, "\"", "\\\"")

	if node.Key.Qualifiers != "" {
		return fmt.Sprintf("%s\\n[%s]", typeStr, strings.ReplaceAll(node.Key.Qualifiers, "\"", "\\\""))
	}
	return typeStr
}

// getNodeColor determines the color for a node based on its scope
func (v *Visualizer) getNodeColor(node *Node) string {
	scoped, ok := node.Value.(Scoped)
	if !ok {
		return "lightgray" // Not assembled
	}

	switch scoped.ScopeName() {
	case "singleton":
		return "lightblue"
	case "unscoped":
		return "lightyellow"
	default:
		return "lightgreen"
	}
}

// writeNodeDetails writes detailed information about a node
func (v *Visualizer) writeNodeDetails(w io.Writer, node *Node, indent string) {
	fmt.Fprintf(w, "%s%s\n", indent, node.Key.String())

	if scoped, ok := node.Value.(Scoped); ok {
		fmt.Fprintf(w, "%s  Scope: %s\n", indent, scoped.ScopeName())
	}

	if len(node.Dependencies) > 0 {
		fmt.Fprintf(w, "%s  Dependencies: [%s]\n", indent, joinKeys(node.Dependencies))
	}

	if len(node.Dependents) > 0 {
		deps := append([]NodeKey(nil), node.Dependents...)
		sortKeys(deps)
		fmt.Fprintf(w, "%s  Dependents: [%s]\n", indent, joinKeys(deps))
	}
}

// writeStatistics writes graph statistics
func (v *Visualizer) writeStatistics(w io.Writer) {
	fmt.Fprintln(w, "Statistics:")
	fmt.Fprintln(w, "-----------")
	fmt.Fprintf(w, "  Total nodes: %d\n", len(v.graph.nodes))
	fmt.Fprintf(w, "  Total edges: %d\n", v.countEdges())

	// Find node with most dependencies
	var most *Node
	for _, node := range v.graph.nodes {
		if len(node.Dependencies) > 0 && (most == nil || len(node.Dependencies) > len(most.Dependencies)) {
			most = node
		}
	}

	if most != nil {
		fmt.Fprintf(w, "  Most dependencies: %s (%d)\n", most.Key.String(), len(most.Dependencies))
	}
}

// countEdges counts the total number of edges in the graph
func (v *Visualizer) countEdges() int {
	count := 0
	for _, edges := range v.graph.edges {
		count += len(edges)
	}
	return count
}

func joinKeys(keys []NodeKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}
