package graph

import (
	"fmt"
	"strings"
)

// CircularDependencyError represents a cycle among recorded dependency edges.
type CircularDependencyError struct {
	Node NodeKey
	Path []NodeKey
}

func (e CircularDependencyError) Error() string {
	var b strings.Builder
	b.WriteString("circular dependency detected:\n\n")

	path := e.Path
	if len(path) == 0 {
		path = []NodeKey{e.Node}
	}

	for i, node := range path {
		b.WriteString(fmt.Sprintf("    %s\n", node.String()))
		if i < len(path)-1 {
			b.WriteString("      ↓\n")
		}
	}
	b.WriteString("      ↓\n")
	b.WriteString(fmt.Sprintf("    %s (cycle)\n", path[0].String()))

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Depend on a provider function such as func() (T, error) instead of T\n")
	b.WriteString("  • Restructure to remove the circular relationship\n")

	return b.String()
}
