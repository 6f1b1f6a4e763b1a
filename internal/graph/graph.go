package graph

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// DependencyGraph records which keys each assembled binding depends on directly.
// It rejects cycles and provides topological sorting and dependency analysis.
type DependencyGraph struct {
	mu    sync.RWMutex
	nodes map[NodeKey]*Node
	edges map[NodeKey][]NodeKey // adjacency list: node -> its dependencies

	// Cache for performance
	sortedNodes      []*Node
	sortedNodesDirty bool
}

// NodeKey uniquely identifies a node in the graph
type NodeKey struct {
	Type       reflect.Type
	Qualifiers string
}

// Node represents a binding in the dependency graph
type Node struct {
	Key   NodeKey
	Value any

	Depth int // depth in dependency tree

	Dependencies []NodeKey // keys this node depends on
	Dependents   []NodeKey // keys that depend on this node
}

// New creates a new dependency graph
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:            make(map[NodeKey]*Node),
		edges:            make(map[NodeKey][]NodeKey),
		sortedNodesDirty: true,
	}
}

// Add records key with its direct dependencies, replacing earlier edges for key.
// Adding an edge set that closes a cycle is rejected and leaves the graph unchanged.
func (g *DependencyGraph) Add(key NodeKey, value any, deps []NodeKey) error {
	if key.Type == nil {
		return fmt.Errorf("node type cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	previous, hadEdges := g.edges[key]
	node, existed := g.nodes[key]
	if !existed {
		node = &Node{Key: key}
		g.nodes[key] = node
	}
	if value != nil {
		node.Value = value
	}

	dependencies := make([]NodeKey, 0, len(deps))
	seen := make(map[NodeKey]bool, len(deps))
	for _, dep := range deps {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		dependencies = append(dependencies, dep)

		// Ensure dependency node exists
		if _, exists := g.nodes[dep]; !exists {
			g.nodes[dep] = &Node{Key: dep}
		}
	}
	g.edges[key] = dependencies

	if path := g.findCycle(key); path != nil {
		if hadEdges {
			g.edges[key] = previous
		} else {
			delete(g.edges, key)
		}
		if !existed {
			delete(g.nodes, key)
		}
		g.rebuild()
		return CircularDependencyError{Node: key, Path: path}
	}

	g.rebuild()
	g.sortedNodesDirty = true
	return nil
}

// rebuild recalculates dependency and dependent lists from the edges
func (g *DependencyGraph) rebuild() {
	for _, node := range g.nodes {
		node.Dependencies = nil
		node.Dependents = nil
	}

	for from, tos := range g.edges {
		fromNode, exists := g.nodes[from]
		if !exists {
			continue
		}
		fromNode.Dependencies = append([]NodeKey(nil), tos...)
		for _, to := range tos {
			if toNode, exists := g.nodes[to]; exists {
				toNode.Dependents = append(toNode.Dependents, from)
			}
		}
	}
}

// TopologicalSort returns nodes in dependency order (dependencies first).
// Ties are broken by key name so the order is stable.
func (g *DependencyGraph) TopologicalSort() ([]*Node, error) {
	g.mu.RLock()
	if !g.sortedNodesDirty && g.sortedNodes != nil {
		result := append([]*Node(nil), g.sortedNodes...)
		g.mu.RUnlock()
		return result, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	result, err := g.sortLocked()
	if err != nil {
		return nil, err
	}

	g.sortedNodes = result
	g.sortedNodesDirty = false
	return append([]*Node(nil), result...), nil
}

func (g *DependencyGraph) sortLocked() ([]*Node, error) {
	// Kahn's algorithm over remaining dependency counts
	remaining := make(map[NodeKey]int, len(g.nodes))
	for key := range g.nodes {
		remaining[key] = len(g.edges[key])
	}

	ready := make([]NodeKey, 0)
	for key, n := range remaining {
		if n == 0 {
			ready = append(ready, key)
		}
	}
	sortKeys(ready)

	result := make([]*Node, 0, len(g.nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, g.nodes[current])

		var unlocked []NodeKey
		for _, dependent := range g.nodes[current].Dependents {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sortKeys(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("circular dependency detected: graph contains %d nodes but only %d could be sorted",
			len(g.nodes), len(result))
	}
	return result, nil
}

// findCycle returns the path of a cycle through start, or nil.
func (g *DependencyGraph) findCycle(start NodeKey) []NodeKey {
	visited := make(map[NodeKey]bool)
	var path []NodeKey

	var visit func(current NodeKey) bool
	visit = func(current NodeKey) bool {
		path = append(path, current)
		for _, next := range g.edges[current] {
			if next == start {
				return true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if visit(start) {
		return path
	}
	return nil
}

// GetTransitiveDependencies returns all dependencies (direct and indirect)
func (g *DependencyGraph) GetTransitiveDependencies(key NodeKey) []NodeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[NodeKey]bool{key: true}
	result := make([]NodeKey, 0)

	var collect func(current NodeKey)
	collect = func(current NodeKey) {
		for _, dep := range g.edges[current] {
			if !visited[dep] {
				visited[dep] = true
				result = append(result, dep)
				collect(dep)
			}
		}
	}

	collect(key)
	return result
}

// GetNode returns the node for a key
func (g *DependencyGraph) GetNode(key NodeKey) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.nodes[key]
}

// Size returns the number of nodes in the graph
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

// calculateDepths assigns each node the length of its longest dependency chain.
// Callers hold the lock.
func (g *DependencyGraph) calculateDepths(sorted []*Node) {
	for _, node := range sorted {
		node.Depth = 0
		for _, dep := range g.edges[node.Key] {
			if d := g.nodes[dep].Depth + 1; d > node.Depth {
				node.Depth = d
			}
		}
	}
}

func sortKeys(keys []NodeKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}

// String returns a string representation of the node key
func (k NodeKey) String() string {
	if k.Qualifiers != "" {
		return fmt.Sprintf("%v[%s]", k.Type, k.Qualifiers)
	}
	return fmt.Sprintf("%v", k.Type)
}

// String returns a string representation of the node
func (n *Node) String() string {
	return fmt.Sprintf("Node{%s, deps:%d, dependents:%d, depth:%d}",
		n.Key.String(), len(n.Dependencies), len(n.Dependents), n.Depth)
}
