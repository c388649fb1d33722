// internal/dependency/graph.go
package dependency

import (
	"fmt"
	"sort"
	"strings"
)

// NodeID is the unique identifier for a node inside a dependency graph.
// For fixtures this is simply the fixture name; upgrade ordering uses test
// names.
type NodeID string

// Node represents a unit (fixture, upgrade-phase test, ...) together with its
// dependency list. The graph is expected to be a DAG; DetectCycle and
// TopologicalSort report violations instead of looping.
type Node struct {
	ID        NodeID
	DependsOn []NodeID
	// Order is the declaration index. It breaks ties in TopologicalSort so
	// that setup traces are deterministic. AddNode assigns it when zero.
	Order int
}

// CycleError is returned when the dependency closure contains a cycle.
// Cycle lists the nodes in the order they were walked, with the first node
// repeated at the end (a -> b -> a).
type CycleError struct {
	Cycle []NodeID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = string(id)
	}
	return fmt.Sprintf("dependency cycle: %s", strings.Join(parts, " -> "))
}

// MissingDependencyError is returned when a node depends on an ID that was
// never added to the graph.
type MissingDependencyError struct {
	Node    NodeID
	Missing NodeID
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s depends on unknown node %s", e.Node, e.Missing)
}

// Graph is a very small helper to answer dependency queries.  It is *not*
// thread-safe by itself; callers must synchronise if they write concurrently.
type Graph struct {
	nodes map[NodeID]*Node
	next  int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds (or replaces) a node in the graph. A replaced node keeps its
// original declaration order unless the caller sets one explicitly.
func (g *Graph) AddNode(n Node) {
	if g.nodes == nil {
		g.nodes = make(map[NodeID]*Node)
	}
	// Copy to avoid external mutations
	copied := n
	copied.DependsOn = append([]NodeID(nil), n.DependsOn...)
	if copied.Order == 0 {
		if existing, ok := g.nodes[n.ID]; ok {
			copied.Order = existing.Order
		} else {
			g.next++
			copied.Order = g.next
		}
	} else if copied.Order > g.next {
		g.next = copied.Order
	}
	g.nodes[n.ID] = &copied
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Get returns a pointer to the stored node or nil if it does not exist.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Dependencies returns a slice of immediate dependency IDs for the given node.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	if n, ok := g.nodes[id]; ok {
		// Return a copy to avoid callers modifying internal slice.
		depsCopy := make([]NodeID, len(n.DependsOn))
		copy(depsCopy, n.DependsOn)
		return depsCopy
	}
	return nil
}

// Dependents returns all node IDs that have a direct dependency on the given
// node, in declaration order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var res []NodeID
	for _, n := range g.sorted() {
		for _, dep := range n.DependsOn {
			if dep == id {
				res = append(res, n.ID)
				break
			}
		}
	}
	return res
}

// Closure returns the given IDs plus everything they transitively depend on.
// Unknown IDs produce a MissingDependencyError.
func (g *Graph) Closure(ids ...NodeID) (map[NodeID]bool, error) {
	seen := make(map[NodeID]bool)
	var visit func(from, id NodeID) error
	visit = func(from, id NodeID) error {
		if seen[id] {
			return nil
		}
		n, ok := g.nodes[id]
		if !ok {
			return &MissingDependencyError{Node: from, Missing: id}
		}
		seen[id] = true
		for _, dep := range n.DependsOn {
			if err := visit(id, dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range ids {
		if err := visit(id, id); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

// DetectCycle returns the first cycle found walking nodes in declaration
// order, or nil if the graph is acyclic. Edges to unknown nodes are ignored.
func (g *Graph) DetectCycle() []NodeID {
	const (
		white = iota
		grey
		black
	)
	color := make(map[NodeID]int, len(g.nodes))
	var stack []NodeID
	var cycle []NodeID

	var visit func(id NodeID) bool
	visit = func(id NodeID) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]NodeID(nil), stack[i:]...), dep)
						break
					}
				}
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, n := range g.sorted() {
		if color[n.ID] == white && visit(n.ID) {
			return cycle
		}
	}
	return nil
}

// TopologicalSort orders the closure of ids (or the whole graph when no ids
// are given) so that every node comes after its dependencies. Among nodes
// that are ready at the same time the one declared first wins.
func (g *Graph) TopologicalSort(ids ...NodeID) ([]NodeID, error) {
	var members map[NodeID]bool
	if len(ids) == 0 {
		members = make(map[NodeID]bool, len(g.nodes))
		for id := range g.nodes {
			members[id] = true
		}
	} else {
		var err error
		members, err = g.Closure(ids...)
		if err != nil {
			return nil, err
		}
	}

	indegree := make(map[NodeID]int, len(members))
	for id := range members {
		for _, dep := range g.nodes[id].DependsOn {
			if members[dep] {
				indegree[id]++
			}
		}
	}

	var ready []*Node
	for id := range members {
		if indegree[id] == 0 {
			ready = append(ready, g.nodes[id])
		}
	}

	order := make([]NodeID, 0, len(members))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Order < ready[j].Order })
		n := ready[0]
		ready = ready[1:]
		order = append(order, n.ID)
		for _, dependent := range g.Dependents(n.ID) {
			if !members[dependent] {
				continue
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, g.nodes[dependent])
			}
		}
	}

	if len(order) != len(members) {
		sub := New()
		for id := range members {
			sub.AddNode(*g.nodes[id])
		}
		return nil, &CycleError{Cycle: sub.DetectCycle()}
	}
	return order, nil
}

// sorted returns nodes by declaration order.
func (g *Graph) sorted() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Order < nodes[j].Order })
	return nodes
}
