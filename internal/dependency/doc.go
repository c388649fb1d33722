// Package dependency provides a small directed acyclic graph (DAG) used to
// order fixture setup and upgrade-phase tests.
//
// # Core Concepts
//
// Graph: nodes keyed by NodeID, with edges pointing from a node to the nodes
// it depends on.
//
// Node: an ID, the list of IDs it depends on and a declaration index
// (Order). The declaration index makes ordering deterministic: when two
// nodes become ready at the same time the one declared first is emitted
// first.
//
// # Operations
//
//   - Dependencies / Dependents: direct edges in either direction
//   - Closure: everything a set of nodes transitively requires
//   - DetectCycle: the first cycle found, walking in declaration order
//   - TopologicalSort: setup order for a closure; teardown is its reverse
//
// # Usage Example
//
//	g := dependency.New()
//	g.AddNode(dependency.Node{ID: "org"})
//	g.AddNode(dependency.Node{ID: "lce", DependsOn: []dependency.NodeID{"org"}})
//	g.AddNode(dependency.Node{ID: "cv", DependsOn: []dependency.NodeID{"org", "lce"}})
//
//	order, err := g.TopologicalSort("cv") // [org lce cv]
//
// # Thread Safety
//
// The graph is not thread-safe. Registries build it once during collection
// and only read it afterwards.
package dependency
