// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph projects stored entities into an in-memory directed
// multigraph and runs structural queries on it: BFS shortest path,
// PageRank and personalized PageRank, bounded cycle detection,
// modularity clustering, and the hybrid similarity+PageRank query.
//
// The projection is always rebuilt wholesale from the store; it is
// never persisted and never updated incrementally, so a stale graph is
// merely stale, not corrupted.
package graph

import (
	"github.com/AleutianAI/codegraph/entity"
)

// Edge is a directed, typed relationship between two nodes.
//
// Multiple edges between the same pair are allowed when an entity
// names the same target under different relations.
type Edge struct {
	// FromID is the ID of the source node.
	FromID string

	// ToID is the ID of the target node.
	ToID string

	// Relation is the relationship type (calls, imports, ...).
	Relation entity.Relation
}

// Node is one entity in the projection with its adjacency lists.
//
// Outgoing edges mirror the relations stored on the entity's point;
// Incoming edges are the computed reverse view and are never stored.
type Node struct {
	// ID is the entity ID.
	ID string

	// Type is the entity type.
	Type entity.Type

	// Name is the entity name, methods qualified as Class.method.
	Name string

	// FilePath is the defining source file.
	FilePath string

	// LineStart is the first line of the definition.
	LineStart int

	// Outgoing contains edges where this node is the source.
	Outgoing []*Edge

	// Incoming contains edges where this node is the target.
	Incoming []*Edge
}

// Graph is the in-memory projection.
//
// Thread Safety: NOT safe for concurrent mutation. The Engine builds a
// Graph on one goroutine and publishes it under a lock; after that the
// graph is read-only and safe to share.
type Graph struct {
	nodes map[string]*Node
	edges []*Edge
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode adds an entity as a node. A duplicate ID is ignored and the
// existing node returned.
func (g *Graph) AddNode(e *entity.Entity) *Node {
	if node, ok := g.nodes[e.ID]; ok {
		return node
	}
	node := &Node{
		ID:        e.ID,
		Type:      e.Type,
		Name:      e.Name,
		FilePath:  e.FilePath,
		LineStart: e.LineStart,
	}
	g.nodes[e.ID] = node
	return node
}

// AddEdge creates a directed edge. Edges whose endpoints are not both
// in the graph are dropped: a type-filtered projection must not invent
// nodes for targets the filter excluded.
func (g *Graph) AddEdge(fromID, toID string, relation entity.Relation) bool {
	from, ok := g.nodes[fromID]
	if !ok {
		return false
	}
	to, ok := g.nodes[toID]
	if !ok {
		return false
	}

	edge := &Edge{FromID: fromID, ToID: toID, Relation: relation}
	g.edges = append(g.edges, edge)
	from.Outgoing = append(from.Outgoing, edge)
	to.Incoming = append(to.Incoming, edge)
	return true
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Node retrieves a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Nodes returns an iterator over all nodes.
func (g *Graph) Nodes() func(yield func(string, *Node) bool) {
	return func(yield func(string, *Node) bool) {
		for id, node := range g.nodes {
			if !yield(id, node) {
				return
			}
		}
	}
}

// Edges returns the internal edge slice. Callers must not modify it.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// Subgraph returns the induced subgraph on the given node set: exactly
// those nodes, and every edge whose endpoints are both in the set.
func (g *Graph) Subgraph(ids map[string]bool) *Graph {
	sub := NewGraph()
	for id := range ids {
		if node, ok := g.nodes[id]; ok {
			sub.nodes[id] = &Node{
				ID:        node.ID,
				Type:      node.Type,
				Name:      node.Name,
				FilePath:  node.FilePath,
				LineStart: node.LineStart,
			}
		}
	}
	for _, edge := range g.edges {
		if ids[edge.FromID] && ids[edge.ToID] {
			sub.AddEdge(edge.FromID, edge.ToID, edge.Relation)
		}
	}
	return sub
}
