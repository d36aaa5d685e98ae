// Package core provides the fundamental data structures for the Kredo engine:
// structured addresses, the contribution graph, interval partitioning, and
// the prefix-based weight configuration.
//
// This file defines the Graph, a directed weighted multigraph whose nodes
// and edges carry creation timestamps. The graph is the immutable input of a
// scoring run: all derived vectors are indexed by the canonical address
// order exposed here and are never reordered downstream.
package core

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/btree"
)

// Node is a participant or artifact in the contribution graph.
type Node struct {
	Address NodeAddress
	// Description is a human-readable label, e.g. a commit subject.
	Description string
	// TimestampMs is the creation time in milliseconds since the epoch.
	// A nil timestamp means the node predates recorded history: it stays in
	// the node order but is never assigned weight by the timeline.
	TimestampMs *int64
}

// Edge is a directed connection between two node addresses. Multi-edges are
// permitted, and the endpoints are not required to exist in the graph (such
// edges are "dangling" and are skipped by the chain builder).
type Edge struct {
	Address     EdgeAddress
	Src         NodeAddress
	Dst         NodeAddress
	TimestampMs int64
}

// Graph holds nodes and edges ordered by address. Building (AddNode,
// AddEdge) must not run concurrently with any other method; once building is
// done, all read methods are safe for concurrent use.
type Graph struct {
	nodeTree *btree.BTreeG[Node]
	edgeTree *btree.BTreeG[Edge]

	// Canonical-order caches, rebuilt lazily after mutation.
	nodes   []Node
	edges   []Edge
	nodeIdx map[NodeAddress]int
	edgeIdx map[EdgeAddress]int
	dirty   bool
}

func nodeLess(a, b Node) bool { return a.Address < b.Address }
func edgeLess(a, b Edge) bool { return a.Address < b.Address }

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodeTree: btree.NewBTreeG[Node](nodeLess),
		edgeTree: btree.NewBTreeG[Edge](edgeLess),
		nodeIdx:  make(map[NodeAddress]int),
		edgeIdx:  make(map[EdgeAddress]int),
	}
}

func sameTimestamp(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// AddNode inserts a node. Re-adding an identical node is a no-op; a node
// with the same address but different data is a conflict.
func (g *Graph) AddNode(n Node) error {
	if existing, ok := g.nodeTree.Get(Node{Address: n.Address}); ok {
		if existing.Description == n.Description && sameTimestamp(existing.TimestampMs, n.TimestampMs) {
			return nil
		}
		return fmt.Errorf("conflicting data for node '%s'", n.Address)
	}
	g.nodeTree.Set(n)
	g.dirty = true
	return nil
}

// AddEdge inserts an edge. Re-adding an identical edge is a no-op; an edge
// with the same address but different data is a conflict.
func (g *Graph) AddEdge(e Edge) error {
	if existing, ok := g.edgeTree.Get(Edge{Address: e.Address}); ok {
		if existing.Src == e.Src && existing.Dst == e.Dst && existing.TimestampMs == e.TimestampMs {
			return nil
		}
		return fmt.Errorf("conflicting data for edge '%s'", e.Address)
	}
	g.edgeTree.Set(e)
	g.dirty = true
	return nil
}

// ensure rebuilds the canonical-order caches after mutation. Safe to call
// from multiple readers; not safe concurrently with AddNode/AddEdge.
func (g *Graph) ensure() {
	if !g.dirty {
		return
	}
	g.nodes = make([]Node, 0, g.nodeTree.Len())
	g.nodeIdx = make(map[NodeAddress]int, g.nodeTree.Len())
	g.nodeTree.Scan(func(n Node) bool {
		g.nodeIdx[n.Address] = len(g.nodes)
		g.nodes = append(g.nodes, n)
		return true
	})
	g.edges = make([]Edge, 0, g.edgeTree.Len())
	g.edgeIdx = make(map[EdgeAddress]int, g.edgeTree.Len())
	g.edgeTree.Scan(func(e Edge) bool {
		g.edgeIdx[e.Address] = len(g.edges)
		g.edges = append(g.edges, e)
		return true
	})
	g.dirty = false
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return g.nodeTree.Len() }

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int { return g.edgeTree.Len() }

// Nodes returns all nodes in canonical address order. The returned slice is
// shared; callers must not modify it.
func (g *Graph) Nodes() []Node {
	g.ensure()
	return g.nodes
}

// Edges returns all edges in canonical address order. The returned slice is
// shared; callers must not modify it.
func (g *Graph) Edges() []Edge {
	g.ensure()
	return g.edges
}

// NodeIndex returns the canonical index of the node with the given address.
func (g *Graph) NodeIndex(addr NodeAddress) (int, bool) {
	g.ensure()
	i, ok := g.nodeIdx[addr]
	return i, ok
}

// EdgeIndex returns the canonical index of the edge with the given address.
func (g *Graph) EdgeIndex(addr EdgeAddress) (int, bool) {
	g.ensure()
	i, ok := g.edgeIdx[addr]
	return i, ok
}

// IsDangling reports whether the edge at canonical index i has an endpoint
// that is not present in the node set.
func (g *Graph) IsDangling(i int) bool {
	g.ensure()
	e := g.edges[i]
	_, srcOK := g.nodeIdx[e.Src]
	_, dstOK := g.nodeIdx[e.Dst]
	return !srcOK || !dstOK
}

// NodesUnder returns the canonical indices of all nodes whose address has
// the given prefix, in canonical order.
func (g *Graph) NodesUnder(prefix NodeAddress) []int {
	g.ensure()
	var out []int
	g.nodeTree.Ascend(Node{Address: prefix}, func(n Node) bool {
		if !n.Address.HasPrefix(prefix) {
			return false
		}
		out = append(out, g.nodeIdx[n.Address])
		return true
	})
	return out
}

// --- JSON FORMAT ---

type nodeJSON struct {
	Address     []string `json:"address"`
	Description string   `json:"description"`
	TimestampMs *int64   `json:"timestampMs"`
}

type edgeJSON struct {
	Address     []string `json:"address"`
	SrcAddress  []string `json:"srcAddress"`
	DstAddress  []string `json:"dstAddress"`
	TimestampMs int64    `json:"timestampMs"`
}

type graphJSON struct {
	Nodes []nodeJSON `json:"nodes"`
	Edges []edgeJSON `json:"edges"`
}

// MarshalJSON emits nodes and edges in canonical address order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	doc := graphJSON{
		Nodes: make([]nodeJSON, 0, g.NumNodes()),
		Edges: make([]edgeJSON, 0, g.NumEdges()),
	}
	for _, n := range g.Nodes() {
		doc.Nodes = append(doc.Nodes, nodeJSON{
			Address:     n.Address.Parts(),
			Description: n.Description,
			TimestampMs: n.TimestampMs,
		})
	}
	for _, e := range g.Edges() {
		doc.Edges = append(doc.Edges, edgeJSON{
			Address:     e.Address.Parts(),
			SrcAddress:  e.Src.Parts(),
			DstAddress:  e.Dst.Parts(),
			TimestampMs: e.TimestampMs,
		})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON replaces the graph contents with the decoded document.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var doc graphJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	fresh := NewGraph()
	for _, n := range doc.Nodes {
		addr, err := NewNodeAddress(n.Address...)
		if err != nil {
			return err
		}
		if err := fresh.AddNode(Node{Address: addr, Description: n.Description, TimestampMs: n.TimestampMs}); err != nil {
			return err
		}
	}
	for _, e := range doc.Edges {
		addr, err := NewEdgeAddress(e.Address...)
		if err != nil {
			return err
		}
		src, err := NewNodeAddress(e.SrcAddress...)
		if err != nil {
			return err
		}
		dst, err := NewNodeAddress(e.DstAddress...)
		if err != nil {
			return err
		}
		if err := fresh.AddEdge(Edge{Address: addr, Src: src, Dst: dst, TimestampMs: e.TimestampMs}); err != nil {
			return err
		}
	}
	*g = *fresh
	return nil
}
