package core

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// EdgeWeight is the pair of non-negative weights for the two directions of
// an edge: Forwards for src->dst mass, Backwards for dst->src mass.
type EdgeWeight struct {
	Forwards  float64 `json:"forwards"`
	Backwards float64 `json:"backwards"`
}

// Weights configures base weights by address prefix. An address's effective
// weight is the product of every entry whose prefix matches it; with no
// matching entry the weight is 1. Zero-valued entries are legal and zero out
// everything underneath them.
type Weights struct {
	NodePrefixes map[NodeAddress]float64
	EdgePrefixes map[EdgeAddress]EdgeWeight
}

// NewWeights returns an empty weight configuration (every weight 1).
func NewWeights() *Weights {
	return &Weights{
		NodePrefixes: make(map[NodeAddress]float64),
		EdgePrefixes: make(map[EdgeAddress]EdgeWeight),
	}
}

func checkWeight(w float64, what string, addr string) error {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("%s weight for prefix '%s' is not finite", what, addr)
	}
	if w < 0 {
		return fmt.Errorf("%s weight for prefix '%s' is negative: %v", what, addr, w)
	}
	return nil
}

// Validate checks that every configured weight is finite and non-negative.
func (w *Weights) Validate() error {
	for p, v := range w.NodePrefixes {
		if err := checkWeight(v, "node", p.String()); err != nil {
			return err
		}
	}
	for p, ew := range w.EdgePrefixes {
		if err := checkWeight(ew.Forwards, "forward edge", p.String()); err != nil {
			return err
		}
		if err := checkWeight(ew.Backwards, "backward edge", p.String()); err != nil {
			return err
		}
	}
	return nil
}

// NodeWeightFunc maps a node address to its effective base weight.
type NodeWeightFunc func(NodeAddress) float64

// EdgeWeightFunc maps an edge address to its effective base weight pair.
type EdgeWeightFunc func(EdgeAddress) EdgeWeight

type nodePrefixEntry struct {
	prefix NodeAddress
	weight float64
}

type edgePrefixEntry struct {
	prefix EdgeAddress
	weight EdgeWeight
}

// NodeEvaluator validates the node table and returns an evaluator over it.
// The evaluator snapshots the table: later map mutation has no effect.
func (w *Weights) NodeEvaluator() (NodeWeightFunc, error) {
	entries := make([]nodePrefixEntry, 0, len(w.NodePrefixes))
	for p, v := range w.NodePrefixes {
		if err := checkWeight(v, "node", p.String()); err != nil {
			return nil, err
		}
		entries = append(entries, nodePrefixEntry{prefix: p, weight: v})
	}
	return func(addr NodeAddress) float64 {
		weight := 1.0
		for _, e := range entries {
			if addr.HasPrefix(e.prefix) {
				weight *= e.weight
			}
		}
		return weight
	}, nil
}

// EdgeEvaluator validates the edge table and returns an evaluator over it.
func (w *Weights) EdgeEvaluator() (EdgeWeightFunc, error) {
	entries := make([]edgePrefixEntry, 0, len(w.EdgePrefixes))
	for p, v := range w.EdgePrefixes {
		if err := checkWeight(v.Forwards, "forward edge", p.String()); err != nil {
			return nil, err
		}
		if err := checkWeight(v.Backwards, "backward edge", p.String()); err != nil {
			return nil, err
		}
		entries = append(entries, edgePrefixEntry{prefix: p, weight: v})
	}
	return func(addr EdgeAddress) EdgeWeight {
		weight := EdgeWeight{Forwards: 1, Backwards: 1}
		for _, e := range entries {
			if addr.HasPrefix(e.prefix) {
				weight.Forwards *= e.weight.Forwards
				weight.Backwards *= e.weight.Backwards
			}
		}
		return weight
	}, nil
}

// --- JSON FORMAT ---

type nodeWeightJSON struct {
	Prefix []string `json:"prefix"`
	Weight float64  `json:"weight"`
}

type edgeWeightJSON struct {
	Prefix    []string `json:"prefix"`
	Forwards  float64  `json:"forwards"`
	Backwards float64  `json:"backwards"`
}

type weightsJSON struct {
	NodeWeights []nodeWeightJSON `json:"nodeWeights"`
	EdgeWeights []edgeWeightJSON `json:"edgeWeights"`
}

// MarshalJSON emits the tables with prefixes in canonical order, so equal
// configurations serialize identically.
func (w *Weights) MarshalJSON() ([]byte, error) {
	doc := weightsJSON{
		NodeWeights: make([]nodeWeightJSON, 0, len(w.NodePrefixes)),
		EdgeWeights: make([]edgeWeightJSON, 0, len(w.EdgePrefixes)),
	}
	nodePrefixes := make([]NodeAddress, 0, len(w.NodePrefixes))
	for p := range w.NodePrefixes {
		nodePrefixes = append(nodePrefixes, p)
	}
	sort.Slice(nodePrefixes, func(i, j int) bool { return nodePrefixes[i] < nodePrefixes[j] })
	for _, p := range nodePrefixes {
		doc.NodeWeights = append(doc.NodeWeights, nodeWeightJSON{Prefix: p.Parts(), Weight: w.NodePrefixes[p]})
	}
	edgePrefixes := make([]EdgeAddress, 0, len(w.EdgePrefixes))
	for p := range w.EdgePrefixes {
		edgePrefixes = append(edgePrefixes, p)
	}
	sort.Slice(edgePrefixes, func(i, j int) bool { return edgePrefixes[i] < edgePrefixes[j] })
	for _, p := range edgePrefixes {
		ew := w.EdgePrefixes[p]
		doc.EdgeWeights = append(doc.EdgeWeights, edgeWeightJSON{Prefix: p.Parts(), Forwards: ew.Forwards, Backwards: ew.Backwards})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON replaces the tables with the decoded document.
func (w *Weights) UnmarshalJSON(data []byte) error {
	var doc weightsJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	fresh := NewWeights()
	for _, nw := range doc.NodeWeights {
		p, err := NewNodeAddress(nw.Prefix...)
		if err != nil {
			return err
		}
		fresh.NodePrefixes[p] = nw.Weight
	}
	for _, ew := range doc.EdgeWeights {
		p, err := NewEdgeAddress(ew.Prefix...)
		if err != nil {
			return err
		}
		fresh.EdgePrefixes[p] = EdgeWeight{Forwards: ew.Forwards, Backwards: ew.Backwards}
	}
	*w = *fresh
	return nil
}
