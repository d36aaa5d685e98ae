// Package markov builds and solves the per-interval random-walk chain: a
// sparse column-stochastic transition operator over the graph's nodes plus
// one synthetic seed state, and a power-iteration solver for its stationary
// distribution.
package markov

import (
	"fmt"
	"math"

	"github.com/sanonone/kredo/pkg/core"
)

// FlowDir tags a chain entry with the channel its mass is attributed to
// when flows are extracted at solve time.
type FlowDir uint8

const (
	// FlowLoop is the synthetic self-loop of a node.
	FlowLoop FlowDir = iota
	// FlowForward carries mass from an edge's src to its dst.
	FlowForward
	// FlowBackward carries mass from an edge's dst back to its src.
	FlowBackward
)

// Chain is a compressed-row transition operator. Row u lists the out-going
// transitions of node u; each entry keeps the canonical index of the edge it
// came from so stationary mass can be attributed back per edge. The seed
// state is not stored: every row reserves Teleport[u] of its out-mass for
// it, and the seed's own out-distribution is supplied at solve time.
type Chain struct {
	// N is the number of node states (the seed state is not counted).
	N int
	// NumEdges is the size of the canonical edge space flows are reported in.
	NumEdges int
	// Alpha is the teleport probability the rows were normalized with.
	Alpha float64

	RowPtr []int32
	Col    []uint32
	// P holds transition probabilities; each row sums to 1 - Teleport[row].
	P []float64
	// EdgeIdx is the canonical edge index of each entry, -1 for self-loops.
	EdgeIdx []int32
	Dir     []FlowDir

	// Teleport is the out-mass share each row sends to the seed state:
	// Alpha normally, 1 for a row with zero total out-weight.
	Teleport []float64
}

// BuilderParams configures chain construction.
type BuilderParams struct {
	// Alpha is the teleport probability, in (0, 1).
	Alpha float64
	// SyntheticLoopWeight is the implicit self-loop weight added to every
	// node to guarantee irreducibility. Must be positive in normal use; the
	// builder tolerates zero, producing full-teleport rows for isolated
	// nodes.
	SyntheticLoopWeight float64
}

func (p BuilderParams) validate() error {
	if math.IsNaN(p.Alpha) || p.Alpha <= 0 || p.Alpha >= 1 {
		return fmt.Errorf("teleport alpha must be in (0, 1), got %v", p.Alpha)
	}
	if math.IsNaN(p.SyntheticLoopWeight) || math.IsInf(p.SyntheticLoopWeight, 0) || p.SyntheticLoopWeight < 0 {
		return fmt.Errorf("synthetic loop weight must be finite and non-negative, got %v", p.SyntheticLoopWeight)
	}
	return nil
}

// Build assembles the transition operator for one interval.
//
// edgeIndices is the cumulative set of canonical edge indices created up to
// the interval; edgeWeight returns the current (decayed) weight of each.
// Dangling edges are skipped. Entries are laid out with the self-loop first
// and then the contributing edges in edgeIndices order, so construction is
// deterministic for a given sequence.
func Build(g *core.Graph, edgeIndices []int, edgeWeight func(edgeIdx int) core.EdgeWeight, params BuilderParams) (*Chain, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	n := g.NumNodes()
	edges := g.Edges()

	type halfEdge struct {
		row, col int
		weight   float64
		edgeIdx  int32
		dir      FlowDir
	}
	halves := make([]halfEdge, 0, 2*len(edgeIndices))
	for _, ei := range edgeIndices {
		if g.IsDangling(ei) {
			continue
		}
		e := edges[ei]
		src, _ := g.NodeIndex(e.Src)
		dst, _ := g.NodeIndex(e.Dst)
		w := edgeWeight(ei)
		if math.IsNaN(w.Forwards) || math.IsInf(w.Forwards, 0) || w.Forwards < 0 ||
			math.IsNaN(w.Backwards) || math.IsInf(w.Backwards, 0) || w.Backwards < 0 {
			return nil, fmt.Errorf("edge '%s' has an invalid weight (%v, %v)", e.Address, w.Forwards, w.Backwards)
		}
		halves = append(halves,
			halfEdge{row: src, col: dst, weight: w.Forwards, edgeIdx: int32(ei), dir: FlowForward},
			halfEdge{row: dst, col: src, weight: w.Backwards, edgeIdx: int32(ei), dir: FlowBackward},
		)
	}

	// 1. Count entries per row: one self-loop each, plus the edge halves.
	counts := make([]int32, n)
	for i := range counts {
		counts[i] = 1
	}
	for _, h := range halves {
		counts[h.row]++
	}
	rowPtr := make([]int32, n+1)
	for i := 0; i < n; i++ {
		rowPtr[i+1] = rowPtr[i] + counts[i]
	}
	total := rowPtr[n]

	// 2. Fill raw weights, self-loop first per row.
	c := &Chain{
		N:        n,
		NumEdges: g.NumEdges(),
		Alpha:    params.Alpha,
		RowPtr:   rowPtr,
		Col:      make([]uint32, total),
		P:        make([]float64, total),
		EdgeIdx:  make([]int32, total),
		Dir:      make([]FlowDir, total),
		Teleport: make([]float64, n),
	}
	cursor := make([]int32, n)
	for u := 0; u < n; u++ {
		j := rowPtr[u]
		c.Col[j] = uint32(u)
		c.P[j] = params.SyntheticLoopWeight
		c.EdgeIdx[j] = -1
		c.Dir[j] = FlowLoop
		cursor[u] = j + 1
	}
	for _, h := range halves {
		j := cursor[h.row]
		c.Col[j] = uint32(h.col)
		c.P[j] = h.weight
		c.EdgeIdx[j] = h.edgeIdx
		c.Dir[j] = h.dir
		cursor[h.row]++
	}

	// 3. Normalize each row to (1 - alpha); the rest goes to the seed.
	for u := 0; u < n; u++ {
		var sum float64
		for j := rowPtr[u]; j < rowPtr[u+1]; j++ {
			sum += c.P[j]
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, fmt.Errorf("node %d has a non-finite out-weight total", u)
		}
		if sum == 0 {
			c.Teleport[u] = 1
			continue
		}
		scale := (1 - params.Alpha) / sum
		for j := rowPtr[u]; j < rowPtr[u+1]; j++ {
			c.P[j] *= scale
		}
		c.Teleport[u] = params.Alpha
	}
	return c, nil
}

// RowSum returns the total out-probability of row u including its teleport
// share. Column-stochasticity means this is 1 for every row.
func (c *Chain) RowSum(u int) float64 {
	sum := c.Teleport[u]
	for j := c.RowPtr[u]; j < c.RowPtr[u+1]; j++ {
		sum += c.P[j]
	}
	return sum
}

// SeedVector normalizes a non-negative weight vector into a distribution.
// An all-zero vector falls back to uniform, so the seed state always has
// somewhere to send its mass.
func SeedVector(weights []float64) []float64 {
	out := make([]float64, len(weights))
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		if len(out) > 0 {
			u := 1 / float64(len(out))
			for i := range out {
				out[i] = u
			}
		}
		return out
	}
	for i, w := range weights {
		out[i] = w / sum
	}
	return out
}
