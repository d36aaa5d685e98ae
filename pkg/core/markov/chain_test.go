package markov

import (
	"math"
	"strings"
	"testing"

	"github.com/sanonone/kredo/pkg/core"
)

func ms(v int64) *int64 { return &v }

// twoNodeGraph builds foo -> bar with a single edge.
func twoNodeGraph(t *testing.T) *core.Graph {
	t.Helper()
	g := core.NewGraph()
	if err := g.AddNode(core.Node{Address: core.MustNodeAddress("bar"), TimestampMs: ms(0)}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if err := g.AddNode(core.Node{Address: core.MustNodeAddress("foo"), TimestampMs: ms(0)}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	err := g.AddEdge(core.Edge{
		Address:     core.MustEdgeAddress("link"),
		Src:         core.MustNodeAddress("foo"),
		Dst:         core.MustNodeAddress("bar"),
		TimestampMs: 0,
	})
	if err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	return g
}

func unitEdgeWeight(int) core.EdgeWeight { return core.EdgeWeight{Forwards: 1, Backwards: 1} }

func TestBuildColumnStochastic(t *testing.T) {
	g := twoNodeGraph(t)
	c, err := Build(g, []int{0}, unitEdgeWeight, BuilderParams{Alpha: 0.05, SyntheticLoopWeight: 1e-3})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for u := 0; u < c.N; u++ {
		if diff := math.Abs(c.RowSum(u) - 1); diff > 1e-12 {
			t.Errorf("row %d sums to %v, want 1 within 1e-12", u, c.RowSum(u))
		}
	}
}

func TestBuildLayoutAndAttribution(t *testing.T) {
	g := twoNodeGraph(t)
	c, err := Build(g, []int{0}, unitEdgeWeight, BuilderParams{Alpha: 0.05, SyntheticLoopWeight: 1e-3})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Canonical node order is bar=0, foo=1. Each row starts with its
	// self-loop; foo carries the forward half, bar the backward half.
	for u := 0; u < c.N; u++ {
		j := c.RowPtr[u]
		if c.Dir[j] != FlowLoop || c.Col[j] != uint32(u) || c.EdgeIdx[j] != -1 {
			t.Errorf("row %d does not start with its self-loop", u)
		}
	}
	fooRow := c.RowPtr[1] + 1
	if c.Dir[fooRow] != FlowForward || c.Col[fooRow] != 0 || c.EdgeIdx[fooRow] != 0 {
		t.Errorf("forward half misattributed: dir=%v col=%d edge=%d", c.Dir[fooRow], c.Col[fooRow], c.EdgeIdx[fooRow])
	}
	barRow := c.RowPtr[0] + 1
	if c.Dir[barRow] != FlowBackward || c.Col[barRow] != 1 || c.EdgeIdx[barRow] != 0 {
		t.Errorf("backward half misattributed: dir=%v col=%d edge=%d", c.Dir[barRow], c.Col[barRow], c.EdgeIdx[barRow])
	}
}

func TestBuildSkipsDanglingEdges(t *testing.T) {
	g := twoNodeGraph(t)
	err := g.AddEdge(core.Edge{
		Address:     core.MustEdgeAddress("broken"),
		Src:         core.MustNodeAddress("foo"),
		Dst:         core.MustNodeAddress("ghost"),
		TimestampMs: 0,
	})
	if err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	c, err := Build(g, []int{0, 1}, unitEdgeWeight, BuilderParams{Alpha: 0.05, SyntheticLoopWeight: 1e-3})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// 2 self-loops + 2 halves of the valid edge; the dangling one adds none.
	if got := len(c.P); got != 4 {
		t.Errorf("Got %d entries, want 4", got)
	}
	for u := 0; u < c.N; u++ {
		if diff := math.Abs(c.RowSum(u) - 1); diff > 1e-12 {
			t.Errorf("row %d sums to %v after dangling exclusion", u, c.RowSum(u))
		}
	}
}

func TestBuildZeroLoopDegeneratesToFullTeleport(t *testing.T) {
	g := core.NewGraph()
	if err := g.AddNode(core.Node{Address: core.MustNodeAddress("lonely"), TimestampMs: ms(0)}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	c, err := Build(g, nil, unitEdgeWeight, BuilderParams{Alpha: 0.05, SyntheticLoopWeight: 0})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.Teleport[0] != 1 {
		t.Errorf("Got teleport %v, want 1 for an isolated node with no loop", c.Teleport[0])
	}
	if diff := math.Abs(c.RowSum(0) - 1); diff > 1e-12 {
		t.Errorf("degenerate row sums to %v, want 1", c.RowSum(0))
	}
}

func TestBuildRejectsInvalidWeights(t *testing.T) {
	g := twoNodeGraph(t)
	nan := func(int) core.EdgeWeight { return core.EdgeWeight{Forwards: math.NaN(), Backwards: 1} }
	if _, err := Build(g, []int{0}, nan, BuilderParams{Alpha: 0.05, SyntheticLoopWeight: 1e-3}); err == nil {
		t.Error("expected an error for a NaN edge weight")
	}
	neg := func(int) core.EdgeWeight { return core.EdgeWeight{Forwards: 1, Backwards: -2} }
	if _, err := Build(g, []int{0}, neg, BuilderParams{Alpha: 0.05, SyntheticLoopWeight: 1e-3}); err == nil {
		t.Error("expected an error for a negative edge weight")
	}
}

func TestBuildRejectsInvalidAlpha(t *testing.T) {
	g := twoNodeGraph(t)
	for _, alpha := range []float64{0, 1, -0.5, math.NaN()} {
		_, err := Build(g, []int{0}, unitEdgeWeight, BuilderParams{Alpha: alpha, SyntheticLoopWeight: 1e-3})
		if err == nil {
			t.Errorf("alpha=%v: expected an error", alpha)
		} else if !strings.Contains(err.Error(), "alpha") {
			t.Errorf("alpha=%v: unexpected error %v", alpha, err)
		}
	}
}

func TestSeedVector(t *testing.T) {
	got := SeedVector([]float64{3, 0, 1})
	want := []float64{0.75, 0, 0.25}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("SeedVector[%d]: got %v, want %v", i, got[i], want[i])
		}
	}

	// All-zero weights fall back to uniform.
	uniform := SeedVector([]float64{0, 0})
	for i, v := range uniform {
		if math.Abs(v-0.5) > 1e-12 {
			t.Errorf("uniform fallback[%d]: got %v, want 0.5", i, v)
		}
	}

	if empty := SeedVector(nil); len(empty) != 0 {
		t.Errorf("Got %v, want an empty vector", empty)
	}
}
