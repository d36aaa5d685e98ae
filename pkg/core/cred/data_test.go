package cred

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/timeline"
)

func ms(v int64) *int64 { return &v }

// fooBarGraph has canonical node order bar=0, foo=1 and no edges.
func fooBarGraph(t *testing.T) *core.Graph {
	t.Helper()
	g := core.NewGraph()
	for _, name := range []string{"foo", "bar"} {
		if err := g.AddNode(core.Node{Address: core.MustNodeAddress(name), TimestampMs: ms(0)}); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
	}
	return g
}

func interval(k int64) core.Interval {
	return core.Interval{StartMs: k * 100, EndMs: (k + 1) * 100}
}

// rawResult builds an edgeless interval result in canonical order (bar, foo).
func rawResult(k int64, weight float64, pi []float64) timeline.IntervalResult {
	seed := make([]float64, len(pi))
	loop := make([]float64, len(pi))
	for i, v := range pi {
		seed[i] = 0.05 * v
		loop[i] = 0.001 * v
	}
	return timeline.IntervalResult{
		Interval:       interval(k),
		IntervalWeight: weight,
		Pi:             pi,
		ForwardFlow:    []float64{},
		BackwardFlow:   []float64{},
		SeedFlow:       seed,
		LoopFlow:       loop,
		Converged:      true,
	}
}

func TestComputeEmptyGraph(t *testing.T) {
	d, err := Compute(core.NewGraph(), nil, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if len(d.Intervals) != 0 {
		t.Errorf("Got %d intervals, want 0", len(d.Intervals))
	}
	if len(d.NodeSummaries) != 0 || len(d.NodeOverTime) != 0 || len(d.EdgeSummaries) != 0 || len(d.EdgeOverTime) != 0 {
		t.Error("empty graph must produce empty summary arrays")
	}
}

func TestComputeScoringAll(t *testing.T) {
	// Distributions (bar, foo): [0.5, 0.5] then [0.1, 0.9] with interval
	// weights 2 and 10. Scoring over everything gives normalizers 2 and 10,
	// so cred is [1, 1] then [1, 9].
	g := fooBarGraph(t)
	results := []timeline.IntervalResult{
		rawResult(0, 2, []float64{0.5, 0.5}),
		rawResult(1, 10, []float64{0.1, 0.9}),
	}
	d, err := Compute(g, results, []core.NodeAddress{core.NodeAddress("")})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	wantCred := [][]float64{{1, 1}, {1, 9}}
	for i, want := range wantCred {
		got := d.NodeOverTime[i].Cred
		for k := range want {
			if math.Abs(got[k]-want[k]) > 1e-9 {
				t.Errorf("node %d interval %d: got cred %v, want %v", i, k, got[k], want[k])
			}
		}
	}
	if math.Abs(d.NodeSummaries[0].Cred-2) > 1e-9 {
		t.Errorf("bar summary: got %v, want 2", d.NodeSummaries[0].Cred)
	}
	if math.Abs(d.NodeSummaries[1].Cred-10) > 1e-9 {
		t.Errorf("foo summary: got %v, want 10", d.NodeSummaries[1].Cred)
	}

	// Flows are scaled by the same normalizer as cred.
	if got, want := d.NodeOverTime[1].SeedFlow[1], 0.05*0.9*10; math.Abs(got-want) > 1e-9 {
		t.Errorf("foo seedFlow interval 1: got %v, want %v", got, want)
	}
}

func TestComputeScoringOnlyBar(t *testing.T) {
	// Same distributions, scoring restricted to bar: normalizers become
	// 2/0.5=4 and 10/0.1=100, so cred is [2, 2] then [10, 90].
	g := fooBarGraph(t)
	results := []timeline.IntervalResult{
		rawResult(0, 2, []float64{0.5, 0.5}),
		rawResult(1, 10, []float64{0.1, 0.9}),
	}
	d, err := Compute(g, results, []core.NodeAddress{core.MustNodeAddress("bar")})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	wantCred := [][]float64{{2, 2}, {10, 90}}
	for i, want := range wantCred {
		for k := range want {
			if got := d.NodeOverTime[i].Cred[k]; math.Abs(got-want[k]) > 1e-9 {
				t.Errorf("node %d interval %d: got cred %v, want %v", i, k, got, want[k])
			}
		}
	}
}

func TestComputeZeroScoringMass(t *testing.T) {
	// All the probability sits on foo while only bar scores: there is no
	// normalizer that works, so the whole interval is zero.
	g := fooBarGraph(t)
	results := []timeline.IntervalResult{rawResult(0, 5, []float64{0, 1})}
	d, err := Compute(g, results, []core.NodeAddress{core.MustNodeAddress("bar")})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	for i := range d.NodeSummaries {
		if d.NodeSummaries[i].Cred != 0 || d.NodeSummaries[i].SeedFlow != 0 || d.NodeSummaries[i].SyntheticLoopFlow != 0 {
			t.Errorf("node %d: got nonzero summary %+v, want all zero", i, d.NodeSummaries[i])
		}
		for k := range d.Intervals {
			if d.NodeOverTime[i].Cred[k] != 0 {
				t.Errorf("node %d interval %d: got cred %v, want 0", i, k, d.NodeOverTime[i].Cred[k])
			}
		}
	}
}

func TestComputeNoScoringPrefixes(t *testing.T) {
	g := fooBarGraph(t)
	results := []timeline.IntervalResult{
		rawResult(0, 2, []float64{0.5, 0.5}),
		rawResult(1, 10, []float64{0.1, 0.9}),
	}
	d, err := Compute(g, results, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	for i := range d.NodeSummaries {
		if d.NodeSummaries[i].Cred != 0 {
			t.Errorf("node %d: got cred %v, want 0 with no scoring prefixes", i, d.NodeSummaries[i].Cred)
		}
	}
}

func TestComputeEdgeAggregation(t *testing.T) {
	g := fooBarGraph(t)
	if err := g.AddEdge(core.Edge{
		Address:     core.MustEdgeAddress("link"),
		Src:         core.MustNodeAddress("foo"),
		Dst:         core.MustNodeAddress("bar"),
		TimestampMs: 0,
	}); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	mk := func(k int64, weight float64, pi []float64, fwd, bwd float64) timeline.IntervalResult {
		r := rawResult(k, weight, pi)
		r.ForwardFlow = []float64{fwd}
		r.BackwardFlow = []float64{bwd}
		return r
	}
	d, err := Compute(g, []timeline.IntervalResult{
		mk(0, 2, []float64{0.5, 0.5}, 0.2, 0.1),
		mk(1, 10, []float64{0.1, 0.9}, 0.3, 0.05),
	}, []core.NodeAddress{core.NodeAddress("")})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	// Normalizers are 2 and 10.
	if want := 0.2*2 + 0.3*10; math.Abs(d.EdgeSummaries[0].ForwardFlow-want) > 1e-9 {
		t.Errorf("forward summary: got %v, want %v", d.EdgeSummaries[0].ForwardFlow, want)
	}
	if want := 0.1*2 + 0.05*10; math.Abs(d.EdgeSummaries[0].BackwardFlow-want) > 1e-9 {
		t.Errorf("backward summary: got %v, want %v", d.EdgeSummaries[0].BackwardFlow, want)
	}
}

func TestComputeRejectsMismatchedResults(t *testing.T) {
	g := fooBarGraph(t)
	bad := rawResult(0, 1, []float64{1}) // wrong node count
	if _, err := Compute(g, []timeline.IntervalResult{bad}, nil); err == nil {
		t.Error("expected an error for a result that does not match the graph")
	}
}

func TestSummaryMatchesOverTime(t *testing.T) {
	g := fooBarGraph(t)
	results := []timeline.IntervalResult{
		rawResult(0, 2, []float64{0.5, 0.5}),
		rawResult(1, 10, []float64{0.1, 0.9}),
		rawResult(2, 7, []float64{0.25, 0.75}),
	}
	d, err := Compute(g, results, []core.NodeAddress{core.NodeAddress("")})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if err := d.Validate(1e-9); err != nil {
		t.Errorf("consistency check failed: %v", err)
	}
}

func TestDataJSONRoundTrip(t *testing.T) {
	g := fooBarGraph(t)
	results := []timeline.IntervalResult{
		rawResult(0, 2, []float64{0.5, 0.5}),
		rawResult(1, 10, []float64{0.1, 0.9}),
	}
	d, err := Compute(g, results, []core.NodeAddress{core.NodeAddress("")})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	// Punch holes so the null encoding is exercised too.
	d.NodeOverTime[0] = nil
	d.NodeOverTime[1].SeedFlow = nil

	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back Data
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(*d, back) {
		t.Errorf("round trip changed the artifact.\n got: %+v\nwant: %+v", back, *d)
	}
}
