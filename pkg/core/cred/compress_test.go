package cred

import (
	"math"
	"reflect"
	"testing"

	"github.com/sanonone/kredo/pkg/core"
)

// compressFixture builds an artifact with one strong node, one weak node,
// one doubly weak edge and one edge that is strong forwards only.
func compressFixture() *Data {
	return &Data{
		Intervals: []core.Interval{{StartMs: 0, EndMs: 100}, {StartMs: 100, EndMs: 200}},
		NodeSummaries: []NodeSummary{
			{Cred: 50, SeedFlow: 2, SyntheticLoopFlow: 30},
			{Cred: 3, SeedFlow: 1, SyntheticLoopFlow: 1},
		},
		NodeOverTime: []*NodeTimeline{
			{Cred: []float64{20, 30}, SeedFlow: []float64{1, 1}, SyntheticLoopFlow: []float64{10, 20}},
			{Cred: []float64{1, 2}, SeedFlow: []float64{0.5, 0.5}, SyntheticLoopFlow: []float64{0.5, 0.5}},
		},
		EdgeSummaries: []EdgeSummary{
			{ForwardFlow: 1, BackwardFlow: 2},
			{ForwardFlow: 40, BackwardFlow: 0.5},
		},
		EdgeOverTime: []*EdgeTimeline{
			{ForwardFlow: []float64{0.5, 0.5}, BackwardFlow: []float64{1, 1}},
			{ForwardFlow: []float64{15, 25}, BackwardFlow: []float64{0.25, 0.25}},
		},
	}
}

func TestCompressByThreshold(t *testing.T) {
	d := compressFixture()
	CompressByThreshold(d, 10)

	// 1. The weak node loses its whole record; the strong one keeps cred
	// and loop flow but sheds the sub-threshold seed series.
	if d.NodeOverTime[1] != nil {
		t.Error("weak node record should be compressed out")
	}
	if d.NodeOverTime[0] == nil || d.NodeOverTime[0].Cred == nil {
		t.Fatal("strong node must keep its cred series")
	}
	if d.NodeOverTime[0].SeedFlow != nil {
		t.Error("sub-threshold seedFlow series should be compressed out")
	}
	if d.NodeOverTime[0].SyntheticLoopFlow == nil {
		t.Error("above-threshold loop series should survive")
	}

	// 2. The doubly weak edge disappears; the one-sided edge keeps only its
	// strong direction.
	if d.EdgeOverTime[0] != nil {
		t.Error("doubly weak edge record should be compressed out")
	}
	if d.EdgeOverTime[1] == nil || d.EdgeOverTime[1].ForwardFlow == nil {
		t.Fatal("strong forward series must survive")
	}
	if d.EdgeOverTime[1].BackwardFlow != nil {
		t.Error("weak backward series should be compressed out")
	}

	// 3. Summaries are never touched.
	if d.NodeSummaries[1].Cred != 3 {
		t.Errorf("summary changed: got %v, want 3", d.NodeSummaries[1].Cred)
	}
}

func TestCompressByThresholdIdempotent(t *testing.T) {
	once := compressFixture()
	CompressByThreshold(once, 10)
	twice := compressFixture()
	CompressByThreshold(twice, 10)
	CompressByThreshold(twice, 10)
	if !reflect.DeepEqual(once, twice) {
		t.Error("applying threshold compression twice is not a no-op")
	}
}

func TestCompressToMatching(t *testing.T) {
	d := compressFixture()
	CompressToMatching(d, func(i int) bool { return i == 0 })

	if d.NodeOverTime[0] == nil {
		t.Error("matching node should keep its record")
	}
	if d.NodeOverTime[1] != nil {
		t.Error("non-matching node should lose its record")
	}
	if d.EdgeOverTime[0] == nil || d.EdgeOverTime[1] == nil {
		t.Error("edge records are not subject to the node predicate")
	}

	// Idempotent by construction.
	again := compressFixture()
	CompressToMatching(again, func(i int) bool { return i == 0 })
	CompressToMatching(again, func(i int) bool { return i == 0 })
	if !reflect.DeepEqual(d, again) {
		t.Error("applying index compression twice is not a no-op")
	}
}

func TestCompressToHalfPrecision(t *testing.T) {
	d := compressFixture()
	d.NodeOverTime[0].Cred[0] = 1.0 / 3.0
	d.NodeOverTime[1] = nil // nil records must be tolerated
	CompressToHalfPrecision(d)

	got := d.NodeOverTime[0].Cred[0]
	if got == 1.0/3.0 {
		t.Error("value was not quantized")
	}
	if math.Abs(got-1.0/3.0) > 1e-3 {
		t.Errorf("quantization error too large: got %v", got)
	}

	// Summaries stay exact.
	if d.NodeSummaries[0].Cred != 50 {
		t.Errorf("summary changed: got %v, want 50", d.NodeSummaries[0].Cred)
	}

	// Re-quantizing quantized values changes nothing.
	raw := append([]float64{}, d.NodeOverTime[0].Cred...)
	CompressToHalfPrecision(d)
	for i, v := range d.NodeOverTime[0].Cred {
		if v != raw[i] {
			t.Errorf("series[%d] changed on second pass: %v -> %v", i, raw[i], v)
		}
	}
}

func TestDataClone(t *testing.T) {
	d := compressFixture()
	d.NodeOverTime[1] = nil
	d.EdgeOverTime[0] = nil

	clone := d.Clone()
	if !reflect.DeepEqual(clone, d) {
		t.Fatal("clone differs from the original")
	}
	if clone.NodeOverTime[1] != nil || clone.EdgeOverTime[0] != nil {
		t.Error("nil records must stay nil in the clone")
	}

	// Compressing the clone must leave the original untouched.
	CompressByThreshold(clone, math.Inf(1))
	if d.NodeOverTime[0] == nil || d.NodeOverTime[0].Cred[0] != 20 {
		t.Error("original was mutated through the clone")
	}
	if clone.NodeOverTime[0] != nil {
		t.Error("clone was not compressed")
	}
}
