// Package cred turns raw per-interval solver output into the final cred
// artifact: normalized per-interval scores, lifetime summaries, optional
// over-time series, and the lossy compression policies applied to them.
package cred

import (
	"fmt"
	"math"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/timeline"
)

// NodeSummary aggregates a node's cred and flows across all intervals.
type NodeSummary struct {
	Cred              float64 `json:"cred"`
	SeedFlow          float64 `json:"seedFlow"`
	SyntheticLoopFlow float64 `json:"syntheticLoopFlow"`
}

// EdgeSummary aggregates an edge's directional flows across all intervals.
type EdgeSummary struct {
	ForwardFlow  float64 `json:"forwardFlow"`
	BackwardFlow float64 `json:"backwardFlow"`
}

// NodeTimeline holds a node's per-interval series. Sub-series may be nil
// when compressed out; Cred itself is only absent when the whole record is.
type NodeTimeline struct {
	Cred              []float64 `json:"cred"`
	SeedFlow          []float64 `json:"seedFlow"`
	SyntheticLoopFlow []float64 `json:"syntheticLoopFlow"`
}

// EdgeTimeline holds an edge's per-interval series; either direction may be
// nil when compressed out.
type EdgeTimeline struct {
	ForwardFlow  []float64 `json:"forwardFlow"`
	BackwardFlow []float64 `json:"backwardFlow"`
}

// Data is the cred artifact. All arrays are indexed by the graph's
// canonical node and edge order and are never reordered. Over-time entries
// are nil where a compression policy removed them; summaries are always
// present.
type Data struct {
	Intervals     []core.Interval `json:"intervals"`
	NodeSummaries []NodeSummary   `json:"nodeSummaries"`
	NodeOverTime  []*NodeTimeline `json:"nodeOverTime"`
	EdgeSummaries []EdgeSummary   `json:"edgeSummaries"`
	EdgeOverTime  []*EdgeTimeline `json:"edgeOverTime"`
}

// Compute normalizes the raw results into cred and aggregates them.
//
// Scoring nodes are those whose address matches any of scoringPrefixes. Per
// interval, the normalizer is intervalWeight / (sum of Pi over scoring
// nodes); an interval whose scoring mass is zero emits all-zero cred, and an
// empty prefix list therefore zeroes the whole artifact.
func Compute(g *core.Graph, results []timeline.IntervalResult, scoringPrefixes []core.NodeAddress) (*Data, error) {
	n := g.NumNodes()
	e := g.NumEdges()
	k := len(results)

	scoring := make([]bool, n)
	for _, p := range scoringPrefixes {
		for _, i := range g.NodesUnder(p) {
			scoring[i] = true
		}
	}

	d := &Data{
		Intervals:     make([]core.Interval, 0, k),
		NodeSummaries: make([]NodeSummary, n),
		NodeOverTime:  make([]*NodeTimeline, n),
		EdgeSummaries: make([]EdgeSummary, e),
		EdgeOverTime:  make([]*EdgeTimeline, e),
	}
	for i := range d.NodeOverTime {
		d.NodeOverTime[i] = &NodeTimeline{
			Cred:              make([]float64, k),
			SeedFlow:          make([]float64, k),
			SyntheticLoopFlow: make([]float64, k),
		}
	}
	for i := range d.EdgeOverTime {
		d.EdgeOverTime[i] = &EdgeTimeline{
			ForwardFlow:  make([]float64, k),
			BackwardFlow: make([]float64, k),
		}
	}

	for ki, r := range results {
		if len(r.Pi) != n || len(r.ForwardFlow) != e {
			return nil, fmt.Errorf("interval %d result does not match the graph (nodes %d/%d, edges %d/%d)",
				ki, len(r.Pi), n, len(r.ForwardFlow), e)
		}
		d.Intervals = append(d.Intervals, r.Interval)

		var scoringMass float64
		for i, isScoring := range scoring {
			if isScoring {
				scoringMass += r.Pi[i]
			}
		}
		// Zero scoring mass pins the whole interval to zero; there is no
		// scale at which the scoring nodes would reach the interval weight.
		eta := 0.0
		if scoringMass > 0 {
			eta = r.IntervalWeight / scoringMass
		}

		for i := 0; i < n; i++ {
			ot := d.NodeOverTime[i]
			ot.Cred[ki] = r.Pi[i] * eta
			ot.SeedFlow[ki] = r.SeedFlow[i] * eta
			ot.SyntheticLoopFlow[ki] = r.LoopFlow[i] * eta
			d.NodeSummaries[i].Cred += ot.Cred[ki]
			d.NodeSummaries[i].SeedFlow += ot.SeedFlow[ki]
			d.NodeSummaries[i].SyntheticLoopFlow += ot.SyntheticLoopFlow[ki]
		}
		for i := 0; i < e; i++ {
			ot := d.EdgeOverTime[i]
			ot.ForwardFlow[ki] = r.ForwardFlow[i] * eta
			ot.BackwardFlow[ki] = r.BackwardFlow[i] * eta
			d.EdgeSummaries[i].ForwardFlow += ot.ForwardFlow[ki]
			d.EdgeSummaries[i].BackwardFlow += ot.BackwardFlow[ki]
		}
	}
	return d, nil
}

// Clone returns a deep copy. The compression functions mutate in place, so
// callers that share an artifact across goroutines compress a clone and
// swap pointers instead.
func (d *Data) Clone() *Data {
	out := &Data{
		Intervals:     append([]core.Interval(nil), d.Intervals...),
		NodeSummaries: append([]NodeSummary(nil), d.NodeSummaries...),
		NodeOverTime:  make([]*NodeTimeline, len(d.NodeOverTime)),
		EdgeSummaries: append([]EdgeSummary(nil), d.EdgeSummaries...),
		EdgeOverTime:  make([]*EdgeTimeline, len(d.EdgeOverTime)),
	}
	for i, ot := range d.NodeOverTime {
		if ot == nil {
			continue
		}
		out.NodeOverTime[i] = &NodeTimeline{
			Cred:              append([]float64(nil), ot.Cred...),
			SeedFlow:          append([]float64(nil), ot.SeedFlow...),
			SyntheticLoopFlow: append([]float64(nil), ot.SyntheticLoopFlow...),
		}
	}
	for i, ot := range d.EdgeOverTime {
		if ot == nil {
			continue
		}
		out.EdgeOverTime[i] = &EdgeTimeline{
			ForwardFlow:  append([]float64(nil), ot.ForwardFlow...),
			BackwardFlow: append([]float64(nil), ot.BackwardFlow...),
		}
	}
	return out
}

func seriesSum(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum
}

func within(sum, summary, tolerance float64) bool {
	return math.Abs(sum-summary) <= tolerance*math.Max(1, math.Abs(summary))
}

// Validate checks the artifact's internal consistency: array lengths agree
// and, wherever an over-time series is present, it sums to its summary
// within the given relative tolerance. Lossy-compressed artifacts should be
// checked with a tolerance that matches the compression (half precision
// needs roughly 1e-3).
func (d *Data) Validate(tolerance float64) error {
	k := len(d.Intervals)
	if len(d.NodeOverTime) != len(d.NodeSummaries) {
		return fmt.Errorf("node arrays disagree: %d summaries, %d over-time", len(d.NodeSummaries), len(d.NodeOverTime))
	}
	if len(d.EdgeOverTime) != len(d.EdgeSummaries) {
		return fmt.Errorf("edge arrays disagree: %d summaries, %d over-time", len(d.EdgeSummaries), len(d.EdgeOverTime))
	}
	for i, ot := range d.NodeOverTime {
		if ot == nil {
			continue
		}
		if len(ot.Cred) != k {
			return fmt.Errorf("node %d: cred series has %d entries, want %d", i, len(ot.Cred), k)
		}
		if !within(seriesSum(ot.Cred), d.NodeSummaries[i].Cred, tolerance) {
			return fmt.Errorf("node %d: cred series sums to %v, summary is %v", i, seriesSum(ot.Cred), d.NodeSummaries[i].Cred)
		}
		if ot.SeedFlow != nil && !within(seriesSum(ot.SeedFlow), d.NodeSummaries[i].SeedFlow, tolerance) {
			return fmt.Errorf("node %d: seedFlow series sums to %v, summary is %v", i, seriesSum(ot.SeedFlow), d.NodeSummaries[i].SeedFlow)
		}
		if ot.SyntheticLoopFlow != nil && !within(seriesSum(ot.SyntheticLoopFlow), d.NodeSummaries[i].SyntheticLoopFlow, tolerance) {
			return fmt.Errorf("node %d: syntheticLoopFlow series sums to %v, summary is %v", i, seriesSum(ot.SyntheticLoopFlow), d.NodeSummaries[i].SyntheticLoopFlow)
		}
	}
	for i, ot := range d.EdgeOverTime {
		if ot == nil {
			continue
		}
		if ot.ForwardFlow != nil && !within(seriesSum(ot.ForwardFlow), d.EdgeSummaries[i].ForwardFlow, tolerance) {
			return fmt.Errorf("edge %d: forwardFlow series sums to %v, summary is %v", i, seriesSum(ot.ForwardFlow), d.EdgeSummaries[i].ForwardFlow)
		}
		if ot.BackwardFlow != nil && !within(seriesSum(ot.BackwardFlow), d.EdgeSummaries[i].BackwardFlow, tolerance) {
			return fmt.Errorf("edge %d: backwardFlow series sums to %v, summary is %v", i, seriesSum(ot.BackwardFlow), d.EdgeSummaries[i].BackwardFlow)
		}
	}
	return nil
}
