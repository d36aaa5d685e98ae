package core

import "fmt"

// Interval is a half-open time range [StartMs, EndMs) in epoch milliseconds.
type Interval struct {
	StartMs int64 `json:"startTimeMs"`
	EndMs   int64 `json:"endTimeMs"`
}

// WeekMs is the canonical interval width.
const WeekMs int64 = 7 * 24 * 60 * 60 * 1000

// IntervalBucket is one interval together with the canonical indices of the
// nodes and edges created inside it.
type IntervalBucket struct {
	Interval
	NodeIndices []int
	EdgeIndices []int
}

// floorDiv divides rounding toward negative infinity. b must be positive;
// plain integer division would misalign intervals for pre-epoch timestamps.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// PartitionGraph buckets the graph's timestamped events into a contiguous
// sequence of uniform intervals covering [min(ts), max(ts)]. Interval starts
// are aligned to multiples of widthMs. Nodes with nil timestamps stay out of
// every bucket. A graph with no timestamps at all yields an empty sequence.
func PartitionGraph(g *Graph, widthMs int64) ([]IntervalBucket, error) {
	if widthMs <= 0 {
		return nil, fmt.Errorf("interval width must be positive, got %d", widthMs)
	}

	haveTs := false
	var minTs, maxTs int64
	observe := func(ts int64) {
		if !haveTs {
			minTs, maxTs = ts, ts
			haveTs = true
			return
		}
		if ts < minTs {
			minTs = ts
		}
		if ts > maxTs {
			maxTs = ts
		}
	}
	for _, n := range g.Nodes() {
		if n.TimestampMs != nil {
			observe(*n.TimestampMs)
		}
	}
	for _, e := range g.Edges() {
		observe(e.TimestampMs)
	}
	if !haveTs {
		return nil, nil
	}

	base := floorDiv(minTs, widthMs) * widthMs
	count := floorDiv(maxTs-base, widthMs) + 1
	buckets := make([]IntervalBucket, count)
	for k := range buckets {
		buckets[k].Interval = Interval{
			StartMs: base + int64(k)*widthMs,
			EndMs:   base + int64(k+1)*widthMs,
		}
	}
	for i, n := range g.Nodes() {
		if n.TimestampMs == nil {
			continue
		}
		k := floorDiv(*n.TimestampMs-base, widthMs)
		buckets[k].NodeIndices = append(buckets[k].NodeIndices, i)
	}
	for i, e := range g.Edges() {
		k := floorDiv(e.TimestampMs-base, widthMs)
		buckets[k].EdgeIndices = append(buckets[k].EdgeIndices, i)
	}
	return buckets, nil
}

// IntervalSequence extracts the bare interval list from a bucket sequence.
func IntervalSequence(buckets []IntervalBucket) []Interval {
	out := make([]Interval, len(buckets))
	for i, b := range buckets {
		out[i] = b.Interval
	}
	return out
}
