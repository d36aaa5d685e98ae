package cred

import "github.com/x448/float16"

// The compression policies below are lossy and idempotent: they only drop
// or coarsen over-time data based on the summaries, which they never touch,
// so a second application finds nothing further to do.

// CompressByThreshold removes over-time data that stays below the given
// total. A node whose total cred is under the threshold loses its whole
// record; otherwise each flow sub-series is dropped individually when its
// own total is under. Edges keep a record as long as either direction
// clears the threshold.
func CompressByThreshold(d *Data, threshold float64) {
	for i, ot := range d.NodeOverTime {
		if ot == nil {
			continue
		}
		s := d.NodeSummaries[i]
		if s.Cred < threshold {
			d.NodeOverTime[i] = nil
			continue
		}
		if s.SeedFlow < threshold {
			ot.SeedFlow = nil
		}
		if s.SyntheticLoopFlow < threshold {
			ot.SyntheticLoopFlow = nil
		}
	}
	for i, ot := range d.EdgeOverTime {
		if ot == nil {
			continue
		}
		s := d.EdgeSummaries[i]
		if s.ForwardFlow < threshold && s.BackwardFlow < threshold {
			d.EdgeOverTime[i] = nil
			continue
		}
		if s.ForwardFlow < threshold {
			ot.ForwardFlow = nil
		}
		if s.BackwardFlow < threshold {
			ot.BackwardFlow = nil
		}
	}
}

// CompressToMatching keeps over-time records only for the node indices the
// predicate accepts, e.g. nodes that map to user identities. Edge records
// are not affected.
func CompressToMatching(d *Data, keep func(nodeIdx int) bool) {
	for i := range d.NodeOverTime {
		if d.NodeOverTime[i] != nil && !keep(i) {
			d.NodeOverTime[i] = nil
		}
	}
}

// CompressToHalfPrecision quantizes every retained over-time value through
// half-precision floats, trading series accuracy (about three decimal
// digits) for disk size. Summaries keep full precision, so summary and
// series agree only within the quantization error afterwards.
func CompressToHalfPrecision(d *Data) {
	for _, ot := range d.NodeOverTime {
		if ot == nil {
			continue
		}
		quantizeSeries(ot.Cred)
		quantizeSeries(ot.SeedFlow)
		quantizeSeries(ot.SyntheticLoopFlow)
	}
	for _, ot := range d.EdgeOverTime {
		if ot == nil {
			continue
		}
		quantizeSeries(ot.ForwardFlow)
		quantizeSeries(ot.BackwardFlow)
	}
}

func quantizeSeries(s []float64) {
	for i, v := range s {
		s[i] = float64(float16.Fromfloat32(float32(v)).Float32())
	}
}
