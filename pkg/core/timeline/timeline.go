// Package timeline drives the interval-by-interval scoring run: it decays
// node and edge weights through history, builds a chain per interval, solves
// it with a warm start from the previous interval, and records the raw
// results in time order.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/markov"
)

// Phase labels the stage a run is in for one interval.
type Phase string

const (
	PhasePrep    Phase = "prep"
	PhaseBuild   Phase = "build"
	PhaseSolve   Phase = "solve"
	PhaseExtract Phase = "extract"
	PhaseCommit  Phase = "commit"
)

// ErrCancelled is returned when a run is cancelled, whether between
// intervals or inside a solve.
var ErrCancelled = markov.ErrCancelled

// Params configures a scoring run. All parameters are fixed for the whole
// run. Zero values select defaults, except IntervalDecay where zero is a
// meaningful setting (weight only in the creation interval).
type Params struct {
	// IntervalWidthMs is the uniform interval width. Default: one week.
	IntervalWidthMs int64 `json:"intervalWidthMs"`
	// IntervalDecay is the geometric factor applied to weights each
	// interval after creation, in [0, 1].
	IntervalDecay float64 `json:"intervalDecay"`
	// Alpha is the teleport probability, in (0, 1).
	Alpha float64 `json:"alpha"`
	// SyntheticLoopWeight is the implicit self-loop weight, positive.
	SyntheticLoopWeight float64 `json:"syntheticLoopWeight"`

	ConvergenceThreshold float64 `json:"convergenceThreshold"`
	MaxIterations        int     `json:"maxIterations"`
	YieldAfterMs         int64   `json:"yieldAfterMs"`
}

// DefaultParams returns the canonical configuration: weekly intervals,
// decay 0.5, teleport 0.05, loop weight 1e-3.
func DefaultParams() Params {
	return Params{
		IntervalWidthMs:      core.WeekMs,
		IntervalDecay:        0.5,
		Alpha:                0.05,
		SyntheticLoopWeight:  1e-3,
		ConvergenceThreshold: markov.DefaultConvergenceThreshold,
		MaxIterations:        markov.DefaultMaxIterations,
		YieldAfterMs:         markov.DefaultYieldAfter.Milliseconds(),
	}
}

// Validate applies defaults to unset fields and checks every parameter
// range. It must pass before any work starts.
func (p *Params) Validate() error {
	if p.IntervalWidthMs == 0 {
		p.IntervalWidthMs = core.WeekMs
	}
	if p.IntervalWidthMs < 0 {
		return fmt.Errorf("interval width must be positive, got %d", p.IntervalWidthMs)
	}
	if math.IsNaN(p.IntervalDecay) || p.IntervalDecay < 0 || p.IntervalDecay > 1 {
		return fmt.Errorf("interval decay must be in [0, 1], got %v", p.IntervalDecay)
	}
	if p.Alpha == 0 {
		p.Alpha = 0.05
	}
	if math.IsNaN(p.Alpha) || p.Alpha <= 0 || p.Alpha >= 1 {
		return fmt.Errorf("teleport alpha must be in (0, 1), got %v", p.Alpha)
	}
	if p.SyntheticLoopWeight == 0 {
		p.SyntheticLoopWeight = 1e-3
	}
	if math.IsNaN(p.SyntheticLoopWeight) || math.IsInf(p.SyntheticLoopWeight, 0) || p.SyntheticLoopWeight <= 0 {
		return fmt.Errorf("synthetic loop weight must be positive, got %v", p.SyntheticLoopWeight)
	}
	if p.ConvergenceThreshold == 0 {
		p.ConvergenceThreshold = markov.DefaultConvergenceThreshold
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = markov.DefaultMaxIterations
	}
	if p.YieldAfterMs == 0 {
		p.YieldAfterMs = markov.DefaultYieldAfter.Milliseconds()
	}
	if p.ConvergenceThreshold < 0 || p.MaxIterations < 0 || p.YieldAfterMs < 0 {
		return fmt.Errorf("solver controls must be positive")
	}
	return nil
}

// IntervalResult is the raw outcome of one interval, indexed by the graph's
// canonical node and edge order.
type IntervalResult struct {
	Interval       core.Interval
	IntervalWeight float64
	Pi             []float64
	ForwardFlow    []float64
	BackwardFlow   []float64
	SeedFlow       []float64
	LoopFlow       []float64
	Iterations     int
	Converged      bool
}

// ProgressFunc reports the run position: which interval out of how many,
// and the phase it is in. Called between phases and at solver yields.
type ProgressFunc func(interval, total int, phase Phase)

// Run executes the full timeline over the graph and returns one result per
// interval, in time order. An empty graph yields an empty result set. Any
// numerical failure aborts the whole run; no partial results are returned.
func Run(ctx context.Context, g *core.Graph, w *core.Weights, params Params, progress ProgressFunc) ([]IntervalResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	nodeWeightOf, err := w.NodeEvaluator()
	if err != nil {
		return nil, err
	}
	edgeWeightOf, err := w.EdgeEvaluator()
	if err != nil {
		return nil, err
	}

	buckets, err := core.PartitionGraph(g, params.IntervalWidthMs)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	nodes := g.Nodes()
	edges := g.Edges()
	n := len(nodes)
	report := func(k int, phase Phase) {
		if progress != nil {
			progress(k, len(buckets), phase)
		}
	}

	// Decayed weight accumulators, keyed by canonical index. Nodes with nil
	// timestamps never enter nodeWeight, so they never receive seed mass.
	nodeWeight := make(map[int]float64)
	edgeWeight := make(map[int]core.EdgeWeight)
	var cumulativeEdges []int
	var prevPi []float64

	results := make([]IntervalResult, 0, len(buckets))
	for k, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w at interval %d: %w", ErrCancelled, k, err)
		}

		// 1. PREP: decay the existing weights, then emit the newcomers.
		report(k, PhasePrep)
		for i, v := range nodeWeight {
			nodeWeight[i] = v * params.IntervalDecay
		}
		for _, i := range bucket.NodeIndices {
			nodeWeight[i] = nodeWeightOf(nodes[i].Address) * (1 - params.IntervalDecay)
		}
		for i, v := range edgeWeight {
			v.Forwards *= params.IntervalDecay
			v.Backwards *= params.IntervalDecay
			edgeWeight[i] = v
		}
		for _, i := range bucket.EdgeIndices {
			edgeWeight[i] = edgeWeightOf(edges[i].Address)
			cumulativeEdges = append(cumulativeEdges, i)
		}

		seedWeights := make([]float64, n)
		for i, v := range nodeWeight {
			seedWeights[i] = v
		}
		intervalWeight := 0.0
		for _, v := range seedWeights {
			intervalWeight += v
		}
		seed := markov.SeedVector(seedWeights)

		// 2. BUILD
		report(k, PhaseBuild)
		chain, err := markov.Build(g, cumulativeEdges, func(ei int) core.EdgeWeight {
			return edgeWeight[ei]
		}, markov.BuilderParams{Alpha: params.Alpha, SyntheticLoopWeight: params.SyntheticLoopWeight})
		if err != nil {
			return nil, fmt.Errorf("interval %d: %w", k, err)
		}

		// 3. SOLVE, warm-starting from the previous interval.
		report(k, PhaseSolve)
		res, err := markov.Solve(ctx, chain, seed, prevPi, markov.SolverOptions{
			MaxIterations:        params.MaxIterations,
			ConvergenceThreshold: params.ConvergenceThreshold,
			YieldAfter:           time.Duration(params.YieldAfterMs) * time.Millisecond,
			Progress: func(int, float64) {
				report(k, PhaseSolve)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("interval %d: %w", k, err)
		}
		if !res.Converged {
			slog.Warn("stationary solve did not converge",
				"interval", k,
				"iterations", res.Iterations,
				"max_diff", res.MaxDiff,
			)
		}

		// 4. EXTRACT + COMMIT
		report(k, PhaseExtract)
		results = append(results, IntervalResult{
			Interval:       bucket.Interval,
			IntervalWeight: intervalWeight,
			Pi:             res.Pi,
			ForwardFlow:    res.ForwardFlow,
			BackwardFlow:   res.BackwardFlow,
			SeedFlow:       res.SeedFlow,
			LoopFlow:       res.LoopFlow,
			Iterations:     res.Iterations,
			Converged:      res.Converged,
		})
		prevPi = res.Pi
		report(k, PhaseCommit)
	}
	return results, nil
}
