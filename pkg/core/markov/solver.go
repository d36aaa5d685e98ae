package markov

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sanonone/kredo/pkg/core/vecmath"
)

// Solver defaults. 255 iterations with a warm start is normally far more
// than needed; runs that still have not converged return their last iterate
// with Converged=false rather than failing.
const (
	DefaultMaxIterations        = 255
	DefaultConvergenceThreshold = 1e-7
	DefaultYieldAfter           = 30 * time.Millisecond
)

// ErrCancelled is returned when the context is cancelled mid-solve. No
// partial result accompanies it.
var ErrCancelled = errors.New("solve cancelled")

// SolverOptions configures the power iteration. Zero values select the
// package defaults.
type SolverOptions struct {
	MaxIterations        int
	ConvergenceThreshold float64
	// YieldAfter is the wall-clock cadence of cooperative yields, where the
	// solver checks for cancellation and reports progress.
	YieldAfter time.Duration
	// Progress, if set, is invoked at each yield point.
	Progress func(iteration int, maxDiff float64)
}

func (o SolverOptions) normalized() (SolverOptions, error) {
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.MaxIterations < 0 {
		return o, fmt.Errorf("max iterations must be positive, got %d", o.MaxIterations)
	}
	if o.ConvergenceThreshold == 0 {
		o.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	if o.ConvergenceThreshold < 0 || math.IsNaN(o.ConvergenceThreshold) {
		return o, fmt.Errorf("convergence threshold must be positive, got %v", o.ConvergenceThreshold)
	}
	if o.YieldAfter == 0 {
		o.YieldAfter = DefaultYieldAfter
	}
	if o.YieldAfter < 0 {
		return o, fmt.Errorf("yield interval must be positive, got %v", o.YieldAfter)
	}
	return o, nil
}

// Result is the stationary solution in the node space. Pi sums to 1: the
// seed state's standing mass has been redistributed proportionally, so Pi
// is the fixed point of the plain seeded walk. All flows are reported in
// the same scale, hence Pi[v] = SeedFlow[v] + LoopFlow[v] + edge inflows
// at convergence.
type Result struct {
	Pi []float64
	// ForwardFlow and BackwardFlow are indexed by canonical edge order;
	// edges absent from the chain (not yet created, dangling) read zero.
	ForwardFlow  []float64
	BackwardFlow []float64
	// SeedFlow is the mass each node receives from the seed state per step.
	SeedFlow []float64
	// LoopFlow is the mass each node cycles through its synthetic loop.
	LoopFlow []float64

	Iterations int
	Converged  bool
	MaxDiff    float64
}

// Solve runs power iteration on the augmented (node + seed) space until the
// L-infinity distance between successive iterates drops below the threshold
// or MaxIterations is reached. Non-convergence is not an error. seed must be
// a distribution over the node space; pi0 warm-starts the iteration and may
// be nil (uniform start) or shorter than the node space (padded with zeros).
func Solve(ctx context.Context, c *Chain, seed []float64, pi0 []float64, opts SolverOptions) (*Result, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	if len(seed) != c.N {
		return nil, fmt.Errorf("seed vector has length %d, chain has %d nodes", len(seed), c.N)
	}
	var seedSum float64
	for _, s := range seed {
		if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("seed vector entry %v is not a probability", s)
		}
		seedSum += s
	}
	if math.Abs(seedSum-1) > 1e-6 {
		return nil, fmt.Errorf("seed vector sums to %v, want 1", seedSum)
	}

	cur := startingDistribution(c, pi0)
	next := make([]float64, c.N+1)

	iterations := 0
	converged := false
	maxDiff := math.Inf(1)
	lastYield := time.Now()

	for iterations < opts.MaxIterations {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		default:
		}

		step(c, seed, cur, next)
		iterations++

		if s := vecmath.Sum(next); math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("non-finite distribution after %d iterations", iterations)
		}
		maxDiff = vecmath.MaxAbsDiff(cur, next)
		cur, next = next, cur

		if time.Since(lastYield) >= opts.YieldAfter {
			if opts.Progress != nil {
				opts.Progress(iterations, maxDiff)
			}
			lastYield = time.Now()
		}
		if maxDiff < opts.ConvergenceThreshold {
			converged = true
			break
		}
	}

	return extract(c, seed, cur, iterations, converged, maxDiff)
}

// startingDistribution builds the augmented initial vector. The seed state
// gets the share it holds at the uniform-teleport fixed point, which makes a
// warm start from the previous interval's solution nearly stationary. An
// unusable pi0 (absent, all-zero, negative or non-finite entries) falls back
// to a uniform start; the warm start is advisory, not part of the answer.
func startingDistribution(c *Chain, pi0 []float64) []float64 {
	out := make([]float64, c.N+1)
	seedShare := c.Alpha / (1 + c.Alpha)

	nodes := out[:c.N]
	var total float64
	usable := true
	for i := 0; i < c.N && i < len(pi0); i++ {
		if pi0[i] < 0 {
			usable = false
			break
		}
		nodes[i] = pi0[i]
		total += pi0[i]
	}
	if !usable || total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		u := 1 / float64(c.N)
		for i := range nodes {
			nodes[i] = u
		}
		total = 1
	}
	vecmath.Scale((1-seedShare)/total, nodes)
	out[c.N] = seedShare
	return out
}

// step applies the transition operator once: next = P^T cur.
func step(c *Chain, seed []float64, cur, next []float64) {
	clear(next)
	var seedInflow float64
	for u := 0; u < c.N; u++ {
		mass := cur[u]
		if mass == 0 {
			continue
		}
		seedInflow += mass * c.Teleport[u]
		for j := c.RowPtr[u]; j < c.RowPtr[u+1]; j++ {
			next[c.Col[j]] += mass * c.P[j]
		}
	}
	if smass := cur[c.N]; smass != 0 {
		vecmath.AddScaled(next[:c.N], smass, seed)
	}
	next[c.N] = seedInflow
}

// extract attributes the final iterate's transition mass to edges, loops and
// seed, and redistributes the seed state's standing mass so the reported
// distribution sums to 1 over the nodes.
func extract(c *Chain, seed []float64, cur []float64, iterations int, converged bool, maxDiff float64) (*Result, error) {
	seedMass := cur[c.N]
	remainder := 1 - seedMass
	if remainder <= 0 || math.IsNaN(remainder) {
		return nil, fmt.Errorf("seed state holds the entire probability mass (%v)", seedMass)
	}
	scale := 1 / remainder

	res := &Result{
		Pi:           make([]float64, c.N),
		ForwardFlow:  make([]float64, c.NumEdges),
		BackwardFlow: make([]float64, c.NumEdges),
		SeedFlow:     make([]float64, c.N),
		LoopFlow:     make([]float64, c.N),
		Iterations:   iterations,
		Converged:    converged,
		MaxDiff:      maxDiff,
	}
	for u := 0; u < c.N; u++ {
		mass := cur[u]
		res.Pi[u] = mass * scale
		if mass == 0 {
			continue
		}
		for j := c.RowPtr[u]; j < c.RowPtr[u+1]; j++ {
			flow := mass * c.P[j] * scale
			switch c.Dir[j] {
			case FlowLoop:
				res.LoopFlow[u] += flow
			case FlowForward:
				res.ForwardFlow[c.EdgeIdx[j]] += flow
			case FlowBackward:
				res.BackwardFlow[c.EdgeIdx[j]] += flow
			}
		}
	}
	for v := range res.SeedFlow {
		res.SeedFlow[v] = seedMass * seed[v] * scale
	}
	return res, nil
}
