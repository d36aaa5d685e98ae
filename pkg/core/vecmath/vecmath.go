// Package vecmath provides the dense float64 kernels used by the scoring
// pipeline: scaling, scaled accumulation, summation, and the L-infinity
// distance between iterates.
//
// The package uses runtime CPU detection to dispatch to the best available
// implementation: pure Go, or Gonum (BLAS) which handles SIMD internally.
package vecmath

import (
	"log"
	"math"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/blas/gonum"
	"gonum.org/v1/gonum/floats"
)

// Kernel entry points. Assigned at init time; callers go through these vars
// so the whole pipeline switches implementation in one place.
var (
	// Scale multiplies x in place by alpha.
	Scale = scaleGo
	// AddScaled computes y += alpha * x in place. Panics if the lengths
	// differ, matching the gonum floats convention.
	AddScaled = addScaledGo
	// Sum returns the sum of the elements of x.
	Sum = sumGo
	// MaxAbsDiff returns max_i |a[i] - b[i]|. Panics if the lengths differ.
	MaxAbsDiff = maxAbsDiffGo
)

func init() {
	Sum = floats.Sum
	if cpuid.CPU.Has(cpuid.AVX2) {
		Scale = scaleGonum
		AddScaled = addScaledGonum
		log.Println("Kredo compute engine: using GONUM (BLAS/SIMD) implementation.")
	} else {
		log.Println("Kredo compute engine: using PURE GO implementation.")
	}
	log.Printf("  - Sum:        Gonum floats")
	log.Printf("  - MaxAbsDiff: Pure Go")
}

// --- GONUM IMPLEMENTATIONS ---

var gonumEngine = gonum.Implementation{}

func scaleGonum(alpha float64, x []float64) {
	gonumEngine.Dscal(len(x), alpha, x, 1)
}

func addScaledGonum(y []float64, alpha float64, x []float64) {
	if len(y) != len(x) {
		panic("vecmath: slice lengths do not match")
	}
	gonumEngine.Daxpy(len(x), alpha, x, 1, y, 1)
}

// --- REFERENCE IMPLEMENTATIONS (PURE GO) ---

func scaleGo(alpha float64, x []float64) {
	for i := range x {
		x[i] *= alpha
	}
}

func addScaledGo(y []float64, alpha float64, x []float64) {
	if len(y) != len(x) {
		panic("vecmath: slice lengths do not match")
	}
	for i, v := range x {
		y[i] += alpha * v
	}
}

func sumGo(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum
}

func maxAbsDiffGo(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("vecmath: slice lengths do not match")
	}
	var max float64
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > max {
			max = d
		}
	}
	return max
}
