// Command kredocheck verifies a cred artifact offline: frame and envelope
// integrity, internal consistency between summaries and over-time series,
// and, when the graph document is supplied, that cred is conserved across
// the flow decomposition. It exits non-zero on the first violation.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/persistence"
)

func main() {
	graphPath := flag.String("graph", "", "Graph document to cross-check flows against (optional)")
	tolerance := flag.Float64("tolerance", 1e-3, "Relative tolerance for consistency and conservation sums")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kredocheck [flags] artifact.kred\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	// 1. Frame, CRC and envelope version are all enforced by the loader.
	data, err := persistence.LoadArtifact(path)
	if err != nil {
		log.Fatalf("CHECK FAILED: %s is not a readable artifact: %v", path, err)
	}
	fmt.Printf("OK: frame and envelope (%d intervals, %d nodes, %d edges)\n",
		len(data.Intervals), len(data.NodeSummaries), len(data.EdgeSummaries))

	// 2. Intervals form a contiguous uniform partition.
	for i, iv := range data.Intervals {
		if iv.EndMs <= iv.StartMs {
			log.Fatalf("CHECK FAILED: interval %d is empty or inverted: [%d, %d)", i, iv.StartMs, iv.EndMs)
		}
		if i > 0 {
			prev := data.Intervals[i-1]
			if iv.StartMs != prev.EndMs {
				log.Fatalf("CHECK FAILED: interval %d starts at %d, previous ends at %d", i, iv.StartMs, prev.EndMs)
			}
			if iv.EndMs-iv.StartMs != prev.EndMs-prev.StartMs {
				log.Fatalf("CHECK FAILED: interval %d has width %d, previous has %d",
					i, iv.EndMs-iv.StartMs, prev.EndMs-prev.StartMs)
			}
		}
	}
	fmt.Println("OK: interval partition is contiguous and uniform")

	// 3. Every stored number is finite and non-negative.
	for i, s := range data.NodeSummaries {
		checkValue(fmt.Sprintf("node %d cred", i), s.Cred)
		checkValue(fmt.Sprintf("node %d seedFlow", i), s.SeedFlow)
		checkValue(fmt.Sprintf("node %d syntheticLoopFlow", i), s.SyntheticLoopFlow)
	}
	for i, s := range data.EdgeSummaries {
		checkValue(fmt.Sprintf("edge %d forwardFlow", i), s.ForwardFlow)
		checkValue(fmt.Sprintf("edge %d backwardFlow", i), s.BackwardFlow)
	}
	fmt.Println("OK: summaries are finite and non-negative")

	// 4. Surviving over-time series sum back to their summaries.
	if err := data.Validate(*tolerance); err != nil {
		log.Fatalf("CHECK FAILED: %v", err)
	}
	fmt.Println("OK: over-time series agree with the summaries")

	// 5. With the graph at hand, check the flow decomposition: a node's cred
	// is the seed and loop mass it receives plus the flow arriving over its
	// edges.
	if *graphPath != "" {
		g := loadGraphAny(*graphPath)
		if g.NumNodes() != len(data.NodeSummaries) || g.NumEdges() != len(data.EdgeSummaries) {
			log.Fatalf("CHECK FAILED: artifact shape (%d nodes, %d edges) does not match the graph (%d nodes, %d edges)",
				len(data.NodeSummaries), len(data.EdgeSummaries), g.NumNodes(), g.NumEdges())
		}

		inflow := make([]float64, g.NumNodes())
		for i, e := range g.Edges() {
			s := data.EdgeSummaries[i]
			dst, dstOK := g.NodeIndex(e.Dst)
			src, srcOK := g.NodeIndex(e.Src)
			if !dstOK || !srcOK {
				// Dangling edges never enter the chain and must carry no flow.
				if s.ForwardFlow != 0 || s.BackwardFlow != 0 {
					log.Fatalf("CHECK FAILED: dangling edge %d (%s) carries flow %v/%v",
						i, e.Address, s.ForwardFlow, s.BackwardFlow)
				}
				continue
			}
			inflow[dst] += s.ForwardFlow
			inflow[src] += s.BackwardFlow
		}

		maxDev := 0.0
		for i, s := range data.NodeSummaries {
			expected := s.SeedFlow + s.SyntheticLoopFlow + inflow[i]
			dev := math.Abs(s.Cred-expected) / math.Max(1, math.Abs(s.Cred))
			if dev > maxDev {
				maxDev = dev
			}
			if dev > *tolerance {
				addr := g.Nodes()[i].Address
				log.Fatalf("CHECK FAILED: node %d (%s): cred %v, but seed+loop+inflow is %v",
					i, addr, s.Cred, expected)
			}
		}
		fmt.Printf("OK: cred conserved across %d nodes (max deviation %.2e)\n", g.NumNodes(), maxDev)
	}

	fmt.Println("ARTIFACT OK")
}

func checkValue(what string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		log.Fatalf("CHECK FAILED: %s is not finite: %v", what, v)
	}
	if v < 0 {
		log.Fatalf("CHECK FAILED: %s is negative: %v", what, v)
	}
}

// loadGraphAny accepts either a saved graph document or a plain JSON graph
// export, the same fallback the engine applies to configured graph paths.
func loadGraphAny(path string) *core.Graph {
	g, err := persistence.LoadGraph(path)
	if err == nil {
		return g
	}
	raw, rerr := os.ReadFile(path)
	if rerr != nil {
		log.Fatalf("CHECK FAILED: could not read graph %s: %v", path, rerr)
	}
	g = core.NewGraph()
	if jerr := json.Unmarshal(raw, g); jerr != nil {
		log.Fatalf("CHECK FAILED: %s is neither a graph document (%v) nor graph JSON: %v", path, err, jerr)
	}
	return g
}
