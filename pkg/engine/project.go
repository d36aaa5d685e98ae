package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/cred"
	"github.com/sanonone/kredo/pkg/core/timeline"
)

// ProjectConfig is the serializable configuration of a project, journaled
// at creation time.
type ProjectConfig struct {
	// Params are the scoring parameters for this project's runs. A zero
	// value selects the canonical defaults.
	Params timeline.Params `json:"params"`
	// ScoringPrefixes lists the address prefixes whose nodes receive cred,
	// each as an address part list. A single empty prefix scores every
	// node; no prefixes means nothing is scored.
	ScoringPrefixes [][]string `json:"scoringPrefixes"`
}

// Project is one scored contribution graph: its configuration, the loaded
// graph, and the latest computed artifact.
type Project struct {
	name string

	// mu guards everything below. Compute snapshots its inputs under a
	// read lock and publishes the artifact under a write lock, so queries
	// stay responsive during long runs.
	mu              sync.RWMutex
	params          timeline.Params
	weights         *core.Weights
	scoringPrefixes []core.NodeAddress
	graph           *core.Graph
	graphPath       string // relative to DataDir, "" until a graph is saved
	artifact        *cred.Data
	lastComputed    time.Time

	// computeMu serializes scoring runs on this project.
	computeMu sync.Mutex
}

// ProjectInfo is a point-in-time snapshot of a project's state.
type ProjectInfo struct {
	Name            string          `json:"name"`
	Params          timeline.Params `json:"params"`
	ScoringPrefixes [][]string      `json:"scoringPrefixes"`
	NumNodes        int             `json:"numNodes"`
	NumEdges        int             `json:"numEdges"`
	Intervals       int             `json:"intervals"`
	HasArtifact     bool            `json:"hasArtifact"`
	// LastComputedMs is the artifact time in epoch milliseconds, 0 when
	// nothing has been computed yet.
	LastComputedMs int64 `json:"lastComputedMs"`
}

// Project names become directory names, so the character set is strict.
func validateProjectName(name string) error {
	if name == "" || len(name) > 128 {
		return fmt.Errorf("project name must be 1-128 characters")
	}
	for _, r := range name {
		ok := r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !ok {
			return fmt.Errorf("project name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

func (e *Engine) projectDir(name string) string {
	return filepath.Join(e.opts.DataDir, "projects", name)
}

// graphRelPath is stored in the journal, so it is relative to DataDir and
// survives moving the data directory.
func (e *Engine) graphRelPath(name string) string {
	return filepath.Join("projects", name, "graph.kred")
}

func (e *Engine) artifactPath(name string) string {
	return filepath.Join(e.opts.DataDir, "projects", name, "artifact.kred")
}

func prefixesFromParts(parts [][]string) ([]core.NodeAddress, error) {
	out := make([]core.NodeAddress, 0, len(parts))
	for _, p := range parts {
		addr, err := core.NewNodeAddress(p...)
		if err != nil {
			return nil, fmt.Errorf("scoring prefix %v: %w", p, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func prefixesToParts(prefixes []core.NodeAddress) [][]string {
	out := make([][]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = p.Parts()
	}
	return out
}
