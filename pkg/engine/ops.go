// This file implements the operational methods of the Engine, wrapping
// registry changes with journal writes so the configuration survives a
// restart, and exposing queries over computed artifacts.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/cred"
	"github.com/sanonone/kredo/pkg/core/timeline"
	"github.com/sanonone/kredo/pkg/metrics"
	"github.com/sanonone/kredo/pkg/persistence"
)

// journalCommand appends and flushes one command. Configuration changes
// are rare, so a durability flush per command is cheap.
func (e *Engine) journalCommand(cmd string) error {
	if err := e.journal.Append(cmd); err != nil {
		return fmt.Errorf("persistence error (journal append failed): %w", err)
	}
	if err := e.journal.Flush(); err != nil {
		return fmt.Errorf("CRITICAL: persistence flush failed: %w", err)
	}
	return nil
}

func (e *Engine) getProject(name string) (*Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.projects[name]
	if !ok {
		return nil, fmt.Errorf("project '%s' not found", name)
	}
	return p, nil
}

// --- Project Lifecycle ---

// CreateProject registers a new project. A zero cfg.Params selects the
// canonical defaults; otherwise unset solver controls take their defaults
// and the rest is validated as given.
//
// Returns an error if a project with the same name already exists.
func (e *Engine) CreateProject(name string, cfg ProjectConfig) error {
	if err := validateProjectName(name); err != nil {
		return err
	}
	if cfg.Params == (timeline.Params{}) {
		cfg.Params = timeline.DefaultParams()
	}
	if err := cfg.Params.Validate(); err != nil {
		return err
	}
	prefixes, err := prefixesFromParts(cfg.ScoringPrefixes)
	if err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.projects[name]; exists {
		return fmt.Errorf("project '%s' already exists", name)
	}

	cmd := persistence.FormatCommand("PCREATE", []byte(name), cfgJSON)
	if err := e.journalCommand(cmd); err != nil {
		return err
	}
	e.projects[name] = &Project{
		name:            name,
		params:          cfg.Params,
		weights:         core.NewWeights(),
		scoringPrefixes: prefixes,
	}
	metrics.Projects.Set(float64(len(e.projects)))
	return nil
}

// DropProject removes a project and deletes its on-disk documents.
func (e *Engine) DropProject(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.projects[name]; !exists {
		return fmt.Errorf("project '%s' not found", name)
	}

	cmd := persistence.FormatCommand("PDROP", []byte(name))
	if err := e.journalCommand(cmd); err != nil {
		return err
	}
	delete(e.projects, name)
	if err := os.RemoveAll(e.projectDir(name)); err != nil {
		slog.Warn("failed to remove project directory", "project", name, "error", err)
	}
	metrics.Projects.Set(float64(len(e.projects)))
	return nil
}

// ListProjects returns the registered project names in sorted order.
func (e *Engine) ListProjects() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.projects))
	for name := range e.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProjectInfo returns a snapshot of a project's configuration and state.
func (e *Engine) ProjectInfo(name string) (ProjectInfo, error) {
	p, err := e.getProject(name)
	if err != nil {
		return ProjectInfo{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	info := ProjectInfo{
		Name:            p.name,
		Params:          p.params,
		ScoringPrefixes: prefixesToParts(p.scoringPrefixes),
		HasArtifact:     p.artifact != nil,
	}
	if p.graph != nil {
		info.NumNodes = p.graph.NumNodes()
		info.NumEdges = p.graph.NumEdges()
	}
	if p.artifact != nil {
		info.Intervals = len(p.artifact.Intervals)
	}
	if !p.lastComputed.IsZero() {
		info.LastComputedMs = p.lastComputed.UnixMilli()
	}
	return info, nil
}

// --- Graph and Weights ---

// LoadGraph installs g as the project's graph and persists it as a graph
// document so it survives restarts. A previously computed artifact stays
// in place until the next Compute, and queries against it are rejected as
// stale when the node set changed.
func (e *Engine) LoadGraph(name string, g *core.Graph) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.projects[name]
	if !ok {
		return fmt.Errorf("project '%s' not found", name)
	}

	if err := os.MkdirAll(e.projectDir(name), 0755); err != nil {
		return err
	}
	rel := e.graphRelPath(name)
	if err := persistence.SaveGraph(filepath.Join(e.opts.DataDir, rel), g); err != nil {
		return fmt.Errorf("saving graph document: %w", err)
	}
	cmd := persistence.FormatCommand("PGRAPH", []byte(name), []byte(rel))
	if err := e.journalCommand(cmd); err != nil {
		return err
	}

	p.mu.Lock()
	p.graph = g
	p.graphPath = rel
	p.mu.Unlock()
	return nil
}

// LoadGraphFile loads the project's graph from a file: either a saved
// graph document or a plain JSON graph export.
func (e *Engine) LoadGraphFile(name, path string) error {
	g, err := persistence.LoadGraph(path)
	if err != nil {
		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		g = core.NewGraph()
		if jerr := json.Unmarshal(raw, g); jerr != nil {
			return fmt.Errorf("%s is neither a graph document (%v) nor graph JSON: %w", path, err, jerr)
		}
	}
	return e.LoadGraph(name, g)
}

// SetWeights replaces the project's weight configuration. Passing nil
// resets every weight to 1.
func (e *Engine) SetWeights(name string, w *core.Weights) error {
	if w == nil {
		w = core.NewWeights()
	}
	if err := w.Validate(); err != nil {
		return err
	}
	wJSON, err := json.Marshal(w)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.projects[name]
	if !ok {
		return fmt.Errorf("project '%s' not found", name)
	}
	cmd := persistence.FormatCommand("PWEIGHTS", []byte(name), wJSON)
	if err := e.journalCommand(cmd); err != nil {
		return err
	}

	p.mu.Lock()
	p.weights = w
	p.mu.Unlock()
	return nil
}

// Weights returns a copy of the project's weight configuration.
func (e *Engine) Weights(name string) (*core.Weights, error) {
	p, err := e.getProject(name)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := core.NewWeights()
	for prefix, v := range p.weights.NodePrefixes {
		out.NodePrefixes[prefix] = v
	}
	for prefix, v := range p.weights.EdgePrefixes {
		out.EdgePrefixes[prefix] = v
	}
	return out, nil
}

// --- Scoring ---

// Compute runs the full timeline scoring for the project and saves the
// resulting artifact. On cancellation or failure the previous artifact
// stays in place. Concurrent calls on one project serialize.
//
// The returned artifact is shared with later queries; treat it as
// read-only.
func (e *Engine) Compute(ctx context.Context, name string, progress timeline.ProgressFunc) (*cred.Data, error) {
	p, err := e.getProject(name)
	if err != nil {
		return nil, err
	}

	p.computeMu.Lock()
	defer p.computeMu.Unlock()

	p.mu.RLock()
	g := p.graph
	params := p.params
	weights := p.weights
	prefixes := append([]core.NodeAddress(nil), p.scoringPrefixes...)
	p.mu.RUnlock()
	if g == nil {
		return nil, fmt.Errorf("project '%s' has no graph loaded", name)
	}

	start := time.Now()
	results, err := timeline.Run(ctx, g, weights, params, progress)
	if err != nil {
		return nil, err
	}
	data, err := cred.Compute(g, results, prefixes)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.projectDir(name), 0755); err != nil {
		return nil, err
	}
	if err := persistence.SaveArtifact(e.artifactPath(name), data); err != nil {
		return nil, fmt.Errorf("saving artifact: %w", err)
	}

	p.mu.Lock()
	p.artifact = data
	p.lastComputed = time.Now()
	p.mu.Unlock()

	metrics.ComputeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.ComputeIntervalsTotal.Add(float64(len(results)))
	for _, r := range results {
		metrics.SolverIterations.Observe(float64(r.Iterations))
	}
	return data, nil
}

// --- Artifact Queries ---

// artifactView fetches a project's artifact and graph, rejecting stale
// artifacts left over from a replaced graph. Both returned values are
// immutable snapshots: Compute and CompressArtifact publish replacements
// instead of mutating installed ones.
func (e *Engine) artifactView(name string) (*cred.Data, *core.Graph, error) {
	p, err := e.getProject(name)
	if err != nil {
		return nil, nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.artifact == nil {
		return nil, nil, fmt.Errorf("project '%s' has no computed artifact", name)
	}
	if p.graph == nil || len(p.artifact.NodeSummaries) != p.graph.NumNodes() ||
		len(p.artifact.EdgeSummaries) != p.graph.NumEdges() {
		return nil, nil, fmt.Errorf("artifact for project '%s' does not match the loaded graph; recompute", name)
	}
	return p.artifact, p.graph, nil
}

// Artifact returns the latest computed artifact. It is shared; treat it
// as read-only.
func (e *Engine) Artifact(name string) (*cred.Data, error) {
	data, _, err := e.artifactView(name)
	return data, err
}

// Intervals returns the scored interval sequence of the latest artifact.
func (e *Engine) Intervals(name string) ([]core.Interval, error) {
	data, _, err := e.artifactView(name)
	if err != nil {
		return nil, err
	}
	return data.Intervals, nil
}

// NodeCredRow is one row of a cred ranking.
type NodeCredRow struct {
	Address     []string `json:"address"`
	Description string   `json:"description"`
	Cred        float64  `json:"cred"`
	SeedFlow    float64  `json:"seedFlow"`
}

// CredSummary returns nodes ranked by total cred, optionally restricted to
// addresses under prefix. topN <= 0 returns every node.
func (e *Engine) CredSummary(name string, topN int, prefix core.NodeAddress) ([]NodeCredRow, error) {
	data, g, err := e.artifactView(name)
	if err != nil {
		return nil, err
	}

	nodes := g.Nodes()
	rows := make([]NodeCredRow, 0, len(nodes))
	for i, n := range nodes {
		if !n.Address.HasPrefix(prefix) {
			continue
		}
		s := data.NodeSummaries[i]
		rows = append(rows, NodeCredRow{
			Address:     n.Address.Parts(),
			Description: n.Description,
			Cred:        s.Cred,
			SeedFlow:    s.SeedFlow,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Cred > rows[j].Cred })
	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	return rows, nil
}

// NodeCredDetail is a node's summary together with its over-time series.
type NodeCredDetail struct {
	Address     []string           `json:"address"`
	Description string             `json:"description"`
	Summary     cred.NodeSummary   `json:"summary"`
	Intervals   []core.Interval    `json:"intervals"`
	OverTime    *cred.NodeTimeline `json:"overTime"`
}

// NodeCred returns the cred detail for one node. OverTime is nil when the
// node's series was compressed out of the artifact.
func (e *Engine) NodeCred(name string, addr core.NodeAddress) (*NodeCredDetail, error) {
	data, g, err := e.artifactView(name)
	if err != nil {
		return nil, err
	}
	i, ok := g.NodeIndex(addr)
	if !ok {
		return nil, fmt.Errorf("node '%s' not found in project '%s'", addr, name)
	}
	n := g.Nodes()[i]
	return &NodeCredDetail{
		Address:     n.Address.Parts(),
		Description: n.Description,
		Summary:     data.NodeSummaries[i],
		Intervals:   data.Intervals,
		OverTime:    data.NodeOverTime[i],
	}, nil
}

// EdgeFlowRow is one edge's aggregate flow in both directions.
type EdgeFlowRow struct {
	Address      []string `json:"address"`
	Src          []string `json:"src"`
	Dst          []string `json:"dst"`
	ForwardFlow  float64  `json:"forwardFlow"`
	BackwardFlow float64  `json:"backwardFlow"`
}

// EdgeFlows returns edges ranked by total flow in either direction.
// topN <= 0 returns every edge.
func (e *Engine) EdgeFlows(name string, topN int) ([]EdgeFlowRow, error) {
	data, g, err := e.artifactView(name)
	if err != nil {
		return nil, err
	}

	edges := g.Edges()
	rows := make([]EdgeFlowRow, 0, len(edges))
	for i, edge := range edges {
		s := data.EdgeSummaries[i]
		rows = append(rows, EdgeFlowRow{
			Address:      edge.Address.Parts(),
			Src:          edge.Src.Parts(),
			Dst:          edge.Dst.Parts(),
			ForwardFlow:  s.ForwardFlow,
			BackwardFlow: s.BackwardFlow,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ForwardFlow+rows[i].BackwardFlow > rows[j].ForwardFlow+rows[j].BackwardFlow
	})
	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	return rows, nil
}

// --- Compression ---

// CompressOptions selects which lossy artifact compressions to apply.
type CompressOptions struct {
	// Threshold drops over-time series whose summary value stays below it.
	Threshold float64 `json:"threshold"`
	// KeepPrefix, when non-nil, drops the series of nodes outside the
	// prefix (given as an address part list).
	KeepPrefix []string `json:"keepPrefix,omitempty"`
	// HalfPrecision snaps the surviving series to half-precision values.
	HalfPrecision bool `json:"halfPrecision"`
}

// CompressArtifact applies the selected compressions to the stored
// artifact and re-saves it. All compressions are lossy and idempotent;
// summaries are never touched.
//
// Installed artifacts are immutable: the compressions run on a clone that
// is swapped in afterwards, and computeMu keeps Compute from publishing in
// between.
func (e *Engine) CompressArtifact(name string, opts CompressOptions) error {
	if opts.Threshold < 0 || math.IsNaN(opts.Threshold) {
		return fmt.Errorf("threshold must be non-negative, got %v", opts.Threshold)
	}
	p, err := e.getProject(name)
	if err != nil {
		return err
	}

	p.computeMu.Lock()
	defer p.computeMu.Unlock()

	p.mu.RLock()
	data, g := p.artifact, p.graph
	p.mu.RUnlock()
	if data == nil {
		return fmt.Errorf("project '%s' has no computed artifact", name)
	}
	if g == nil || len(data.NodeSummaries) != g.NumNodes() || len(data.EdgeSummaries) != g.NumEdges() {
		return fmt.Errorf("artifact for project '%s' does not match the loaded graph; recompute", name)
	}

	clone := data.Clone()
	if opts.Threshold > 0 {
		cred.CompressByThreshold(clone, opts.Threshold)
	}
	if opts.KeepPrefix != nil {
		prefix, err := core.NewNodeAddress(opts.KeepPrefix...)
		if err != nil {
			return err
		}
		keep := make([]bool, len(clone.NodeOverTime))
		for _, i := range g.NodesUnder(prefix) {
			keep[i] = true
		}
		cred.CompressToMatching(clone, func(i int) bool { return keep[i] })
	}
	if opts.HalfPrecision {
		cred.CompressToHalfPrecision(clone)
	}

	if err := persistence.SaveArtifact(e.artifactPath(name), clone); err != nil {
		return err
	}
	p.mu.Lock()
	p.artifact = clone
	p.mu.Unlock()
	return nil
}
