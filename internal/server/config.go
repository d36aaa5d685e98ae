// This file defines the Go structs that correspond to the YAML projects
// configuration. The file declares the projects a server materializes at
// boot: their scoring parameters, weights, graph document and an optional
// recompute schedule handled by the RecomputeService.

package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/timeline"
	"github.com/sanonone/kredo/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Config represents the top-level structure of the projects configuration
// file. It holds one entry per project to materialize at boot.
type Config struct {
	Projects []ProjectBootConfig `yaml:"projects"`
}

// ProjectBootConfig declares one project: its identity, scoring setup and
// an optional background recompute schedule.
type ProjectBootConfig struct {
	Name string `yaml:"name"`
	// Graph is the path of a graph document to load, empty to leave the
	// project graphless (for example when graphs arrive over HTTP).
	Graph string `yaml:"graph"`
	// Schedule is a Go duration string ("30m", "1h") driving periodic
	// recomputes. Empty disables the worker for this project.
	Schedule        string         `yaml:"schedule"`
	ScoringPrefixes [][]string     `yaml:"scoring_prefixes"`
	Params          *ParamsConfig  `yaml:"params"`
	Weights         *WeightsConfig `yaml:"weights"`
}

// ParamsConfig mirrors timeline.Params with pointer fields, so the loader
// can tell "absent" from "explicitly zero".
type ParamsConfig struct {
	IntervalWidthMs      *int64   `yaml:"interval_width_ms"`
	IntervalDecay        *float64 `yaml:"interval_decay"`
	Alpha                *float64 `yaml:"alpha"`
	SyntheticLoopWeight  *float64 `yaml:"synthetic_loop_weight"`
	ConvergenceThreshold *float64 `yaml:"convergence_threshold"`
	MaxIterations        *int     `yaml:"max_iterations"`
	YieldAfterMs         *int64   `yaml:"yield_after_ms"`
}

// toParams overlays the set fields onto the canonical defaults. A partial
// params block means "defaults plus these overrides", and an explicit
// interval_decay: 0 survives as the meaningful setting it is.
func (c *ParamsConfig) toParams() timeline.Params {
	p := timeline.DefaultParams()
	if c == nil {
		return p
	}
	if c.IntervalWidthMs != nil {
		p.IntervalWidthMs = *c.IntervalWidthMs
	}
	if c.IntervalDecay != nil {
		p.IntervalDecay = *c.IntervalDecay
	}
	if c.Alpha != nil {
		p.Alpha = *c.Alpha
	}
	if c.SyntheticLoopWeight != nil {
		p.SyntheticLoopWeight = *c.SyntheticLoopWeight
	}
	if c.ConvergenceThreshold != nil {
		p.ConvergenceThreshold = *c.ConvergenceThreshold
	}
	if c.MaxIterations != nil {
		p.MaxIterations = *c.MaxIterations
	}
	if c.YieldAfterMs != nil {
		p.YieldAfterMs = *c.YieldAfterMs
	}
	return p
}

// projectConfigOf converts a boot entry into the engine configuration.
func projectConfigOf(config ProjectBootConfig) engine.ProjectConfig {
	return engine.ProjectConfig{
		Params:          config.Params.toParams(),
		ScoringPrefixes: config.ScoringPrefixes,
	}
}

// WeightsConfig lists weight entries by address prefix.
type WeightsConfig struct {
	Nodes []NodeWeightConfig `yaml:"nodes"`
	Edges []EdgeWeightConfig `yaml:"edges"`
}

// NodeWeightConfig assigns a base weight to every node under a prefix.
type NodeWeightConfig struct {
	Prefix []string `yaml:"prefix"`
	Weight float64  `yaml:"weight"`
}

// EdgeWeightConfig assigns directional base weights to every edge under a
// prefix.
type EdgeWeightConfig struct {
	Prefix    []string `yaml:"prefix"`
	Forwards  float64  `yaml:"forwards"`
	Backwards float64  `yaml:"backwards"`
}

func (c *WeightsConfig) toWeights() (*core.Weights, error) {
	w := core.NewWeights()
	if c == nil {
		return w, nil
	}
	for _, nw := range c.Nodes {
		addr, err := core.NewNodeAddress(nw.Prefix...)
		if err != nil {
			return nil, fmt.Errorf("node weight prefix: %w", err)
		}
		w.NodePrefixes[addr] = nw.Weight
	}
	for _, ew := range c.Edges {
		addr, err := core.NewEdgeAddress(ew.Prefix...)
		if err != nil {
			return nil, fmt.Errorf("edge weight prefix: %w", err)
		}
		w.EdgePrefixes[addr] = core.EdgeWeight{Forwards: ew.Forwards, Backwards: ew.Backwards}
	}
	return w, nil
}

// LoadProjectsConfig reads and parses the YAML configuration file from the
// given path. It uses Strict Mode (KnownFields) to prevent silent errors
// due to typos.
func LoadProjectsConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	expandedData := os.ExpandEnv(string(data))

	var config Config
	decoder := yaml.NewDecoder(strings.NewReader(expandedData))
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}

	return &config, nil
}
