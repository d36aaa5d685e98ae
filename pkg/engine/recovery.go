// This file handles startup recovery (rebuilding the project registry from
// the command journal and the per-project documents) and journal
// compaction.
package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/timeline"
	"github.com/sanonone/kredo/pkg/persistence"
)

// pendingProject accumulates the journaled state of one project while the
// journal streams by; materialization happens once per surviving project
// instead of once per command.
type pendingProject struct {
	config    []byte
	weights   []byte
	graphPath string
}

// replayJournal rebuilds the project registry from the command journal. A
// missing journal file means a fresh data directory. A journal that stops
// being readable partway is salvaged up to the damage: losing trailing
// configuration commands is recoverable, refusing to start is not.
func (e *Engine) replayJournal(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	slog.Info("Starting journal replay...", "path", path)

	pending := make(map[string]*pendingProject)
	applied, err := persistence.ReplayJournal(bufio.NewReader(file), func(cmd *persistence.Command) error {
		switch cmd.Name {
		case "PCREATE":
			if len(cmd.Args) != 2 {
				return fmt.Errorf("PCREATE expects 2 arguments, got %d", len(cmd.Args))
			}
			pending[string(cmd.Args[0])] = &pendingProject{config: cmd.Args[1]}
		case "PDROP":
			if len(cmd.Args) != 1 {
				return fmt.Errorf("PDROP expects 1 argument, got %d", len(cmd.Args))
			}
			delete(pending, string(cmd.Args[0]))
		case "PWEIGHTS":
			if len(cmd.Args) != 2 {
				return fmt.Errorf("PWEIGHTS expects 2 arguments, got %d", len(cmd.Args))
			}
			if p, ok := pending[string(cmd.Args[0])]; ok {
				p.weights = cmd.Args[1]
			}
		case "PGRAPH":
			if len(cmd.Args) != 2 {
				return fmt.Errorf("PGRAPH expects 2 arguments, got %d", len(cmd.Args))
			}
			if p, ok := pending[string(cmd.Args[0])]; ok {
				p.graphPath = string(cmd.Args[1])
			}
		default:
			return fmt.Errorf("unknown journal command %q", cmd.Name)
		}
		return nil
	})
	if err != nil {
		slog.Warn("Journal replay stopped early, continuing with salvaged state",
			"commands", applied, "error", err)
	}

	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := e.materializeProject(name, pending[name]); p != nil {
			e.projects[name] = p
		}
	}

	slog.Info("Journal replay finished", "commands", applied, "projects", len(e.projects))
	return nil
}

// materializeProject turns journaled state into a live project and loads
// its documents. Document problems degrade the project instead of failing
// recovery: a project whose graph document cannot be read comes back with
// no graph loaded.
func (e *Engine) materializeProject(name string, pend *pendingProject) *Project {
	var cfg ProjectConfig
	if err := json.Unmarshal(pend.config, &cfg); err != nil {
		slog.Warn("Skipping project with malformed journaled config", "project", name, "error", err)
		return nil
	}
	if cfg.Params == (timeline.Params{}) {
		cfg.Params = timeline.DefaultParams()
	}
	if err := cfg.Params.Validate(); err != nil {
		slog.Warn("Skipping project with invalid journaled params", "project", name, "error", err)
		return nil
	}
	prefixes, err := prefixesFromParts(cfg.ScoringPrefixes)
	if err != nil {
		slog.Warn("Skipping project with invalid scoring prefixes", "project", name, "error", err)
		return nil
	}

	p := &Project{
		name:            name,
		params:          cfg.Params,
		weights:         core.NewWeights(),
		scoringPrefixes: prefixes,
	}
	if pend.weights != nil {
		if err := json.Unmarshal(pend.weights, p.weights); err != nil {
			slog.Warn("Ignoring malformed journaled weights", "project", name, "error", err)
		}
	}
	if pend.graphPath != "" {
		g, err := persistence.LoadGraph(filepath.Join(e.opts.DataDir, pend.graphPath))
		if err != nil {
			slog.Warn("Failed to load graph document", "project", name, "path", pend.graphPath, "error", err)
		} else {
			p.graph = g
			p.graphPath = pend.graphPath
		}
	}

	artPath := e.artifactPath(name)
	if data, err := persistence.LoadArtifact(artPath); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to load artifact document", "project", name, "error", err)
		}
	} else {
		p.artifact = data
		if info, serr := os.Stat(artPath); serr == nil {
			p.lastComputed = info.ModTime()
		}
	}
	return p
}

// RewriteJournal compacts the journal to the minimal command sequence that
// reproduces the current registry: per project one PCREATE, the weights if
// any are configured, and the graph path if a graph was loaded. It runs
// under the registry lock, so no command can slip in between the snapshot
// and the swap.
func (e *Engine) RewriteJournal() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tempPath := e.journal.Path() + ".rewrite"
	// A temp file left behind by a crashed rewrite must not be appended to.
	_ = os.Remove(tempPath)

	temp, err := persistence.OpenJournal(tempPath)
	if err != nil {
		return err
	}
	if err := e.writeRegistrySnapshot(temp); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return err
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := e.journal.ReplaceWith(tempPath); err != nil {
		os.Remove(tempPath)
		return err
	}
	size, err := e.journal.Size()
	if err != nil {
		return err
	}
	e.journalBaseSize = size
	slog.Info("Journal rewrite complete", "size", size, "projects", len(e.projects))
	return nil
}

// writeRegistrySnapshot appends one compact command sequence per project.
// Caller holds e.mu.
func (e *Engine) writeRegistrySnapshot(out *persistence.Journal) error {
	names := make([]string, 0, len(e.projects))
	for name := range e.projects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := e.projects[name]
		// Weight tables are replaced wholesale by SetWeights, never
		// mutated in place, so the pointer can be marshaled after the
		// snapshot.
		p.mu.RLock()
		cfg := ProjectConfig{Params: p.params, ScoringPrefixes: prefixesToParts(p.scoringPrefixes)}
		weights := p.weights
		graphPath := p.graphPath
		p.mu.RUnlock()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := out.Append(persistence.FormatCommand("PCREATE", []byte(name), cfgJSON)); err != nil {
			return err
		}
		if len(weights.NodePrefixes) > 0 || len(weights.EdgePrefixes) > 0 {
			wJSON, err := json.Marshal(weights)
			if err != nil {
				return err
			}
			if err := out.Append(persistence.FormatCommand("PWEIGHTS", []byte(name), wJSON)); err != nil {
				return err
			}
		}
		if graphPath != "" {
			if err := out.Append(persistence.FormatCommand("PGRAPH", []byte(name), []byte(graphPath))); err != nil {
				return err
			}
		}
	}
	return out.Sync()
}
