// Package engine provides the high-level, embedded interface for Kredo.
//
// It coordinates the in-memory project registry (graphs, weight
// configuration, computed cred artifacts) with the on-disk persistence
// layer (command journal + document store), providing a thread-safe
// instance that can be used directly within Go applications without
// network overhead.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	eng, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sanonone/kredo/pkg/metrics"
	"github.com/sanonone/kredo/pkg/persistence"
)

// Options configures the Engine: persistence location and maintenance
// policy.
type Options struct {
	// DataDir is the directory holding the journal and the per-project
	// documents. It is created automatically if it does not exist.
	DataDir string

	// JournalFilename is the name of the command journal inside DataDir
	// (default: "kredo.journal").
	JournalFilename string

	// FlushInterval is how often the background loop pushes buffered
	// journal frames to disk. Configuration commands are also flushed
	// inline, so this only bounds buffer staleness, not the durability of
	// acknowledged changes. Default: 1s.
	FlushInterval time.Duration

	// RewritePercentage triggers a journal compaction when the journal
	// grows past its post-recovery size by this percentage. E.g. 100 means
	// rewrite when the size doubles. Set to 0 to disable automatic
	// compaction.
	RewritePercentage int
}

// DefaultOptions returns a standard configuration suitable for most use
// cases: journal "kredo.journal", 1s background flush, compaction at 100%
// growth.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:           dataDir,
		JournalFilename:   "kredo.journal",
		FlushInterval:     time.Second,
		RewritePercentage: 100,
	}
}

// Engine is the main entry point for Kredo. It owns the project registry
// and keeps it consistent with the on-disk journal and documents.
//
// Use Open to initialize an Engine and Close to shut it down gracefully.
type Engine struct {
	opts Options

	journal *persistence.Journal
	// journalBaseSize is the journal size after recovery or the last
	// compaction; the rewrite policy measures growth against it.
	journalBaseSize int64

	// mu guards the project registry and orders registry mutations with
	// their journal commands. Long computations never hold it.
	mu       sync.Mutex
	projects map[string]*Project

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open initializes an Engine from the given options.
//
// It performs the following actions:
//  1. Creates DataDir if missing.
//  2. Replays the command journal to rebuild the project registry,
//     loading each surviving project's graph and artifact documents.
//  3. Starts the background maintenance goroutine.
//
// Open blocks until the registry is fully loaded and ready.
func Open(opts Options) (*Engine, error) {
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if opts.JournalFilename == "" {
		opts.JournalFilename = "kredo.journal"
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}

	e := &Engine{
		opts:     opts,
		projects: make(map[string]*Project),
		closed:   make(chan struct{}),
	}

	journalPath := filepath.Join(opts.DataDir, opts.JournalFilename)
	if err := e.replayJournal(journalPath); err != nil {
		return nil, fmt.Errorf("failed to replay journal: %w", err)
	}

	journal, err := persistence.OpenJournal(journalPath)
	if err != nil {
		return nil, err
	}
	e.journal = journal

	size, err := journal.Size()
	if err != nil {
		journal.Close()
		return nil, err
	}
	e.journalBaseSize = size

	metrics.Projects.Set(float64(len(e.projects)))

	e.wg.Add(1)
	go e.backgroundTasks()

	return e, nil
}

// Close performs a clean shutdown: it stops the maintenance loop and
// closes the journal. Computed artifacts are already on disk, so no final
// save is needed. Safe to call multiple times.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()
		if e.journal != nil {
			err = e.journal.Close()
		}
	})
	return err
}

// backgroundTasks drives periodic journal flushing and compaction.
func (e *Engine) backgroundTasks() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.checkMaintenance()
		}
	}
}

// Journals below this size are never rewritten; compacting a tiny file
// costs more than replaying it.
const minRewriteSize = 1 << 20

// checkMaintenance flushes the journal and compacts it once it has grown
// past the configured threshold.
func (e *Engine) checkMaintenance() {
	if err := e.journal.Flush(); err != nil {
		slog.Error("Background journal flush failed", "error", err)
		return
	}

	if e.opts.RewritePercentage <= 0 {
		return
	}
	size, err := e.journal.Size()
	if err != nil {
		return
	}
	e.mu.Lock()
	base := e.journalBaseSize
	e.mu.Unlock()
	threshold := base + (base * int64(e.opts.RewritePercentage) / 100)
	if threshold < minRewriteSize {
		threshold = minRewriteSize
	}
	if base > 0 && size > threshold {
		if err := e.RewriteJournal(); err != nil {
			slog.Error("Background journal rewrite failed", "error", err)
		}
	}
}
