// This file defines the RecomputeService and its workers. The service
// materializes the projects declared in the boot configuration and keeps
// one background worker per scheduled project, recomputing its cred
// artifact on a fixed interval.

package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// RecomputeService manages the lifecycle of all recompute workers.
// It holds references to all active workers and coordinates their start
// and stop operations using a shared WaitGroup.
type RecomputeService struct {
	server  *Server
	workers []*RecomputeWorker
	wg      sync.WaitGroup
}

// NewRecomputeService materializes every configured project and creates a
// worker for each one with a schedule. A project that fails to
// materialize is logged and skipped; the rest of the boot continues.
func NewRecomputeService(server *Server) (*RecomputeService, error) {
	service := &RecomputeService{
		server: server,
	}

	for _, config := range server.bootConfig.Projects {
		if err := service.bootstrapProject(config); err != nil {
			log.Printf("ERROR: Could not bootstrap project '%s': %v", config.Name, err)
			continue // Skip this one and move to the next.
		}

		if config.Schedule == "" {
			continue
		}
		worker, err := NewRecomputeWorker(config, server, &service.wg)
		if err != nil {
			log.Printf("ERROR: Could not start recompute worker '%s': %v", config.Name, err)
			continue
		}
		service.workers = append(service.workers, worker)
	}

	return service, nil
}

// bootstrapProject brings one configured project into the engine. Projects
// restored from the journal are left as they are, so runtime changes via
// the API survive a restart; the config only fills in what is missing.
func (rs *RecomputeService) bootstrapProject(config ProjectBootConfig) error {
	if config.Name == "" {
		return fmt.Errorf("project entry without a name")
	}

	eng := rs.server.Engine

	info, err := eng.ProjectInfo(config.Name)
	created := false
	if err != nil {
		if err := eng.CreateProject(config.Name, projectConfigOf(config)); err != nil {
			return err
		}
		created = true
		log.Printf("Project '%s' created from configuration.", config.Name)
	}

	if created && config.Weights != nil {
		weights, err := config.Weights.toWeights()
		if err != nil {
			return err
		}
		if err := eng.SetWeights(config.Name, weights); err != nil {
			return err
		}
	}

	if config.Graph != "" && (created || info.NumNodes == 0) {
		if err := eng.LoadGraphFile(config.Name, config.Graph); err != nil {
			return fmt.Errorf("loading graph '%s': %w", config.Graph, err)
		}
	}

	return nil
}

// Start begins the lifecycle of all workers managed by the service.
// Each worker is started in its own background goroutine.
func (rs *RecomputeService) Start() {
	if rs == nil || len(rs.workers) == 0 {
		return
	}
	log.Println("Starting RecomputeService and all background workers...")
	for _, w := range rs.workers {
		w.wg.Add(1)
		go w.run()
	}
}

// Stop gracefully stops all workers managed by the service.
// It signals each worker to stop and then waits for them to finish their
// current run and shut down.
func (rs *RecomputeService) Stop() {
	log.Println("Stopping RecomputeService... Waiting for workers...")
	for _, w := range rs.workers {
		w.Stop() // Send the stop signal.
	}

	rs.wg.Wait()
	log.Println("All recompute workers have been stopped.")
}

// RecomputeStatus is a public-facing struct for the API, containing no
// internal fields. It provides a snapshot of a worker's current state.
type RecomputeStatus struct {
	Project      string `json:"project"`
	Schedule     string `json:"schedule"`
	LastRunMs    int64  `json:"last_run_ms,omitempty"`
	CurrentState string `json:"current_state"`
}

// GetStatuses returns the current status of all managed workers.
// This is used to provide information via the HTTP API.
func (rs *RecomputeService) GetStatuses() []RecomputeStatus {
	if rs == nil {
		return []RecomputeStatus{}
	}
	statuses := make([]RecomputeStatus, 0, len(rs.workers))
	for _, w := range rs.workers {
		statuses = append(statuses, w.GetStatus())
	}
	return statuses
}

// RecomputeWorker periodically recomputes the cred artifact of a single
// project.
type RecomputeWorker struct {
	project      string
	schedule     time.Duration
	server       *Server
	ticker       *time.Ticker
	stopCh       chan struct{}
	lastRunMs    atomic.Int64
	currentState atomic.Value // To store the state in a thread-safe manner
	wg           *sync.WaitGroup
}

// NewRecomputeWorker creates a new worker for a scheduled project.
func NewRecomputeWorker(config ProjectBootConfig, server *Server, wg *sync.WaitGroup) (*RecomputeWorker, error) {
	schedule, err := time.ParseDuration(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule format for project '%s': %w", config.Name, err)
	}
	if schedule <= 0 {
		return nil, fmt.Errorf("schedule for project '%s' must be positive, got %s", config.Name, config.Schedule)
	}

	worker := &RecomputeWorker{
		project:  config.Name,
		schedule: schedule,
		server:   server,
		ticker:   time.NewTicker(schedule),
		stopCh:   make(chan struct{}),
		wg:       wg,
	}

	log.Printf("Recompute worker '%s' initialized. Will run every %s.", config.Name, config.Schedule)
	return worker, nil
}

// run is the core loop of the worker.
// It performs an initial run and then waits for ticker events or a stop
// signal.
func (w *RecomputeWorker) run() {
	defer w.wg.Done()
	defer log.Printf("Recompute worker '%s' stopped.", w.project)

	// Score once immediately upon startup.
	w.currentState.Store("computing")
	w.recompute()
	w.currentState.Store("idle")

	for {
		select {
		case <-w.ticker.C:
			log.Printf("Recompute worker '%s': periodic run started...", w.project)
			w.currentState.Store("computing")
			w.recompute()
			w.lastRunMs.Store(time.Now().UnixMilli())
			w.currentState.Store("idle")
		case <-w.stopCh:
			w.ticker.Stop()
			return
		}
	}
}

// recompute runs one full scoring pass for the project.
func (w *RecomputeWorker) recompute() {
	start := time.Now()
	data, err := w.server.Engine.Compute(context.Background(), w.project, nil)
	if err != nil {
		log.Printf("ERROR in recompute worker '%s': %v", w.project, err)
		return
	}
	log.Printf("Recompute worker '%s': scored %d intervals in %s.",
		w.project, len(data.Intervals), time.Since(start).Round(time.Millisecond))
}

// Stop signals the worker to stop.
func (w *RecomputeWorker) Stop() {
	close(w.stopCh)
}

// GetStatus returns a snapshot of the worker state.
func (w *RecomputeWorker) GetStatus() RecomputeStatus {
	state, _ := w.currentState.Load().(string)
	if state == "" {
		state = "pending"
	}
	return RecomputeStatus{
		Project:      w.project,
		Schedule:     w.schedule.String(),
		LastRunMs:    w.lastRunMs.Load(),
		CurrentState: state,
	}
}
