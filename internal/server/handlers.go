package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"

	"github.com/sanonone/kredo/internal/server/ui"
	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/timeline"
	"github.com/sanonone/kredo/pkg/engine"
)

// registerHTTPHandlers sets up the routes of the REST API. Patterns are
// method-qualified, so the mux itself answers 405 for wrong methods.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	// --- Debug endpoints (pprof) ---
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)

	// --- System endpoints ---
	mux.HandleFunc("POST /system/journal-rewrite", s.handleJournalRewrite)
	mux.HandleFunc("GET /system/recompute", s.handleRecomputeStatus)

	// --- Project registry ---
	mux.HandleFunc("GET /projects", s.handleProjectList)
	mux.HandleFunc("POST /projects", s.handleProjectCreate)
	mux.HandleFunc("GET /projects/{name}", s.handleProjectInfo)
	mux.HandleFunc("DELETE /projects/{name}", s.handleProjectDrop)

	// --- Graph and weights ---
	mux.HandleFunc("POST /projects/{name}/graph", s.handleGraphUpload)
	mux.HandleFunc("GET /projects/{name}/weights", s.handleWeightsGet)
	mux.HandleFunc("PUT /projects/{name}/weights", s.handleWeightsPut)

	// --- Scoring ---
	mux.HandleFunc("POST /projects/{name}/compute", s.handleCompute)
	mux.HandleFunc("GET /tasks/{id}", s.handleTaskStatus)

	// --- Cred queries ---
	mux.HandleFunc("GET /projects/{name}/cred", s.handleCredSummary)
	mux.HandleFunc("GET /projects/{name}/cred/node", s.handleNodeCred)
	mux.HandleFunc("GET /projects/{name}/cred/edges", s.handleEdgeFlows)
	mux.HandleFunc("GET /projects/{name}/intervals", s.handleIntervals)
	mux.HandleFunc("POST /projects/{name}/compress", s.handleCompress)

	// --- Dashboard ---
	mux.Handle("GET /ui/", http.StripPrefix("/ui/", ui.GetHandler()))
}

// handleHealthz answers liveness probes. It is registered outside the
// middleware chain and must stay dependency-free.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	names := s.Engine.ListProjects()
	s.writeHTTPResponse(w, http.StatusOK, map[string][]string{"projects": names})
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	cfg := engine.ProjectConfig{
		Params:          req.Params,
		ScoringPrefixes: req.ScoringPrefixes,
	}
	if err := s.Engine.CreateProject(req.Name, cfg); err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusCreated, map[string]string{"status": "OK", "name": req.Name})
}

func (s *Server) handleProjectInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.Engine.ProjectInfo(r.PathValue("name"))
	if err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, info)
}

func (s *Server) handleProjectDrop(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.DropProject(r.PathValue("name")); err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGraphUpload replaces the project graph with the posted document.
// The body is the canonical graph JSON (nodes plus edges).
func (s *Server) handleGraphUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	g := core.NewGraph()
	if err := json.Unmarshal(body, g); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid graph document: "+err.Error())
		return
	}

	if err := s.Engine.LoadGraph(name, g); err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, GraphUploadResponse{
		Status: "OK",
		Nodes:  g.NumNodes(),
		Edges:  g.NumEdges(),
	})
}

func (s *Server) handleWeightsGet(w http.ResponseWriter, r *http.Request) {
	weights, err := s.Engine.Weights(r.PathValue("name"))
	if err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, weights)
}

func (s *Server) handleWeightsPut(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	weights := core.NewWeights()
	if err := json.Unmarshal(body, weights); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid weights document: "+err.Error())
		return
	}

	if err := s.Engine.SetWeights(name, weights); err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleCompute starts a scoring run in the background and returns a task
// ID the client can poll. The run itself is detached from the request
// context, so a dropped connection does not cancel it.
func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	// Fail fast on unknown projects so the caller sees a 404 rather than
	// a task that fails a moment later.
	if _, err := s.Engine.ProjectInfo(name); err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	task := s.taskManager.NewTask()

	go func() {
		task.SetStatus(TaskStatusRunning)

		progress := func(interval, total int, phase timeline.Phase) {
			task.SetProgress(fmt.Sprintf("interval %d/%d (%s)", interval+1, total, phase))
		}

		if _, err := s.Engine.Compute(context.Background(), name, progress); err != nil {
			log.Printf("ERROR: compute for project '%s' failed: %v", name, err)
			task.SetError(err)
			return
		}
		task.SetStatus(TaskStatusCompleted)
	}()

	s.writeHTTPResponse(w, http.StatusAccepted, TaskAcceptedResponse{TaskID: task.ID})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, found := s.taskManager.GetTask(id)
	if !found {
		s.writeHTTPError(w, http.StatusNotFound, fmt.Sprintf("task '%s' not found", id))
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, task.Info())
}

// handleCredSummary returns nodes ranked by total cred.
// Query: n limits the result, repeated prefix parameters restrict to
// addresses under that part list.
func (s *Server) handleCredSummary(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	topN, err := queryInt(r, "n", 0)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}

	prefix, err := core.NewNodeAddress(r.URL.Query()["prefix"]...)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.Engine.CredSummary(name, topN, prefix)
	if err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, CredSummaryResponse{Project: name, Nodes: rows})
}

// handleNodeCred returns the full detail of one node, addressed by
// repeated addr query parameters (one per address part).
func (s *Server) handleNodeCred(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	parts := r.URL.Query()["addr"]
	if len(parts) == 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "at least one 'addr' query parameter is required")
		return
	}
	addr, err := core.NewNodeAddress(parts...)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := s.Engine.NodeCred(name, addr)
	if err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, detail)
}

func (s *Server) handleEdgeFlows(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	topN, err := queryInt(r, "n", 0)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.Engine.EdgeFlows(name, topN)
	if err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, EdgeFlowsResponse{Project: name, Edges: rows})
}

func (s *Server) handleIntervals(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	intervals, err := s.Engine.Intervals(name)
	if err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, IntervalsResponse{Project: name, Intervals: intervals})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var opts engine.CompressOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := s.Engine.CompressArtifact(name, opts); err != nil {
		s.writeHTTPError(w, httpStatusFor(err), err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleRecomputeStatus(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.recompute.GetStatuses())
}

func (s *Server) handleJournalRewrite(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.RewriteJournal(); err != nil {
		log.Printf("CRITICAL: journal rewrite via HTTP failed: %v", err)
		s.writeHTTPError(w, http.StatusInternalServerError, fmt.Sprintf("journal rewrite failed: %v", err))
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK", "message": "journal rewrite completed"})
}

// --- Helpers ---

// queryInt parses an optional integer query parameter, returning def when
// the parameter is absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter '%s' must be an integer, got %q", key, raw)
	}
	return n, nil
}

// httpStatusFor maps engine errors onto HTTP status codes. The engine
// returns plain errors, so the mapping matches on message shape and
// lives in this one place.
func httpStatusFor(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "already exists"):
		return http.StatusConflict
	case strings.Contains(msg, "no graph loaded"),
		strings.Contains(msg, "no computed artifact"),
		strings.Contains(msg, "does not match the loaded graph"):
		return http.StatusConflict
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "must be"),
		strings.Contains(msg, "neither a graph document"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
