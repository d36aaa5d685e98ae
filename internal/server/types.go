package server

import (
	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/timeline"
	"github.com/sanonone/kredo/pkg/engine"
)

// Request and response bodies of the REST API. Query-only endpoints have
// no request struct.

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	// Name is the project identifier. It becomes a directory name, so the
	// allowed character set is restricted.
	Name string `json:"name"`
	// Params are the scoring parameters. A zero value selects the
	// canonical defaults.
	Params timeline.Params `json:"params"`
	// ScoringPrefixes lists the address prefixes whose nodes receive
	// cred, each as an address part list.
	ScoringPrefixes [][]string `json:"scoringPrefixes"`
}

// TaskAcceptedResponse is returned with a 202 by endpoints that run in
// the background. Poll GET /tasks/{id} to follow the task.
type TaskAcceptedResponse struct {
	TaskID string `json:"task_id"`
}

// GraphUploadResponse reports the size of a freshly loaded graph.
type GraphUploadResponse struct {
	Status string `json:"status"`
	Nodes  int    `json:"nodes"`
	Edges  int    `json:"edges"`
}

// CredSummaryResponse lists nodes ranked by total cred.
type CredSummaryResponse struct {
	Project string               `json:"project"`
	Nodes   []engine.NodeCredRow `json:"nodes"`
}

// EdgeFlowsResponse lists edges ranked by total cred flow.
type EdgeFlowsResponse struct {
	Project string               `json:"project"`
	Edges   []engine.EdgeFlowRow `json:"edges"`
}

// IntervalsResponse lists the scored time intervals of a project.
type IntervalsResponse struct {
	Project   string          `json:"project"`
	Intervals []core.Interval `json:"intervals"`
}
