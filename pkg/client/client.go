// Package client provides a Go client for interacting with the Kredo API.
//
// It offers a type-safe way to perform all major operations, including:
//   - Project management (Create, List, Info, Delete).
//   - Graph upload and weight configuration.
//   - Scoring runs as asynchronous tasks with polling.
//   - Cred queries (ranking, per-node detail, edge flows, intervals).
//   - Artifact compression and system administration.
//
// The client handles HTTP communication, JSON serialization/deserialization, and
// standardized error handling. The structs mirror the server's wire format, so
// importing the client does not pull in the engine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Custom Errors ---

// APIError represents an error returned by the Kredo API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// --- JSON Structs ---

// Params mirrors the server's scoring parameters. Zero fields select the
// server-side defaults; an explicit IntervalDecay of 0 together with any
// other set field is preserved.
type Params struct {
	IntervalWidthMs      int64   `json:"intervalWidthMs"`
	IntervalDecay        float64 `json:"intervalDecay"`
	Alpha                float64 `json:"alpha"`
	SyntheticLoopWeight  float64 `json:"syntheticLoopWeight"`
	ConvergenceThreshold float64 `json:"convergenceThreshold"`
	MaxIterations        int     `json:"maxIterations"`
	YieldAfterMs         int64   `json:"yieldAfterMs"`
}

// NodeWeight assigns a base weight to every node under a prefix.
type NodeWeight struct {
	Prefix []string `json:"prefix"`
	Weight float64  `json:"weight"`
}

// EdgeWeight assigns directional base weights to every edge under a prefix.
type EdgeWeight struct {
	Prefix    []string `json:"prefix"`
	Forwards  float64  `json:"forwards"`
	Backwards float64  `json:"backwards"`
}

// Weights models the weight configuration document.
type Weights struct {
	NodeWeights []NodeWeight `json:"nodeWeights"`
	EdgeWeights []EdgeWeight `json:"edgeWeights"`
}

// ProjectInfo models the project introspection response.
type ProjectInfo struct {
	Name            string     `json:"name"`
	Params          Params     `json:"params"`
	ScoringPrefixes [][]string `json:"scoringPrefixes"`
	NumNodes        int        `json:"numNodes"`
	NumEdges        int        `json:"numEdges"`
	Intervals       int        `json:"intervals"`
	HasArtifact     bool       `json:"hasArtifact"`
	LastComputedMs  int64      `json:"lastComputedMs"`
}

// GraphStats reports the size of an uploaded graph.
type GraphStats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Interval is one scored time slice.
type Interval struct {
	StartMs int64 `json:"startTimeMs"`
	EndMs   int64 `json:"endTimeMs"`
}

// NodeCredRow is one row of the cred ranking.
type NodeCredRow struct {
	Address     []string `json:"address"`
	Description string   `json:"description"`
	Cred        float64  `json:"cred"`
	SeedFlow    float64  `json:"seedFlow"`
}

// NodeSummary aggregates a node's cred across all intervals.
type NodeSummary struct {
	Cred              float64 `json:"cred"`
	SeedFlow          float64 `json:"seedFlow"`
	SyntheticLoopFlow float64 `json:"syntheticLoopFlow"`
}

// NodeTimeline holds a node's per-interval series. Sub-series may be nil
// when the server compressed them out of the artifact.
type NodeTimeline struct {
	Cred              []float64 `json:"cred"`
	SeedFlow          []float64 `json:"seedFlow"`
	SyntheticLoopFlow []float64 `json:"syntheticLoopFlow"`
}

// NodeCredDetail is the full cred record of a single node.
type NodeCredDetail struct {
	Address     []string      `json:"address"`
	Description string        `json:"description"`
	Summary     NodeSummary   `json:"summary"`
	Intervals   []Interval    `json:"intervals"`
	OverTime    *NodeTimeline `json:"overTime"`
}

// EdgeFlowRow is one row of the edge flow ranking.
type EdgeFlowRow struct {
	Address      []string `json:"address"`
	Src          []string `json:"src"`
	Dst          []string `json:"dst"`
	ForwardFlow  float64  `json:"forwardFlow"`
	BackwardFlow float64  `json:"backwardFlow"`
}

// CompressOptions selects which lossy artifact compressions to apply.
type CompressOptions struct {
	Threshold     float64  `json:"threshold"`
	KeepPrefix    []string `json:"keepPrefix,omitempty"`
	HalfPrecision bool     `json:"halfPrecision"`
}

// Task represents an asynchronous operation on the Kredo server.
type Task struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ProgressMessage string `json:"progress_message,omitempty"`
	Error           string `json:"error,omitempty"`

	client *Client // Reference to the client for polling.
}

type credSummaryResponse struct {
	Project string        `json:"project"`
	Nodes   []NodeCredRow `json:"nodes"`
}

type edgeFlowsResponse struct {
	Project string        `json:"project"`
	Edges   []EdgeFlowRow `json:"edges"`
}

type intervalsResponse struct {
	Project   string     `json:"project"`
	Intervals []Interval `json:"intervals"`
}

type taskAcceptedResponse struct {
	TaskID string `json:"task_id"`
}

// --- Client ---

// Client is the Go client for interacting with Kredo.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a new Kredo client.
func New(host string, port int) *Client {
	return NewWithBaseURL(fmt.Sprintf("http://%s:%d", host, port))
}

// NewWithBaseURL creates a client against an explicit base URL, for
// example one handed out by httptest.
func NewWithBaseURL(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetAuthToken sets the bearer token sent with every request. An empty
// token sends no Authorization header.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// jsonRequest is a helper method to execute all requests to the API.
// It handles JSON serialization, HTTP calls, and error management.
func (c *Client) jsonRequest(method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil // For 204 responses (e.g., DELETE).
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil && errResp["error"] != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return respBody, nil
}

// Refresh updates the task's status by querying the server.
func (t *Task) Refresh() error {
	if t.client == nil {
		return fmt.Errorf("client is not associated with the task")
	}
	updatedTask, err := t.client.GetTaskStatus(t.ID)
	if err != nil {
		return err
	}
	t.Status = updatedTask.Status
	t.ProgressMessage = updatedTask.ProgressMessage
	t.Error = updatedTask.Error
	return nil
}

// Wait blocks until the task finishes, polling at the given interval. It
// returns early when the context is cancelled.
func (t *Task) Wait(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for task %s: %w", t.ID, ctx.Err())
		case <-ticker.C:
			if err := t.Refresh(); err != nil {
				return err
			}
			switch t.Status {
			case "completed":
				return nil
			case "failed":
				return fmt.Errorf("task %s failed with error: %s", t.ID, t.Error)
			case "running", "started":
				// Continue waiting.
			default:
				return fmt.Errorf("unknown task status: %s", t.Status)
			}
		}
	}
}

// --- Project Methods ---

// CreateProject registers a new project. A zero Params selects the
// server-side defaults.
func (c *Client) CreateProject(name string, params Params, scoringPrefixes [][]string) error {
	payload := map[string]any{
		"name":            name,
		"params":          params,
		"scoringPrefixes": scoringPrefixes,
	}
	_, err := c.jsonRequest(http.MethodPost, "/projects", payload)
	return err
}

// ListProjects returns the names of all registered projects.
func (c *Client) ListProjects() ([]string, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/projects", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Projects []string `json:"projects"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for ListProjects: %w", err)
	}
	return resp.Projects, nil
}

// GetProjectInfo retrieves information about a specific project.
func (c *Client) GetProjectInfo(name string) (*ProjectInfo, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/projects/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	var resp ProjectInfo
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for GetProjectInfo: %w", err)
	}
	return &resp, nil
}

// DeleteProject removes a project and its stored data.
func (c *Client) DeleteProject(name string) error {
	_, err := c.jsonRequest(http.MethodDelete, "/projects/"+url.PathEscape(name), nil)
	return err
}

// --- Graph and Weight Methods ---

// LoadGraph replaces the project graph with the given graph document.
func (c *Client) LoadGraph(name string, graphJSON []byte) (*GraphStats, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/projects/"+url.PathEscape(name)+"/graph", json.RawMessage(graphJSON))
	if err != nil {
		return nil, err
	}
	var resp GraphStats
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for LoadGraph: %w", err)
	}
	return &resp, nil
}

// SetWeights replaces the project's weight configuration.
func (c *Client) SetWeights(name string, weights Weights) error {
	_, err := c.jsonRequest(http.MethodPut, "/projects/"+url.PathEscape(name)+"/weights", weights)
	return err
}

// GetWeights retrieves the project's weight configuration.
func (c *Client) GetWeights(name string) (*Weights, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/projects/"+url.PathEscape(name)+"/weights", nil)
	if err != nil {
		return nil, err
	}
	var resp Weights
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for GetWeights: %w", err)
	}
	return &resp, nil
}

// --- Scoring Methods ---

// Compute starts a scoring run and returns the Task tracking it.
func (c *Client) Compute(name string) (*Task, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/projects/"+url.PathEscape(name)+"/compute", nil)
	if err != nil {
		return nil, err
	}

	var accepted taskAcceptedResponse
	if err := json.Unmarshal(respBody, &accepted); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Compute: %w", err)
	}
	task := &Task{ID: accepted.TaskID, Status: "started", client: c}
	return task, nil
}

// GetTaskStatus retrieves the status of a long-running task.
func (c *Client) GetTaskStatus(taskID string) (*Task, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(respBody, &task); err != nil {
		return nil, fmt.Errorf("invalid JSON response for GetTaskStatus: %w", err)
	}
	task.client = c
	return &task, nil
}

// --- Cred Query Methods ---

// CredSummary returns nodes ranked by total cred. topN <= 0 returns every
// node; a non-nil prefix restricts the ranking to addresses under it.
func (c *Client) CredSummary(name string, topN int, prefix []string) ([]NodeCredRow, error) {
	query := url.Values{}
	if topN > 0 {
		query.Set("n", fmt.Sprint(topN))
	}
	for _, part := range prefix {
		query.Add("prefix", part)
	}

	endpoint := "/projects/" + url.PathEscape(name) + "/cred"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	respBody, err := c.jsonRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp credSummaryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for CredSummary: %w", err)
	}
	return resp.Nodes, nil
}

// NodeCred retrieves the full cred record of one node, addressed by its
// part list.
func (c *Client) NodeCred(name string, address []string) (*NodeCredDetail, error) {
	query := url.Values{}
	for _, part := range address {
		query.Add("addr", part)
	}

	respBody, err := c.jsonRequest(http.MethodGet, "/projects/"+url.PathEscape(name)+"/cred/node?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp NodeCredDetail
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for NodeCred: %w", err)
	}
	return &resp, nil
}

// EdgeFlows returns edges ranked by total cred flow. topN <= 0 returns
// every edge.
func (c *Client) EdgeFlows(name string, topN int) ([]EdgeFlowRow, error) {
	endpoint := "/projects/" + url.PathEscape(name) + "/cred/edges"
	if topN > 0 {
		endpoint += "?n=" + fmt.Sprint(topN)
	}
	respBody, err := c.jsonRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp edgeFlowsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for EdgeFlows: %w", err)
	}
	return resp.Edges, nil
}

// Intervals returns the scored time intervals of the project.
func (c *Client) Intervals(name string) ([]Interval, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/projects/"+url.PathEscape(name)+"/intervals", nil)
	if err != nil {
		return nil, err
	}
	var resp intervalsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Intervals: %w", err)
	}
	return resp.Intervals, nil
}

// Compress applies lossy compressions to the stored artifact.
func (c *Client) Compress(name string, opts CompressOptions) error {
	_, err := c.jsonRequest(http.MethodPost, "/projects/"+url.PathEscape(name)+"/compress", opts)
	return err
}

// --- Administration Methods ---

// JournalRewrite triggers a journal rewrite, compacting the command log.
func (c *Client) JournalRewrite() error {
	_, err := c.jsonRequest(http.MethodPost, "/system/journal-rewrite", nil)
	return err
}
