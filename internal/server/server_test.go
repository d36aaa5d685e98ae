package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/engine"
)

// serverTestGraph builds a two-week history: alice authors a commit in
// each week, bob only one in the second.
func serverTestGraph(t *testing.T) *core.Graph {
	t.Helper()
	ts := func(ms int64) *int64 { return &ms }
	g := core.NewGraph()
	nodes := []core.Node{
		{Address: core.MustNodeAddress("user", "alice"), Description: "alice", TimestampMs: ts(0)},
		{Address: core.MustNodeAddress("user", "bob"), Description: "bob", TimestampMs: ts(0)},
		{Address: core.MustNodeAddress("repo", "commit", "c1"), Description: "feat: add parser", TimestampMs: ts(100)},
		{Address: core.MustNodeAddress("repo", "commit", "c2"), Description: "fix: empty input", TimestampMs: ts(core.WeekMs + 100)},
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	edges := []core.Edge{
		{
			Address:     core.MustEdgeAddress("authors", "c1", "alice"),
			Src:         core.MustNodeAddress("repo", "commit", "c1"),
			Dst:         core.MustNodeAddress("user", "alice"),
			TimestampMs: 100,
		},
		{
			Address:     core.MustEdgeAddress("authors", "c2", "alice"),
			Src:         core.MustNodeAddress("repo", "commit", "c2"),
			Dst:         core.MustNodeAddress("user", "alice"),
			TimestampMs: core.WeekMs + 100,
		},
		{
			Address:     core.MustEdgeAddress("authors", "c2", "bob"),
			Src:         core.MustNodeAddress("repo", "commit", "c2"),
			Dst:         core.MustNodeAddress("user", "bob"),
			TimestampMs: core.WeekMs + 100,
		},
	}
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

// newTestServer wires an engine and a Server into httptest. The recompute
// service is built but not started; tests that need it call Start.
func newTestServer(t *testing.T, configPath, authToken string) (*httptest.Server, *Server, *engine.Engine) {
	t.Helper()

	eng, err := engine.Open(engine.DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("engine open failed: %v", err)
	}

	s, err := NewServer(eng, ":0", configPath, authToken)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		eng.Close()
	})
	return ts, s, eng
}

// doJSON sends one request with an optional JSON body and bearer token and
// returns the response together with its fully read body.
func doJSON(t *testing.T, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

// waitForTask polls the task endpoint until the task leaves the running
// states.
func waitForTask(t *testing.T, baseURL, token, taskID string) TaskInfo {
	t.Helper()

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			t.Fatal("timeout: task did not finish within 10 seconds")
		case <-ticker.C:
			resp, body := doJSON(t, http.MethodGet, baseURL+"/tasks/"+taskID, nil, token)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("task status expected 200, got %d", resp.StatusCode)
			}
			var info TaskInfo
			if err := json.Unmarshal(body, &info); err != nil {
				t.Fatal(err)
			}
			if info.Status == TaskStatusCompleted || info.Status == TaskStatusFailed {
				return info
			}
		}
	}
}

func TestHealthzAndAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, "", "test-secret-token")

	// 1. Health probe needs no token
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz expected 200, got %d", resp.StatusCode)
	}

	// 2. Metrics scrape needs no token either
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/metrics", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics expected 200, got %d", resp.StatusCode)
	}

	// 3. The API without a token is rejected
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/projects", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("protected expected 401, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "bearer token") {
		t.Errorf("401 body should mention the bearer token, got %s", body)
	}

	// 4. A wrong token is rejected
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/projects", nil, "wrong-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token expected 401, got %d", resp.StatusCode)
	}

	// 5. The correct token passes
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/projects", nil, "test-secret-token")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("protected with token expected 200, got %d", resp.StatusCode)
	}
}

func TestProjectAPILifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t, "", "")

	// 1. Create a project
	create := CreateProjectRequest{Name: "osrc", ScoringPrefixes: [][]string{{"user"}}}
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/projects", create, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create expected 201, got %d: %s", resp.StatusCode, body)
	}

	// 2. Creating it again conflicts
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/projects", create, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create expected 409, got %d", resp.StatusCode)
	}

	// 3. It shows up in the listing
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/projects", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list expected 200, got %d", resp.StatusCode)
	}
	var listing struct {
		Projects []string `json:"projects"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Projects) != 1 || listing.Projects[0] != "osrc" {
		t.Errorf("got projects %v, want [osrc]", listing.Projects)
	}

	// 4. Upload the graph document
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/projects/osrc/graph", serverTestGraph(t), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("graph upload expected 200, got %d: %s", resp.StatusCode, body)
	}
	var upload GraphUploadResponse
	if err := json.Unmarshal(body, &upload); err != nil {
		t.Fatal(err)
	}
	if upload.Nodes != 4 || upload.Edges != 3 {
		t.Errorf("got %d nodes / %d edges, want 4 / 3", upload.Nodes, upload.Edges)
	}

	// 5. Set weights and read them back
	weights := core.NewWeights()
	weights.NodePrefixes[core.MustNodeAddress("repo")] = 2
	resp, body = doJSON(t, http.MethodPut, ts.URL+"/projects/osrc/weights", weights, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set weights expected 200, got %d: %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/projects/osrc/weights", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get weights expected 200, got %d", resp.StatusCode)
	}
	got := core.NewWeights()
	if err := json.Unmarshal(body, got); err != nil {
		t.Fatal(err)
	}
	if got.NodePrefixes[core.MustNodeAddress("repo")] != 2 {
		t.Errorf("weights round trip lost the repo prefix: %v", got.NodePrefixes)
	}

	// 6. Kick off a compute run and wait for the task
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/projects/osrc/compute", nil, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("compute expected 202, got %d: %s", resp.StatusCode, body)
	}
	var accepted TaskAcceptedResponse
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatal(err)
	}
	if accepted.TaskID == "" {
		t.Fatal("compute returned an empty task id")
	}
	task := waitForTask(t, ts.URL, "", accepted.TaskID)
	if task.Status != TaskStatusCompleted {
		t.Fatalf("task finished as %s (%s), want completed", task.Status, task.Error)
	}

	// 7. Project info reflects the artifact
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/projects/osrc", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info expected 200, got %d", resp.StatusCode)
	}
	var info engine.ProjectInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatal(err)
	}
	if !info.HasArtifact || info.Intervals != 2 {
		t.Errorf("got hasArtifact=%v intervals=%d, want true / 2", info.HasArtifact, info.Intervals)
	}

	// 8. Cred summary, restricted and ranked
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/projects/osrc/cred?n=1", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cred expected 200, got %d: %s", resp.StatusCode, body)
	}
	var summary CredSummaryResponse
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatal(err)
	}
	if len(summary.Nodes) != 1 {
		t.Fatalf("got %d rows, want 1", len(summary.Nodes))
	}
	if want := []string{"user", "alice"}; !slicesEqual(summary.Nodes[0].Address, want) {
		t.Errorf("top node is %v, want %v", summary.Nodes[0].Address, want)
	}

	// 9. Node detail via repeated addr parameters
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/projects/osrc/cred/node?addr=user&addr=alice", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("node cred expected 200, got %d: %s", resp.StatusCode, body)
	}
	var detail engine.NodeCredDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Summary.Cred <= 0 {
		t.Errorf("alice cred is %v, want > 0", detail.Summary.Cred)
	}
	if detail.OverTime == nil || len(detail.OverTime.Cred) != 2 {
		t.Errorf("alice over-time series missing or wrong length: %+v", detail.OverTime)
	}

	// 10. Edge flows and intervals
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/projects/osrc/cred/edges?n=2", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edge flows expected 200, got %d", resp.StatusCode)
	}
	var flows EdgeFlowsResponse
	if err := json.Unmarshal(body, &flows); err != nil {
		t.Fatal(err)
	}
	if len(flows.Edges) != 2 {
		t.Errorf("got %d edge rows, want 2", len(flows.Edges))
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/projects/osrc/intervals", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("intervals expected 200, got %d", resp.StatusCode)
	}
	var intervals IntervalsResponse
	if err := json.Unmarshal(body, &intervals); err != nil {
		t.Fatal(err)
	}
	if len(intervals.Intervals) != 2 {
		t.Errorf("got %d intervals, want 2", len(intervals.Intervals))
	}

	// 11. Compress away every series, then the detail comes back bare
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/projects/osrc/compress", engine.CompressOptions{Threshold: 1e12}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("compress expected 200, got %d: %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/projects/osrc/cred/node?addr=user&addr=alice", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("node cred expected 200, got %d", resp.StatusCode)
	}
	detail = engine.NodeCredDetail{}
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatal(err)
	}
	if detail.OverTime != nil {
		t.Errorf("over-time series should be gone after compression, got %+v", detail.OverTime)
	}
	if detail.Summary.Cred <= 0 {
		t.Errorf("summary must survive compression, got %v", detail.Summary.Cred)
	}

	// 12. Drop the project
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/projects/osrc", nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/projects/osrc", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("info after delete expected 404, got %d", resp.StatusCode)
	}
}

func TestRequestValidation(t *testing.T) {
	ts, _, _ := newTestServer(t, "", "")

	// 1. Compute on a missing project fails fast, no task is created
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/projects/ghost/compute", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("compute on missing project expected 404, got %d", resp.StatusCode)
	}

	// 2. Unknown task
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/tasks/nope", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown task expected 404, got %d", resp.StatusCode)
	}

	// 3. Bad project name
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{Name: "no/slash"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad name expected 400, got %d", resp.StatusCode)
	}

	// 4. Non-numeric n
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{Name: "p", ScoringPrefixes: [][]string{{"user"}}}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create expected 201, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/projects/p/cred?n=abc", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad n expected 400, got %d", resp.StatusCode)
	}

	// 5. Cred before compute conflicts
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/projects/p/cred", nil, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cred without artifact expected 409, got %d", resp.StatusCode)
	}

	// 6. Node detail without addr
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/projects/p/cred/node", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("node detail without addr expected 400, got %d", resp.StatusCode)
	}
}

func TestConfigBootAndRecompute(t *testing.T) {
	dir := t.TempDir()

	// 1. Write a graph document for the boot config to load
	graphPath := filepath.Join(dir, "graph.json")
	raw, err := json.Marshal(serverTestGraph(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(graphPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	// 2. Declare the project with a fast schedule
	configPath := filepath.Join(dir, "projects.yaml")
	configContent := `projects:
  - name: boot
    graph: ` + graphPath + `
    schedule: 40ms
    scoring_prefixes:
      - [user]
    params:
      interval_decay: 0.25
    weights:
      nodes:
        - prefix: [repo]
          weight: 2.0
      edges:
        - prefix: [authors]
          forwards: 2.0
          backwards: 0.5
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	ts, s, eng := newTestServer(t, configPath, "")

	// 3. The project was materialized with overlaid params and weights
	info, err := eng.ProjectInfo("boot")
	if err != nil {
		t.Fatalf("configured project missing: %v", err)
	}
	if info.NumNodes != 4 || info.NumEdges != 3 {
		t.Errorf("got %d nodes / %d edges, want 4 / 3", info.NumNodes, info.NumEdges)
	}
	if info.Params.IntervalDecay != 0.25 {
		t.Errorf("got decay %v, want 0.25", info.Params.IntervalDecay)
	}
	if info.Params.Alpha != 0.05 {
		t.Errorf("unset alpha should stay at the default, got %v", info.Params.Alpha)
	}
	weights, err := eng.Weights("boot")
	if err != nil {
		t.Fatal(err)
	}
	if weights.NodePrefixes[core.MustNodeAddress("repo")] != 2 {
		t.Errorf("configured node weight missing: %v", weights.NodePrefixes)
	}

	// 4. The worker computes an artifact shortly after starting
	s.recompute.Start()
	defer s.recompute.Stop()

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for ready := false; !ready; {
		select {
		case <-timeout:
			t.Fatal("timeout: recompute worker produced no artifact within 10 seconds")
		case <-ticker.C:
			info, err := eng.ProjectInfo("boot")
			if err != nil {
				t.Fatal(err)
			}
			ready = info.HasArtifact
		}
	}

	// 5. The status endpoint lists the worker
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/system/recompute", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recompute status expected 200, got %d", resp.StatusCode)
	}
	var statuses []RecomputeStatus
	if err := json.Unmarshal(body, &statuses); err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 || statuses[0].Project != "boot" {
		t.Errorf("got statuses %+v, want one entry for boot", statuses)
	}
}

func TestLoadProjectsConfig(t *testing.T) {
	// 1. An empty path yields an empty config
	cfg, err := LoadProjectsConfig("")
	if err != nil {
		t.Fatalf("empty path failed: %v", err)
	}
	if len(cfg.Projects) != 0 {
		t.Errorf("empty path yielded %d projects", len(cfg.Projects))
	}

	// 2. Unknown keys are rejected by strict decoding
	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad.yaml")
	bad := "projects:\n  - name: x\n    unknown_key: 1\n"
	if err := os.WriteFile(badPath, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProjectsConfig(badPath); err == nil || !strings.Contains(err.Error(), "unknown_key") {
		t.Errorf("strict decode should reject unknown_key, got %v", err)
	}

	// 3. Environment variables expand before parsing
	t.Setenv("KREDO_TEST_GRAPH", "/data/graph.json")
	envPath := filepath.Join(dir, "env.yaml")
	env := "projects:\n  - name: x\n    graph: ${KREDO_TEST_GRAPH}\n"
	if err := os.WriteFile(envPath, []byte(env), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadProjectsConfig(envPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Projects[0].Graph; got != "/data/graph.json" {
		t.Errorf("got graph %q, want /data/graph.json", got)
	}

	// 4. An explicit zero decay survives the overlay
	zero := 0.0
	params := (&ParamsConfig{IntervalDecay: &zero}).toParams()
	if params.IntervalDecay != 0 {
		t.Errorf("explicit zero decay was lost, got %v", params.IntervalDecay)
	}
	if params.Alpha != 0.05 {
		t.Errorf("unset alpha should default to 0.05, got %v", params.Alpha)
	}
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
