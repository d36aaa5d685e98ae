package persistence

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/cred"
)

func writeRawDocument(path string, op byte, body []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := NewFrameWriter(f).WriteFrame(op, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func storeTestArtifact() *cred.Data {
	return &cred.Data{
		Intervals: []core.Interval{{StartMs: 0, EndMs: 100}, {StartMs: 100, EndMs: 200}},
		NodeSummaries: []cred.NodeSummary{
			{Cred: 5, SeedFlow: 0.5, SyntheticLoopFlow: 0.01},
			{Cred: 2, SeedFlow: 0.2, SyntheticLoopFlow: 0.01},
		},
		NodeOverTime: []*cred.NodeTimeline{
			{Cred: []float64{2, 3}, SeedFlow: []float64{0.25, 0.25}, SyntheticLoopFlow: []float64{0.005, 0.005}},
			nil,
		},
		EdgeSummaries: []cred.EdgeSummary{{ForwardFlow: 1.5, BackwardFlow: 0.25}},
		EdgeOverTime:  []*cred.EdgeTimeline{{ForwardFlow: []float64{1, 0.5}, BackwardFlow: []float64{0.125, 0.125}}},
	}
}

func TestArtifactSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.kred")
	want := storeTestArtifact()
	if err := SaveArtifact(path, want); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	got, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("artifact changed across the round trip:\n got %+v\nwant %+v", got, want)
	}
	// The temp file must not survive a successful save.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestGraphSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.kred")
	g := core.NewGraph()
	ts := int64(100)
	if err := g.AddNode(core.Node{Address: core.MustNodeAddress("user", "alice"), TimestampMs: &ts}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if err := g.AddNode(core.Node{Address: core.MustNodeAddress("legacy"), TimestampMs: nil}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if err := g.AddEdge(core.Edge{
		Address:     core.MustEdgeAddress("touch", "1"),
		Src:         core.MustNodeAddress("user", "alice"),
		Dst:         core.MustNodeAddress("legacy"),
		TimestampMs: 150,
	}); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	if err := SaveGraph(path, g); err != nil {
		t.Fatalf("SaveGraph failed: %v", err)
	}
	got, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("LoadGraph failed: %v", err)
	}
	if !reflect.DeepEqual(got.Nodes(), g.Nodes()) {
		t.Error("nodes changed across the round trip")
	}
	if !reflect.DeepEqual(got.Edges(), g.Edges()) {
		t.Error("edges changed across the round trip")
	}
}

func TestLoadArtifactRejectsGraphFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.kred")
	if err := SaveGraph(path, core.NewGraph()); err != nil {
		t.Fatalf("SaveGraph failed: %v", err)
	}
	if _, err := LoadArtifact(path); err == nil {
		t.Error("expected the artifact loader to reject a graph file")
	}
}

func TestLoadArtifactDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.kred")
	if err := SaveArtifact(path, storeTestArtifact()); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0666); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadArtifact(path); err == nil {
		t.Error("expected a checksum error for a damaged artifact")
	}
}

func TestLoadArtifactRefusesFutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.kred")
	body, err := ToCompat(CompatHeader{Type: ArtifactType, Version: "9.9.9"}, storeTestArtifact())
	if err != nil {
		t.Fatalf("ToCompat failed: %v", err)
	}
	if err := writeRawDocument(path, OpCodeArtifact, body); err != nil {
		t.Fatalf("writing document failed: %v", err)
	}
	_, err = LoadArtifact(path)
	if err == nil || !strings.Contains(err.Error(), "9.9.9") {
		t.Errorf("expected a version refusal naming 9.9.9, got %v", err)
	}
}
