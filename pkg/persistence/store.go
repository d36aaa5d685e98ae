package persistence

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sanonone/kredo/pkg/core"
	"github.com/sanonone/kredo/pkg/core/cred"
)

// Document types and current schema versions.
const (
	ArtifactType    = "kredo/cred"
	ArtifactVersion = "0.1.0"
	GraphType       = "kredo/graph"
	GraphVersion    = "0.1.0"
)

var (
	artifactDecoder = NewCompatDecoder(ArtifactType, ArtifactVersion)
	graphDecoder    = NewCompatDecoder(GraphType, GraphVersion)
)

// RegisterArtifactUpgrader installs an upgrader for cred artifacts written
// at an older schema version. Call during program initialization.
func RegisterArtifactUpgrader(fromVersion string, up Upgrader) {
	artifactDecoder.RegisterUpgrader(fromVersion, up)
}

// RegisterGraphUpgrader installs an upgrader for graph documents written at
// an older schema version.
func RegisterGraphUpgrader(fromVersion string, up Upgrader) {
	graphDecoder.RegisterUpgrader(fromVersion, up)
}

// SaveArtifact writes a cred artifact to path: compat envelope JSON inside
// a single CRC frame, via a temp file renamed into place.
func SaveArtifact(path string, d *cred.Data) error {
	h := CompatHeader{Type: ArtifactType, Version: ArtifactVersion}
	return saveDocument(path, OpCodeArtifact, h, d)
}

// LoadArtifact reads a cred artifact written by SaveArtifact.
func LoadArtifact(path string) (*cred.Data, error) {
	var d cred.Data
	if err := loadDocument(path, OpCodeArtifact, artifactDecoder, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SaveGraph writes a graph document to path.
func SaveGraph(path string, g *core.Graph) error {
	h := CompatHeader{Type: GraphType, Version: GraphVersion}
	return saveDocument(path, OpCodeGraph, h, g)
}

// LoadGraph reads a graph document written by SaveGraph.
func LoadGraph(path string) (*core.Graph, error) {
	g := core.NewGraph()
	if err := loadDocument(path, OpCodeGraph, graphDecoder, g); err != nil {
		return nil, err
	}
	return g, nil
}

func saveDocument(path string, op byte, h CompatHeader, payload any) error {
	body, err := ToCompat(h, payload)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(f)
	if err := NewFrameWriter(buf).WriteFrame(op, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func loadDocument(path string, wantOp byte, dec *CompatDecoder, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	op, payload, _, err := ReadFrame(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if op != wantOp {
		return fmt.Errorf("unexpected frame type 0x%02x in %s", op, path)
	}
	if err := dec.Decode(payload, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
