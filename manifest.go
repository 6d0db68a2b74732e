package casevault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Object types partition the per-tenant objects area. Graph entities keep
// their sub-type so the on-disk layout and associated data distinguish nodes
// from edges.
const (
	ObjectTypeCase      = "case"
	ObjectTypeEvidence  = "evidence"
	ObjectTypeNote      = "note"
	ObjectTypeGraphNode = "graph/nodes"
	ObjectTypeGraphEdge = "graph/edges"
)

// objectTypes lists every partition in ingest group order.
var objectTypes = []string{
	ObjectTypeCase,
	ObjectTypeEvidence,
	ObjectTypeNote,
	ObjectTypeGraphNode,
	ObjectTypeGraphEdge,
}

func validObjectType(typ string) bool {
	for _, t := range objectTypes {
		if t == typ {
			return true
		}
	}
	return false
}

const manifestFilename = "manifest.json"

// ManifestEntry declares one file in a case bundle.
type ManifestEntry struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Hash string `json:"hash"` // hex SHA-256 of the file bytes
}

// PackManifest is the declared content of a case bundle. The store consumes
// it to verify hashes and drive ingest; bundle-internal consistency (e.g. a
// bundle-level root hash) is owned by the bundle format, not this store.
type PackManifest struct {
	PackID   string          `json:"packId"`
	Cases    []ManifestEntry `json:"cases"`
	Evidence []ManifestEntry `json:"evidence"`
	Notes    []ManifestEntry `json:"notes"`
	Graph    struct {
		Nodes []ManifestEntry `json:"nodes"`
		Edges []ManifestEntry `json:"edges"`
	} `json:"graph"`
}

type packGroup struct {
	objectType string
	entries    []ManifestEntry
}

// groups returns the manifest's logical groups in ingest order: cases,
// evidence, notes, graph nodes, graph edges.
func (m *PackManifest) groups() []packGroup {
	return []packGroup{
		{ObjectTypeCase, m.Cases},
		{ObjectTypeEvidence, m.Evidence},
		{ObjectTypeNote, m.Notes},
		{ObjectTypeGraphNode, m.Graph.Nodes},
		{ObjectTypeGraphEdge, m.Graph.Edges},
	}
}

// FileCount is the total number of declared entries across all groups.
func (m *PackManifest) FileCount() int {
	n := 0
	for _, g := range m.groups() {
		n += len(g.entries)
	}
	return n
}

// LoadPackManifest reads manifest.json from a bundle directory.
func LoadPackManifest(packPath string) (*PackManifest, error) {
	data, err := os.ReadFile(filepath.Join(packPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read pack manifest: %w", err)
	}
	var m PackManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse pack manifest: %w", err)
	}
	for _, g := range m.groups() {
		for _, e := range g.entries {
			if err := validateObjectID(e.ID); err != nil {
				return nil, fmt.Errorf("manifest entry %s: %w", e.Path, err)
			}
		}
	}
	return &m, nil
}

// verifyPack recomputes the content hash of every declared file and compares
// it to the manifest's declared hash. The first mismatch aborts with a
// PackIntegrityError naming the offending file; the caller guarantees no
// writes happen before this returns nil.
func verifyPack(packPath string, m *PackManifest) error {
	for _, g := range m.groups() {
		for _, e := range g.entries {
			actual, err := hashFile(filepath.Join(packPath, e.Path))
			if err != nil {
				return &PackIntegrityError{
					PackID:   m.PackID,
					File:     e.Path,
					Declared: e.Hash,
					Actual:   "unreadable: " + err.Error(),
				}
			}
			if !strings.EqualFold(actual, e.Hash) {
				return &PackIntegrityError{
					PackID:   m.PackID,
					File:     e.Path,
					Declared: e.Hash,
					Actual:   actual,
				}
			}
		}
	}
	return nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// validateObjectID rejects ids that could escape the per-type directory.
func validateObjectID(id string) error {
	if id == "" {
		return fmt.Errorf("empty object id")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("invalid object id %q", id)
	}
	return nil
}
