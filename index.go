package casevault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const indexFilename = "object-index.json"

// IndexEntry records one ingested object. DeclaredHash is the
// manifest-declared plaintext hash recorded at ingest time, not a re-derived
// one: the already-verified manifest is the record of truth for the object.
type IndexEntry struct {
	RelativePath  string    `json:"relativePath"`
	PlaintextSize int64     `json:"plaintextSize"`
	LastModified  time.Time `json:"lastModified"`
	DeclaredHash  string    `json:"declaredHash"`
}

// ObjectIndex maps object type -> object id -> entry. It is persisted as a
// single JSON document after each mutation and re-read by every operation.
type ObjectIndex map[string]map[string]IndexEntry

// NewObjectIndex returns an empty index with every type partition present.
func NewObjectIndex() ObjectIndex {
	idx := make(ObjectIndex, len(objectTypes))
	for _, typ := range objectTypes {
		idx[typ] = make(map[string]IndexEntry)
	}
	return idx
}

func (idx ObjectIndex) lookup(typ, id string) (IndexEntry, bool) {
	entries, ok := idx[typ]
	if !ok {
		return IndexEntry{}, false
	}
	entry, ok := entries[id]
	return entry, ok
}

func (idx ObjectIndex) put(typ, id string, entry IndexEntry) {
	entries, ok := idx[typ]
	if !ok {
		entries = make(map[string]IndexEntry)
		idx[typ] = entries
	}
	entries[id] = entry
}

// sortedIDs returns the ids of one type partition in deterministic order.
func (idx ObjectIndex) sortedIDs(typ string) []string {
	ids := make([]string, 0, len(idx[typ]))
	for id := range idx[typ] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// relativePaths collects every indexed ciphertext path, used by the
// verification pass to spot untracked files.
func (idx ObjectIndex) relativePaths() map[string]struct{} {
	paths := make(map[string]struct{})
	for _, entries := range idx {
		for _, entry := range entries {
			paths[entry.RelativePath] = struct{}{}
		}
	}
	return paths
}

// entryCount is the number of indexed objects across all types.
func (idx ObjectIndex) entryCount() int {
	n := 0
	for _, entries := range idx {
		n += len(entries)
	}
	return n
}

// loadIndex re-reads the tenant's index from disk. Every operation starts
// here; nothing is cached across calls.
func (s *Store) loadIndex(tenantID string) (ObjectIndex, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.indexPath(tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return nil, err
	}
	var idx ObjectIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("corrupt object index for tenant %s: %w", tenantID, err)
	}
	return idx, nil
}

// saveIndex persists the whole index as one unit via temp-then-rename.
func (s *Store) saveIndex(tenantID string, idx ObjectIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.indexPath(tenantID))
	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, s.indexPath(tenantID)); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
