package casevault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IngestResult summarizes one completed bundle ingest.
type IngestResult struct {
	PackID     string    `json:"packId"`
	TenantID   string    `json:"tenantId"`
	FileCount  int       `json:"fileCount"`
	IngestedAt time.Time `json:"ingestedAt"`
}

// IngestCasePack ingests a case bundle for a tenant in three phases:
// verify every manifest-declared hash against bytes on disk (any mismatch
// aborts with *PackIntegrityError before a single write), then encrypt and
// persist each entity in group order under the tenant's active key, then
// commit the updated index as one unit and append one ingest-log entry.
//
// A failure during the persistence phase can leave ciphertext files on disk
// that the persisted index does not reference; the next verification pass
// reports them as extra files. Callers must not run concurrent mutations on
// the same tenant.
func (s *Store) IngestCasePack(ctx context.Context, packPath, tenantID string) (*IngestResult, error) {
	manifest, err := LoadPackManifest(packPath)
	if err != nil {
		return nil, err
	}

	log := s.log.WithField("tenant", tenantID).WithField("pack", manifest.PackID)

	// Phase 1: verification runs to completion before any encryption or
	// write begins.
	if err := verifyPack(packPath, manifest); err != nil {
		log.WithError(err).Warn("case pack failed integrity verification")
		return nil, err
	}

	idx, err := s.loadIndex(tenantID)
	if err != nil {
		return nil, err
	}

	keyID, key, err := s.keys.GetActiveKey(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve active key: %w", err)
	}
	defer SecureZero(key)

	// Phase 2: encrypt and persist in group order.
	now := time.Now().UTC()
	for _, group := range manifest.groups() {
		for _, entry := range group.entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			plaintext, err := os.ReadFile(filepath.Join(packPath, entry.Path))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", entry.Path, err)
			}

			aad := AssociatedData{
				TenantID: tenantID,
				Type:     group.objectType,
				ID:       entry.ID,
				PackID:   manifest.PackID,
			}
			env, err := s.engine.Encrypt(plaintext, key, keyID, aad)
			if err != nil {
				return nil, fmt.Errorf("encrypt %s/%s: %w", group.objectType, entry.ID, err)
			}

			relPath := objectRelPath(group.objectType, entry.ID)
			if err := writeEnvelope(s.objectAbsPath(tenantID, relPath), env); err != nil {
				return nil, fmt.Errorf("persist %s/%s: %w", group.objectType, entry.ID, err)
			}

			idx.put(group.objectType, entry.ID, IndexEntry{
				RelativePath:  relPath,
				PlaintextSize: int64(len(plaintext)),
				LastModified:  now,
				DeclaredHash:  entry.Hash,
			})
		}
	}

	// Phase 3: commit.
	if err := s.saveIndex(tenantID, idx); err != nil {
		return nil, fmt.Errorf("persist object index: %w", err)
	}

	fileCount := manifest.FileCount()
	if err := s.appendIngestEntry(tenantID, IngestLogEntry{
		Event:     auditEventIngest,
		PackID:    manifest.PackID,
		FileCount: fileCount,
		KeyID:     keyID,
		Status:    auditStatusComplete,
	}); err != nil {
		log.WithError(err).Warn("ingest-log append failed")
	}

	log.WithField("files", fileCount).Info("case pack ingested")
	return &IngestResult{
		PackID:     manifest.PackID,
		TenantID:   tenantID,
		FileCount:  fileCount,
		IngestedAt: now,
	}, nil
}
