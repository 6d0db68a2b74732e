package casevault

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TamperEventKind classifies a verification discrepancy.
type TamperEventKind string

const (
	TamperMissingFile       TamperEventKind = "missing_file"
	TamperIntegrityFailure  TamperEventKind = "integrity_failure"
	TamperDecryptionFailure TamperEventKind = "decryption_failure"
	TamperExtraFile         TamperEventKind = "extra_file"
)

// TamperEvent records one discrepancy between expected and observed store
// state. Events are produced only by verification passes and are immutable.
type TamperEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	Kind       TamperEventKind `json:"kind"`
	ObjectID   string          `json:"objectId"`
	ObjectType string          `json:"objectType"`
	Details    string          `json:"details"`
	Severity   string          `json:"severity"`
}

// VerifyReport is the outcome of a full-tenant integrity scan.
type VerifyReport struct {
	TenantID     string        `json:"tenantId"`
	Valid        bool          `json:"valid"`
	CheckedCount int           `json:"checkedCount"`
	Errors       []TamperEvent `json:"errors"`
}

// VerifyStoreIntegrity runs a fail-soft check over every index entry and
// then independently walks the physical object tree. Each object passes
// through four stages — existence, parseability, cryptographic integrity,
// associated-data consistency — and a failure short-circuits only that
// object's remaining stages. Every event is appended to the tamper-events
// audit log best-effort; an audit write failure never aborts the scan.
// CheckedCount counts indexed entries only; Valid is true iff zero events
// were produced across both passes.
func (s *Store) VerifyStoreIntegrity(ctx context.Context, tenantID string) (*VerifyReport, error) {
	idx, err := s.loadIndex(tenantID)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{TenantID: tenantID, Errors: []TamperEvent{}}

	emit := func(kind TamperEventKind, typ, id, severity, details string) {
		event := TamperEvent{
			Timestamp:  time.Now().UTC(),
			Kind:       kind,
			ObjectID:   id,
			ObjectType: typ,
			Details:    details,
			Severity:   severity,
		}
		report.Errors = append(report.Errors, event)
		if err := s.appendTamperEvent(tenantID, event); err != nil {
			s.log.WithField("tenant", tenantID).WithError(err).Warn("tamper-event append failed")
		}
	}

	for _, typ := range objectTypes {
		for _, id := range idx.sortedIDs(typ) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			report.CheckedCount++
			entry := idx[typ][id]
			absPath := s.objectAbsPath(tenantID, entry.RelativePath)

			// Stage 1: existence.
			if _, err := os.Stat(absPath); err != nil {
				emit(TamperMissingFile, typ, id, "critical",
					fmt.Sprintf("ciphertext missing at %s", entry.RelativePath))
				continue
			}

			// Stage 2: parseability.
			env, err := loadEnvelope(absPath)
			if err != nil {
				emit(TamperIntegrityFailure, typ, id, "high",
					fmt.Sprintf("envelope unreadable: %v", err))
				continue
			}

			// Stage 3: cryptographic integrity.
			key, err := s.keys.GetKey(ctx, tenantID, env.KeyID)
			if err != nil {
				emit(TamperDecryptionFailure, typ, id, "critical",
					fmt.Sprintf("key %s unresolvable: %v", env.KeyID, err))
				continue
			}
			_, decErr := s.engine.Decrypt(env, key)
			SecureZero(key)
			if decErr != nil {
				emit(TamperDecryptionFailure, typ, id, "critical",
					fmt.Sprintf("authenticated decryption failed: %v", decErr))
				continue
			}

			// Stage 4: associated-data consistency with the index
			// coordinates used to reach this envelope.
			if env.AAD.TenantID != tenantID || env.AAD.ID != id || env.AAD.Type != typ {
				emit(TamperIntegrityFailure, typ, id, "high",
					fmt.Sprintf("identity mismatch: envelope records %s/%s/%s",
						env.AAD.TenantID, env.AAD.Type, env.AAD.ID))
			}
		}
	}

	// Independent physical pass: any file the index does not reference is
	// evidence of writes that bypassed ingest and rotation.
	for _, relPath := range s.untrackedFiles(tenantID, idx.relativePaths()) {
		emit(TamperExtraFile, "", "", "medium",
			fmt.Sprintf("untracked file %s in objects tree", relPath))
	}

	report.Valid = len(report.Errors) == 0
	s.log.WithField("tenant", tenantID).
		WithField("checked", report.CheckedCount).
		WithField("events", len(report.Errors)).
		Info("integrity scan finished")
	return report, nil
}

// untrackedFiles walks the tenant's physical objects tree and returns the
// slash-separated paths of files absent from the indexed set, sorted.
func (s *Store) untrackedFiles(tenantID string, indexed map[string]struct{}) []string {
	root := s.objectsPath(tenantID)
	var extras []string

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(filepath.Base(rel), ".") {
			// In-flight temp files from atomic writes are not tampering.
			return nil
		}
		if _, ok := indexed[rel]; !ok {
			extras = append(extras, rel)
		}
		return nil
	})

	sort.Strings(extras)
	return extras
}
