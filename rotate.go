package casevault

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// RotationResult summarizes one rotation sweep.
type RotationResult struct {
	TenantID  string    `json:"tenantId"`
	NewKeyID  string    `json:"newKeyId"`
	Rotated   int       `json:"rotated"`
	Skipped   int       `json:"skipped"`
	RotatedAt time.Time `json:"rotatedAt"`
}

// RotateKeys re-encrypts every indexed object under a freshly provisioned
// active key. Rotation is per-object, not a tenant-wide transaction: each
// envelope is decrypted with the key its own key id resolves to and
// rewritten atomically, so an error or crash partway leaves a mix of old-
// and new-key objects that all remain readable and verifiable. Re-running
// converges, since objects already sealed under the active key are skipped.
//
// Per-object failures do not abort the sweep; they are accumulated and
// returned alongside the result. Callers must not run concurrent mutations
// on the same tenant.
func (s *Store) RotateKeys(ctx context.Context, tenantID string) (*RotationResult, error) {
	idx, err := s.loadIndex(tenantID)
	if err != nil {
		return nil, err
	}

	newKeyID, err := s.keys.RotateKey(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rotate tenant key: %w", err)
	}
	newKey, err := s.keys.GetKey(ctx, tenantID, newKeyID)
	if err != nil {
		return nil, fmt.Errorf("resolve new key %s: %w", newKeyID, err)
	}
	defer SecureZero(newKey)

	rotatedAt := time.Now().UTC()
	result := &RotationResult{TenantID: tenantID, NewKeyID: newKeyID, RotatedAt: rotatedAt}
	log := s.log.WithField("tenant", tenantID).WithField("key", newKeyID)

	var merr *multierror.Error
	for _, typ := range objectTypes {
		for _, id := range idx.sortedIDs(typ) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := s.rotateObject(ctx, tenantID, typ, id, idx, newKeyID, newKey, rotatedAt, result); err != nil {
				log.WithError(err).WithField("object", typ+"/"+id).Warn("object rotation failed")
				merr = multierror.Append(merr, fmt.Errorf("%s/%s: %w", typ, id, err))
			}
		}
	}

	if err := s.saveIndex(tenantID, idx); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("persist object index: %w", err))
	}

	if err := s.appendIngestEntry(tenantID, IngestLogEntry{
		Event:     auditEventRotation,
		KeyID:     newKeyID,
		FileCount: result.Rotated,
		Status:    rotationStatus(merr),
	}); err != nil {
		log.WithError(err).Warn("ingest-log append failed")
	}

	log.WithField("rotated", result.Rotated).
		WithField("skipped", result.Skipped).
		Info("key rotation finished")
	return result, merr.ErrorOrNil()
}

// rotateObject re-encrypts one object under the new key, honoring whatever
// historical key its envelope references.
func (s *Store) rotateObject(ctx context.Context, tenantID, typ, id string, idx ObjectIndex,
	newKeyID string, newKey []byte, rotatedAt time.Time, result *RotationResult) error {

	entry := idx[typ][id]
	absPath := s.objectAbsPath(tenantID, entry.RelativePath)

	env, err := loadEnvelope(absPath)
	if err != nil {
		return err
	}
	if env.KeyID == newKeyID {
		result.Skipped++
		return nil
	}

	oldKey, err := s.keys.GetKey(ctx, tenantID, env.KeyID)
	if err != nil {
		return fmt.Errorf("resolve key %s: %w", env.KeyID, err)
	}
	plaintext, err := s.engine.Decrypt(env, oldKey)
	SecureZero(oldKey)
	if err != nil {
		return err
	}

	newEnv, err := s.engine.Encrypt(plaintext, newKey, newKeyID, AssociatedData{
		TenantID:  tenantID,
		Type:      typ,
		ID:        id,
		RotatedAt: rotatedAt.Format(time.RFC3339Nano),
	})
	SecureZero(plaintext)
	if err != nil {
		return err
	}

	if err := writeEnvelope(absPath, newEnv); err != nil {
		return err
	}

	entry.LastModified = rotatedAt
	idx.put(typ, id, entry)
	result.Rotated++
	return nil
}

func rotationStatus(merr *multierror.Error) string {
	if merr.ErrorOrNil() != nil {
		return "partial"
	}
	return auditStatusComplete
}
