package casevault

import (
	"context"
	"fmt"
)

// GetObject retrieves and decrypts one object. The decryption key is
// resolved by the envelope's own key id rather than the tenant's active key,
// so reads work both for not-yet-rotated objects after a rotation and for
// already-rotated objects during one.
//
// Before any decryption, the envelope's recorded identity must match the
// request coordinates; a mismatch is treated as tampering even when the
// authentication tag would verify against self-consistent associated data.
func (s *Store) GetObject(ctx context.Context, tenantID, typ, id string) ([]byte, error) {
	if !validObjectType(typ) {
		return nil, fmt.Errorf("unknown object type %q", typ)
	}
	if err := validateObjectID(id); err != nil {
		return nil, err
	}

	idx, err := s.loadIndex(tenantID)
	if err != nil {
		return nil, err
	}

	entry, ok := idx.lookup(typ, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, typ, id)
	}

	env, err := loadEnvelope(s.objectAbsPath(tenantID, entry.RelativePath))
	if err != nil {
		return nil, err
	}

	if env.AAD.TenantID != tenantID || env.AAD.ID != id {
		return nil, &AADMismatchError{
			TenantID:   tenantID,
			ObjectType: typ,
			ObjectID:   id,
			Detail: fmt.Sprintf("envelope records tenant %q, id %q",
				env.AAD.TenantID, env.AAD.ID),
		}
	}
	if env.AAD.Type != typ {
		return nil, &AADMismatchError{
			TenantID:   tenantID,
			ObjectType: typ,
			ObjectID:   id,
			Detail:     fmt.Sprintf("envelope records type %q", env.AAD.Type),
		}
	}

	key, err := s.keys.GetKey(ctx, tenantID, env.KeyID)
	if err != nil {
		return nil, fmt.Errorf("resolve key %s: %w", env.KeyID, err)
	}
	defer SecureZero(key)

	plaintext, err := s.engine.Decrypt(env, key)
	if err != nil {
		return nil, &DecryptionError{ObjectType: typ, ObjectID: id, Err: err}
	}
	return plaintext, nil
}
