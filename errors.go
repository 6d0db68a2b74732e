package casevault

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound is returned when a requested (type, id) pair has no
	// index entry for the tenant.
	ErrObjectNotFound = errors.New("object not found")

	// ErrTenantNotFound is returned when an operation targets a tenant that
	// was never initialized.
	ErrTenantNotFound = errors.New("tenant not initialized")

	// ErrInvalidKeyLength is returned before any cipher work when key
	// material does not match the required 32-byte size.
	ErrInvalidKeyLength = errors.New("invalid key length")

	// ErrUnsupportedVersion is returned for envelope versions this engine
	// does not understand.
	ErrUnsupportedVersion = errors.New("unsupported envelope version")

	// ErrAuthenticationFailure is returned when authenticated decryption
	// rejects the ciphertext, tag, nonce, or associated data.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrKeyProvider wraps failures propagated from the key provider.
	ErrKeyProvider = errors.New("key provider error")
)

// PackIntegrityError aborts an ingest when a manifest-declared hash does not
// match the bytes on disk. No writes happen before this surfaces.
type PackIntegrityError struct {
	PackID   string
	File     string
	Declared string
	Actual   string
}

func (e *PackIntegrityError) Error() string {
	return fmt.Sprintf("pack %s integrity failure: file %s declared hash %s, actual %s",
		e.PackID, e.File, e.Declared, e.Actual)
}

// EnvelopeSchemaError is returned when an envelope file is missing, is not
// valid JSON, or does not match the envelope shape.
type EnvelopeSchemaError struct {
	Path   string
	Reason string
}

func (e *EnvelopeSchemaError) Error() string {
	return fmt.Sprintf("envelope %s: %s", e.Path, e.Reason)
}

// AADMismatchError is returned when an envelope's recorded identity does not
// match the coordinates used to reach it. It is treated as tampering even if
// the authentication tag would still verify.
type AADMismatchError struct {
	TenantID   string
	ObjectType string
	ObjectID   string
	Detail     string
}

func (e *AADMismatchError) Error() string {
	return fmt.Sprintf("associated-data mismatch for %s/%s/%s: %s",
		e.TenantID, e.ObjectType, e.ObjectID, e.Detail)
}

// DecryptionError is returned when authenticated decryption of a stored
// object fails during retrieval.
type DecryptionError struct {
	ObjectType string
	ObjectID   string
	Err        error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt %s/%s: %v", e.ObjectType, e.ObjectID, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }
