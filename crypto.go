package casevault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the required key length for every supported cipher suite.
	KeySize = 32
	// NonceSize is the nonce length shared by both suites.
	NonceSize = 12
	// TagSize is the authentication tag length shared by both suites.
	TagSize = 16

	// VersionAESGCM seals envelopes with AES-256-GCM.
	VersionAESGCM = 1
	// VersionChaCha20 seals envelopes with ChaCha20-Poly1305.
	VersionChaCha20 = 2
)

// Engine is the envelope cryptography primitive. It holds no mutable state,
// performs no I/O, and is safe to share across concurrent callers. The
// configured version selects the suite used for sealing; decryption honors
// whatever recognized version an envelope carries.
type Engine struct {
	version int
}

// NewEngine returns an engine sealing with the given envelope version.
func NewEngine(version int) (*Engine, error) {
	if !supportedVersion(version) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return &Engine{version: version}, nil
}

// DefaultEngine seals with AES-256-GCM.
func DefaultEngine() *Engine {
	return &Engine{version: VersionAESGCM}
}

func supportedVersion(version int) bool {
	return version == VersionAESGCM || version == VersionChaCha20
}

// newAEAD resolves a cipher suite by envelope version. The key-length check
// runs before any cipher construction.
func newAEAD(version int, key []byte) (cipher.AEAD, error) {
	if !supportedVersion(version) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeyLength, KeySize, len(key))
	}

	switch version {
	case VersionAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	default:
		return chacha20poly1305.New(key)
	}
}

// Encrypt seals plaintext under key with a fresh random nonce and the
// canonical serialization of aad bound as associated data. The returned
// envelope stores the ciphertext and tag detached, along with the untouched
// associated-data record for later re-derivation.
func (e *Engine) Encrypt(plaintext, key []byte, keyID string, aad AssociatedData) (*Envelope, error) {
	aead, err := newAEAD(e.version, key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, canonicalAAD(aad))
	split := len(sealed) - TagSize

	return &Envelope{
		Version:    e.version,
		KeyID:      keyID,
		Nonce:      nonce,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
		AAD:        aad,
	}, nil
}

// Decrypt re-derives the canonical associated-data bytes from the envelope's
// stored record and performs authenticated decryption. Any single-bit
// corruption of ciphertext, tag, nonce, or associated data fails with
// ErrAuthenticationFailure; no partial output is ever returned.
func (e *Engine) Decrypt(env *Envelope, key []byte) ([]byte, error) {
	aead, err := newAEAD(env.Version, key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != NonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrAuthenticationFailure, len(env.Nonce))
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := aead.Open(nil, env.Nonce, sealed, canonicalAAD(env.AAD))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailure, err)
	}
	return plaintext, nil
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// SecureZero overwrites sensitive key material in memory.
func SecureZero(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
