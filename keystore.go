package casevault

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/shamir"
	"golang.org/x/crypto/argon2"
)

const (
	masterKeyFilename = "master.key"
	keyringFilename   = "keyring.json"
	masterKeyEnvVar   = "CASEVAULT_MASTER_KEY"
)

// FileKeyProvider is a file-backed KeyProvider. Each tenant keyring is a
// JSON document whose key material is sealed under a single master key, so
// the keyring files are safe to back up alongside the store.
type FileKeyProvider struct {
	dir    string
	master []byte
	engine *Engine
	mu     sync.Mutex
}

type keyringFile struct {
	TenantID string      `json:"tenantId"`
	Active   string      `json:"active"`
	Keys     []keyRecord `json:"keys"`
}

type keyRecord struct {
	KeyID     string    `json:"keyId"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"` // active | rotated
	Sealed    *Envelope `json:"sealed"`
}

// NewFileKeyProvider creates a provider storing keyrings under dir. The
// master key must be exactly KeySize bytes.
func NewFileKeyProvider(dir string, masterKey []byte) (*FileKeyProvider, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrInvalidKeyLength, KeySize, len(masterKey))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	master := make([]byte, KeySize)
	copy(master, masterKey)
	return &FileKeyProvider{dir: dir, master: master, engine: DefaultEngine()}, nil
}

func (p *FileKeyProvider) keyringPath(tenantID string) string {
	return filepath.Join(p.dir, tenantID, keyringFilename)
}

func (p *FileKeyProvider) InitTenant(ctx context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := os.Stat(p.keyringPath(tenantID)); err == nil {
		return nil
	}

	ring := &keyringFile{TenantID: tenantID}
	if err := p.addKeyLocked(ring); err != nil {
		return err
	}
	return p.saveKeyring(ring)
}

func (p *FileKeyProvider) GetActiveKey(ctx context.Context, tenantID string) (string, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ring, err := p.loadKeyring(tenantID)
	if err != nil {
		return "", nil, err
	}
	key, err := p.unsealKey(ring, ring.Active)
	if err != nil {
		return "", nil, err
	}
	return ring.Active, key, nil
}

func (p *FileKeyProvider) GetKey(ctx context.Context, tenantID, keyID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ring, err := p.loadKeyring(tenantID)
	if err != nil {
		return nil, err
	}
	return p.unsealKey(ring, keyID)
}

func (p *FileKeyProvider) RotateKey(ctx context.Context, tenantID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ring, err := p.loadKeyring(tenantID)
	if err != nil {
		return "", err
	}

	for i := range ring.Keys {
		if ring.Keys[i].Status == "active" {
			ring.Keys[i].Status = "rotated"
		}
	}
	if err := p.addKeyLocked(ring); err != nil {
		return "", err
	}
	if err := p.saveKeyring(ring); err != nil {
		return "", err
	}
	return ring.Active, nil
}

// addKeyLocked generates a fresh key, seals it under the master key, and
// makes it the ring's active key.
func (p *FileKeyProvider) addKeyLocked(ring *keyringFile) error {
	key, err := GenerateKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}
	defer SecureZero(key)

	keyID := uuid.NewString()
	sealed, err := p.engine.Encrypt(key, p.master, "master", AssociatedData{
		TenantID: ring.TenantID,
		Type:     "keyring",
		ID:       keyID,
	})
	if err != nil {
		return fmt.Errorf("%w: seal key: %v", ErrKeyProvider, err)
	}

	ring.Keys = append(ring.Keys, keyRecord{
		KeyID:     keyID,
		CreatedAt: time.Now().UTC(),
		Status:    "active",
		Sealed:    sealed,
	})
	ring.Active = keyID
	return nil
}

func (p *FileKeyProvider) unsealKey(ring *keyringFile, keyID string) ([]byte, error) {
	for _, rec := range ring.Keys {
		if rec.KeyID != keyID {
			continue
		}
		key, err := p.engine.Decrypt(rec.Sealed, p.master)
		if err != nil {
			return nil, fmt.Errorf("%w: unseal key %s: %v", ErrKeyProvider, keyID, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: unknown key id %s for tenant %s", ErrKeyProvider, keyID, ring.TenantID)
}

func (p *FileKeyProvider) loadKeyring(tenantID string) (*keyringFile, error) {
	data, err := os.ReadFile(p.keyringPath(tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no keyring for tenant %s", ErrKeyProvider, tenantID)
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}
	var ring keyringFile
	if err := json.Unmarshal(data, &ring); err != nil {
		return nil, fmt.Errorf("%w: corrupt keyring for tenant %s: %v", ErrKeyProvider, tenantID, err)
	}
	return &ring, nil
}

func (p *FileKeyProvider) saveKeyring(ring *keyringFile) error {
	dir := filepath.Join(p.dir, ring.TenantID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}

	data, err := json.MarshalIndent(ring, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}

	tmp, err := os.CreateTemp(dir, ".keyring-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}
	if err := os.Rename(tmpPath, p.keyringPath(ring.TenantID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}
	return nil
}

// EnsureMasterKey resolves the master key protecting the keyrings:
// explicit bytes win, then the CASEVAULT_MASTER_KEY environment variable,
// then an existing key file under dir, and finally a freshly generated key
// persisted for subsequent runs.
func EnsureMasterKey(dir string, explicit []byte) ([]byte, error) {
	if len(explicit) > 0 {
		if len(explicit) != KeySize {
			return nil, fmt.Errorf("%w: expected %d bytes", ErrInvalidKeyLength, KeySize)
		}
		out := make([]byte, KeySize)
		copy(out, explicit)
		return out, nil
	}

	if raw := strings.TrimSpace(os.Getenv(masterKeyEnvVar)); raw != "" {
		key, err := ParseKeyString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", masterKeyEnvVar, err)
		}
		return key, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	keyPath := filepath.Join(dir, masterKeyFilename)
	data, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := ParseKeyString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid master key file: %w", err)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	fresh, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(fresh)
	if err := os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
		return nil, err
	}
	return fresh, nil
}

// ParseKeyString accepts a 32-byte key as base64, hex, or raw bytes.
func ParseKeyString(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty key value")
	}

	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) == KeySize {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == KeySize {
		return decoded, nil
	}
	if len(value) == KeySize {
		return []byte(value), nil
	}

	return nil, fmt.Errorf("expected %d-byte key (raw/base64/hex), got %d bytes", KeySize, len(value))
}

// DeriveMasterKey derives a master key from a passphrase with Argon2id
// (RFC 9106 parameters).
func DeriveMasterKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	if len(salt) < 16 {
		return nil, errors.New("salt must be at least 16 bytes")
	}
	return argon2.IDKey(passphrase, salt, 3, 64*1024, 4, KeySize), nil
}

// SplitMasterKey splits a master key into Shamir shares for escrow.
func SplitMasterKey(key []byte, threshold, totalShares int) ([][]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes", ErrInvalidKeyLength, KeySize)
	}
	shares, err := shamir.Split(key, threshold, totalShares)
	if err != nil {
		return nil, fmt.Errorf("split master key: %w", err)
	}
	return shares, nil
}

// CombineMasterShares reconstructs a master key from Shamir shares.
func CombineMasterShares(shares [][]byte) ([]byte, error) {
	key, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("combine master shares: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: reconstructed key is %d bytes", ErrInvalidKeyLength, len(key))
	}
	return key, nil
}
