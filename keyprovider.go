package casevault

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// KeyProvider is the capability interface through which the store consumes
// key material. Implementations must resolve historical key ids after
// rotation, not only the current active one. Key material is always exactly
// KeySize bytes; the engine rejects anything else.
type KeyProvider interface {
	// InitTenant provisions an initial key for a tenant. Idempotent.
	InitTenant(ctx context.Context, tenantID string) error
	// GetActiveKey returns the tenant's current active key id and material.
	GetActiveKey(ctx context.Context, tenantID string) (string, []byte, error)
	// GetKey resolves key material by id, including retired ids.
	GetKey(ctx context.Context, tenantID, keyID string) ([]byte, error)
	// RotateKey generates a new active key and returns its id. Previous
	// keys remain resolvable.
	RotateKey(ctx context.Context, tenantID string) (string, error)
}

// MemoryKeyProvider keeps tenant keyrings in memory. It is the test
// substitute for an external key management backend.
type MemoryKeyProvider struct {
	mu      sync.RWMutex
	tenants map[string]*memoryKeyring
}

type memoryKeyring struct {
	active string
	keys   map[string][]byte
}

// NewMemoryKeyProvider creates an empty in-memory key provider.
func NewMemoryKeyProvider() *MemoryKeyProvider {
	return &MemoryKeyProvider{tenants: make(map[string]*memoryKeyring)}
}

func (p *MemoryKeyProvider) InitTenant(ctx context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tenants[tenantID]; ok {
		return nil
	}

	key, err := GenerateKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}
	keyID := uuid.NewString()
	p.tenants[tenantID] = &memoryKeyring{
		active: keyID,
		keys:   map[string][]byte{keyID: key},
	}
	return nil
}

func (p *MemoryKeyProvider) GetActiveKey(ctx context.Context, tenantID string) (string, []byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ring, ok := p.tenants[tenantID]
	if !ok {
		return "", nil, fmt.Errorf("%w: no keyring for tenant %s", ErrKeyProvider, tenantID)
	}
	return ring.active, cloneKey(ring.keys[ring.active]), nil
}

func (p *MemoryKeyProvider) GetKey(ctx context.Context, tenantID, keyID string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ring, ok := p.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: no keyring for tenant %s", ErrKeyProvider, tenantID)
	}
	key, ok := ring.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %s for tenant %s", ErrKeyProvider, keyID, tenantID)
	}
	return cloneKey(key), nil
}

func (p *MemoryKeyProvider) RotateKey(ctx context.Context, tenantID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ring, ok := p.tenants[tenantID]
	if !ok {
		return "", fmt.Errorf("%w: no keyring for tenant %s", ErrKeyProvider, tenantID)
	}

	key, err := GenerateKey()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyProvider, err)
	}
	keyID := uuid.NewString()
	ring.keys[keyID] = key
	ring.active = keyID
	return keyID, nil
}

func cloneKey(key []byte) []byte {
	out := make([]byte, len(key))
	copy(out, key)
	return out
}
