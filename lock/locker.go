// Package lock provides the caller-owned serialization the store's contract
// requires: mutating operations (ingest, rotation) on one tenant must not
// overlap. The store itself imposes no locking.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLockHeld  = errors.New("tenant lock already held")
	ErrNotHolder = errors.New("lock not held by this token")
)

// Locker serializes mutating operations per tenant.
type Locker interface {
	// Acquire takes the tenant's lock for at most ttl and returns an owner
	// token. ErrLockHeld if another holder has it.
	Acquire(ctx context.Context, tenantID string, ttl time.Duration) (string, error)
	// Release frees the lock; the token must match the current holder.
	Release(tenantID, token string) error
	// IsLocked reports whether the tenant's lock is currently held.
	IsLocked(tenantID string) bool
}

type holder struct {
	token   string
	expires time.Time
}

// TenantLocker is an in-process Locker with TTL expiry. Embedding services
// share one instance across every component that mutates tenant state.
type TenantLocker struct {
	mu   sync.Mutex
	held map[string]holder
}

// NewTenantLocker creates an empty locker.
func NewTenantLocker() *TenantLocker {
	return &TenantLocker{held: make(map[string]holder)}
}

func (l *TenantLocker) Acquire(ctx context.Context, tenantID string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[tenantID]; ok && time.Now().Before(h.expires) {
		return "", ErrLockHeld
	}

	token := uuid.NewString()
	l.held[tenantID] = holder{token: token, expires: time.Now().Add(ttl)}
	return token, nil
}

func (l *TenantLocker) Release(tenantID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.held[tenantID]
	if !ok {
		return ErrNotHolder
	}
	if h.token != token {
		return ErrNotHolder
	}
	delete(l.held, tenantID)
	return nil
}

func (l *TenantLocker) IsLocked(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.held[tenantID]
	return ok && time.Now().Before(h.expires)
}
