package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	l := NewTenantLocker()
	ctx := context.Background()

	token, err := l.Acquire(ctx, "acme", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !l.IsLocked("acme") {
		t.Error("lock not reported held")
	}

	if _, err := l.Acquire(ctx, "acme", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Errorf("second Acquire: %v, want ErrLockHeld", err)
	}

	// Other tenants are unaffected.
	other, err := l.Acquire(ctx, "beta", time.Minute)
	if err != nil {
		t.Fatalf("Acquire beta: %v", err)
	}
	if err := l.Release("beta", other); err != nil {
		t.Fatalf("Release beta: %v", err)
	}

	if err := l.Release("acme", token); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if l.IsLocked("acme") {
		t.Error("lock still reported held after release")
	}

	if _, err := l.Acquire(ctx, "acme", time.Minute); err != nil {
		t.Errorf("reacquire after release: %v", err)
	}
}

func TestReleaseRequiresToken(t *testing.T) {
	l := NewTenantLocker()
	token, err := l.Acquire(context.Background(), "acme", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := l.Release("acme", "wrong-token"); !errors.Is(err, ErrNotHolder) {
		t.Errorf("Release with wrong token: %v, want ErrNotHolder", err)
	}
	if err := l.Release("ghost", token); !errors.Is(err, ErrNotHolder) {
		t.Errorf("Release of unheld tenant: %v, want ErrNotHolder", err)
	}
	if err := l.Release("acme", token); err != nil {
		t.Errorf("Release with correct token: %v", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	l := NewTenantLocker()
	ctx := context.Background()

	if _, err := l.Acquire(ctx, "acme", 10*time.Millisecond); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if l.IsLocked("acme") {
		t.Error("expired lock reported held")
	}
	if _, err := l.Acquire(ctx, "acme", time.Minute); err != nil {
		t.Errorf("Acquire after expiry: %v", err)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := NewTenantLocker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Acquire(ctx, "acme", time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire with canceled context: %v", err)
	}
}
