package revoke

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return NewManager(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestVersionStartsAtZero(t *testing.T) {
	m, _ := newTestManager(t)

	v, err := m.Version(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected version 0 for fresh user, got %d", v)
	}
}

func TestBumpVersionMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := m.BumpVersion(ctx, "u1")
		if err != nil {
			t.Fatalf("BumpVersion failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected version %d, got %d", want, got)
		}
	}

	v, err := m.Version(ctx, "u1")
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected live version 3, got %d", v)
	}
}

func TestBlacklistLifecycle(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	const tok = "some.jwt.token"

	hit, err := m.IsBlacklisted(ctx, tok)
	if err != nil {
		t.Fatalf("IsBlacklisted failed: %v", err)
	}
	if hit {
		t.Fatal("token should not be blacklisted yet")
	}

	if err := m.Blacklist(ctx, tok, time.Minute); err != nil {
		t.Fatalf("Blacklist failed: %v", err)
	}

	hit, err = m.IsBlacklisted(ctx, tok)
	if err != nil {
		t.Fatalf("IsBlacklisted failed: %v", err)
	}
	if !hit {
		t.Fatal("token should be blacklisted")
	}

	// Entry self-expires with the token's remaining lifetime.
	mr.FastForward(2 * time.Minute)

	hit, err = m.IsBlacklisted(ctx, tok)
	if err != nil {
		t.Fatalf("IsBlacklisted failed: %v", err)
	}
	if hit {
		t.Fatal("blacklist entry should have expired")
	}
}

func TestBlacklistExpiredTokenNoOp(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Blacklist(context.Background(), "tok", 0); err != nil {
		t.Fatalf("expected no-op for non-positive TTL, got %v", err)
	}
	hit, err := m.IsBlacklisted(context.Background(), "tok")
	if err != nil || hit {
		t.Fatalf("expected token untracked, hit=%v err=%v", hit, err)
	}
}

func TestCacheFailureSurfaced(t *testing.T) {
	m, mr := newTestManager(t)
	mr.Close()

	if _, err := m.IsBlacklisted(context.Background(), "tok"); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if _, err := m.Version(context.Background(), "u1"); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
}
