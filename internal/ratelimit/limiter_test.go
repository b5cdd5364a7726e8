package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cfg), mr
}

func TestAllowWithinBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Policies: map[Scope]Policy{
		ScopeIP: {Max: 3, Window: time.Minute},
	}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, ScopeIP, "203.0.113.9")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if res.Limit != 3 {
			t.Fatalf("expected limit 3, got %d", res.Limit)
		}
		if res.Remaining != 3-(i+1) {
			t.Fatalf("expected remaining %d, got %d", 3-(i+1), res.Remaining)
		}
	}
}

func TestRejectsOverBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Policies: map[Scope]Policy{
		ScopeIP: {Max: 2, Window: time.Minute},
	}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res, _ := l.Allow(ctx, ScopeIP, "ip1"); !res.Allowed {
			t.Fatalf("request %d should pass", i+1)
		}
	}

	res, err := l.Allow(ctx, ScopeIP, "ip1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("N+1th request in the window must be rejected")
	}
	if res.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", res.Remaining)
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Fatalf("unexpected RetryAfter %v", res.RetryAfter)
	}
}

func TestNextWindowStartsFresh(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Policies: map[Scope]Policy{
		ScopeUser: {Max: 1, Window: time.Minute},
	}})
	ctx := context.Background()

	base := time.Now().Truncate(time.Minute)
	l.now = func() time.Time { return base }

	if res, _ := l.Allow(ctx, ScopeUser, "u1"); !res.Allowed {
		t.Fatal("first request should pass")
	}
	if res, _ := l.Allow(ctx, ScopeUser, "u1"); res.Allowed {
		t.Fatal("second request in same window should be rejected")
	}

	l.now = func() time.Time { return base.Add(time.Minute) }

	res, err := l.Allow(ctx, ScopeUser, "u1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("first request of the next window should pass")
	}
}

func TestFirstWriterSetsExpiry(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Policies: map[Scope]Policy{
		ScopeIP: {Max: 10, Window: time.Minute},
	}})

	base := time.Now().Truncate(time.Minute)
	l.now = func() time.Time { return base }

	if _, err := l.Allow(context.Background(), ScopeIP, "ip1"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter key, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected counter TTL within the window, got %v", ttl)
	}
}

func TestUnconfiguredScopeUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})

	for i := 0; i < 100; i++ {
		res, err := l.Allow(context.Background(), ScopeKey, "k1")
		if err != nil || !res.Allowed {
			t.Fatalf("unconfigured scope should always allow, res=%+v err=%v", res, err)
		}
	}
}

func TestZeroWindowPolicyAllows(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Policies: map[Scope]Policy{
		ScopeIP: {Max: 3, Window: 0},
	}})

	for i := 0; i < 10; i++ {
		res, err := l.Allow(context.Background(), ScopeIP, "ip1")
		if err != nil || !res.Allowed {
			t.Fatalf("windowless policy must pass every request, res=%+v err=%v", res, err)
		}
	}
}

func TestFailsOpenWhenCacheDown(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Policies: map[Scope]Policy{
		ScopeIP: {Max: 1, Window: time.Minute},
	}})
	mr.Close()

	res, err := l.Allow(context.Background(), ScopeIP, "ip1")
	if !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if !res.Allowed {
		t.Fatal("limiter must fail open when the counter store is unreachable")
	}
}
