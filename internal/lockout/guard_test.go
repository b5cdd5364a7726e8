package lockout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGuard(t *testing.T, cfg Config) (*Guard, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return NewGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cfg), mr
}

func TestCheckPassesForUnknownIdentifier(t *testing.T) {
	g, _ := newTestGuard(t, Config{})

	if err := g.Check(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("expected no lockout, got %v", err)
	}
}

func TestLockTriggersAtThreshold(t *testing.T) {
	g, _ := newTestGuard(t, Config{MaxAttempts: 3, LockDuration: 30 * time.Minute})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		locked, err := g.RecordFailure(ctx, "a@x.com")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if locked {
			t.Fatalf("failure %d should not lock", i)
		}
		if err := g.Check(ctx, "a@x.com"); err != nil {
			t.Fatalf("Check should pass below threshold, got %v", err)
		}
	}

	locked, err := g.RecordFailure(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !locked {
		t.Fatal("third failure should trigger lockout")
	}

	err = g.Check(ctx, "a@x.com")
	var le *LockedError
	if !errors.As(err, &le) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if wait := le.RetryAfter(); wait <= 29*time.Minute || wait > 30*time.Minute {
		t.Fatalf("expected ~30m remaining, got %v", wait)
	}
}

func TestLockExpires(t *testing.T) {
	g, _ := newTestGuard(t, Config{MaxAttempts: 1, LockDuration: 50 * time.Millisecond})
	ctx := context.Background()

	if locked, _ := g.RecordFailure(ctx, "a@x.com"); !locked {
		t.Fatal("first failure should lock at threshold 1")
	}
	if err := g.Check(ctx, "a@x.com"); err == nil {
		t.Fatal("expected lockout while active")
	}

	time.Sleep(60 * time.Millisecond)

	if err := g.Check(ctx, "a@x.com"); err != nil {
		t.Fatalf("lockout should have expired, got %v", err)
	}
}

func TestClearRemovesRecord(t *testing.T) {
	g, _ := newTestGuard(t, Config{MaxAttempts: 5})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.RecordFailure(ctx, "a@x.com"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	n, err := g.Attempts(ctx, "a@x.com")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 attempts, got %d err=%v", n, err)
	}

	if err := g.Clear(ctx, "a@x.com"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	n, err = g.Attempts(ctx, "a@x.com")
	if err != nil || n != 0 {
		t.Fatalf("expected counter cleared, got %d err=%v", n, err)
	}
}

func TestResetWindowExpiresCounter(t *testing.T) {
	g, mr := newTestGuard(t, Config{MaxAttempts: 5, ResetWindow: time.Hour})
	ctx := context.Background()

	if _, err := g.RecordFailure(ctx, "a@x.com"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	n, err := g.Attempts(ctx, "a@x.com")
	if err != nil || n != 0 {
		t.Fatalf("expected abandoned counter to expire, got %d err=%v", n, err)
	}
}
