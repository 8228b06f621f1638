package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, rules map[Scope]Rule) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Config{Rules: rules}), mr
}

func TestIncrementBlocksAfterBudget(t *testing.T) {
	l, _ := newTestLimiter(t, map[Scope]Rule{ScopeSignIn: {MaxAttempts: 3, Window: time.Minute}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Increment(ctx, ScopeSignIn, "alice"); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i+1, err)
		}
	}
	if err := l.Check(ctx, ScopeSignIn, "alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Check after budget: expected ErrRateLimited, got %v", err)
	}
	if err := l.Increment(ctx, ScopeSignIn, "alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th Increment: expected ErrRateLimited, got %v", err)
	}
	if err := l.Check(ctx, ScopeSignIn, "bob"); err != nil {
		t.Fatalf("other subject must not be limited: %v", err)
	}
}

func TestWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, map[Scope]Rule{ScopeOTP: {MaxAttempts: 1, Window: time.Minute}})
	ctx := context.Background()

	_ = l.Increment(ctx, ScopeOTP, "u1")
	if err := l.Check(ctx, ScopeOTP, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}

	mr.FastForward(61 * time.Second)
	if err := l.Check(ctx, ScopeOTP, "u1"); err != nil {
		t.Fatalf("expected window to reset, got %v", err)
	}
}

func TestTTLSetOnFirstHitOnly(t *testing.T) {
	l, mr := newTestLimiter(t, map[Scope]Rule{ScopeReset: {MaxAttempts: 10, Window: time.Minute}})
	ctx := context.Background()

	_ = l.Increment(ctx, ScopeReset, "a@b.c")
	mr.FastForward(30 * time.Second)
	_ = l.Increment(ctx, ScopeReset, "a@b.c")

	ttl := mr.TTL(l.key(ScopeReset, "a@b.c"))
	if ttl > 30*time.Second {
		t.Fatalf("TTL extended by second hit: %v", ttl)
	}
}

func TestResetClearsCounter(t *testing.T) {
	l, _ := newTestLimiter(t, map[Scope]Rule{ScopeSignIn: {MaxAttempts: 2, Window: time.Minute}})
	ctx := context.Background()

	_ = l.Increment(ctx, ScopeSignIn, "alice")
	if n, _ := l.Attempts(ctx, ScopeSignIn, "alice"); n != 1 {
		t.Fatalf("Attempts = %d, want 1", n)
	}
	if err := l.Reset(ctx, ScopeSignIn, "alice"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if n, _ := l.Attempts(ctx, ScopeSignIn, "alice"); n != 0 {
		t.Fatalf("Attempts after reset = %d, want 0", n)
	}
}

func TestDisabledScopes(t *testing.T) {
	l, _ := newTestLimiter(t, map[Scope]Rule{ScopeVerify: {MaxAttempts: 0, Window: time.Minute}})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := l.Increment(ctx, ScopeVerify, "x"); err != nil {
			t.Fatalf("disabled scope limited: %v", err)
		}
		if err := l.Increment(ctx, ScopeSignIn, "x"); err != nil {
			t.Fatalf("unconfigured scope limited: %v", err)
		}
	}

	var nilLimiter *Limiter
	if nilLimiter.Enabled(ScopeSignIn) {
		t.Fatal("nil limiter must be disabled")
	}
	noRedis := New(nil, Config{Rules: map[Scope]Rule{ScopeSignIn: {MaxAttempts: 1, Window: time.Minute}}})
	if err := noRedis.Increment(ctx, ScopeSignIn, "x"); err != nil {
		t.Fatalf("limiter without redis must not limit: %v", err)
	}
}

func TestRedisFailureWrapped(t *testing.T) {
	l, mr := newTestLimiter(t, map[Scope]Rule{ScopeSignIn: {MaxAttempts: 2, Window: time.Minute}})
	mr.Close()

	err := l.Increment(context.Background(), ScopeSignIn, "alice")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
