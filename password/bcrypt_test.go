package password

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.HighCost = bcrypt.MinCost + 1
	cfg.LowCost = bcrypt.MinCost
	return cfg
}

func newTestHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	return h
}

func TestHasherRoundTrip(t *testing.T) {
	h := newTestHasher(t, fastConfig())
	ctx := context.Background()

	for _, tier := range []Tier{TierHigh, TierLow} {
		digest, err := h.Hash(ctx, "12345678", tier)
		if err != nil {
			t.Fatalf("Hash(tier=%d) error: %v", tier, err)
		}
		ok, err := h.Compare(ctx, "12345678", digest)
		if err != nil || !ok {
			t.Fatalf("Compare(tier=%d) ok=%v err=%v", tier, ok, err)
		}
		ok, err = h.Compare(ctx, "12345679", digest)
		if err != nil || ok {
			t.Fatalf("Compare wrong secret (tier=%d) ok=%v err=%v", tier, ok, err)
		}
	}
}

func TestHasherTierCosts(t *testing.T) {
	cfg := fastConfig()
	h := newTestHasher(t, cfg)
	ctx := context.Background()

	high, _ := h.Hash(ctx, "secret", TierHigh)
	low, _ := h.Hash(ctx, "secret", TierLow)

	if c, _ := bcrypt.Cost([]byte(high)); c != cfg.HighCost {
		t.Fatalf("high tier cost = %d, want %d", c, cfg.HighCost)
	}
	if c, _ := bcrypt.Cost([]byte(low)); c != cfg.LowCost {
		t.Fatalf("low tier cost = %d, want %d", c, cfg.LowCost)
	}
}

func TestHasherLongSecretNotTruncated(t *testing.T) {
	h := newTestHasher(t, fastConfig())
	ctx := context.Background()

	// Two secrets sharing their first 72 bytes, like two tokens with the
	// same header.
	prefix := strings.Repeat("x", 100)
	digest, err := h.Hash(ctx, prefix+"a", TierLow)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	ok, err := h.Compare(ctx, prefix+"b", digest)
	if err != nil {
		t.Fatalf("Compare error: %v", err)
	}
	if ok {
		t.Fatal("secrets differing after byte 72 must not match")
	}
}

func TestHasherSaltIsFresh(t *testing.T) {
	h := newTestHasher(t, fastConfig())
	ctx := context.Background()

	a, _ := h.Hash(ctx, "same", TierHigh)
	b, _ := h.Hash(ctx, "same", TierHigh)
	if a == b {
		t.Fatal("expected distinct digests for the same secret")
	}
	if Salt(a) == Salt(b) {
		t.Fatal("expected distinct salts")
	}
	if !strings.HasPrefix(a, Salt(a)) || len(Salt(a)) != bcryptSaltLen {
		t.Fatalf("unexpected salt %q for digest %q", Salt(a), a)
	}
}

func TestSaltArgon2(t *testing.T) {
	a, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	digest, _ := a.Hash("secret")
	salt := Salt(digest)
	if salt == "" || !strings.Contains(digest, "$"+salt+"$") {
		t.Fatalf("Salt(%q) = %q", digest, salt)
	}
	if Salt("garbage") != "" {
		t.Fatal("expected empty salt for unknown format")
	}
}

func TestHasherArgon2HighTier(t *testing.T) {
	cfg := fastConfig()
	cfg.Algorithm = AlgorithmArgon2id
	cfg.Argon2 = secureConfig()
	h := newTestHasher(t, cfg)
	ctx := context.Background()

	digest, err := h.Hash(ctx, "password1", TierHigh)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$") {
		t.Fatalf("expected argon2id digest, got %q", digest)
	}
	ok, err := h.Compare(ctx, "password1", digest)
	if err != nil || !ok {
		t.Fatalf("Compare ok=%v err=%v", ok, err)
	}

	low, _ := h.Hash(ctx, "token", TierLow)
	if !isBcrypt(low) {
		t.Fatalf("low tier must stay bcrypt, got %q", low)
	}
}

func TestCompareAcrossAlgorithms(t *testing.T) {
	bc := newTestHasher(t, fastConfig())
	cfg := fastConfig()
	cfg.Algorithm = AlgorithmArgon2id
	cfg.Argon2 = secureConfig()
	ar := newTestHasher(t, cfg)
	ctx := context.Background()

	bDigest, _ := bc.Hash(ctx, "password1", TierHigh)
	aDigest, _ := ar.Hash(ctx, "password1", TierHigh)

	if ok, err := ar.Compare(ctx, "password1", bDigest); err != nil || !ok {
		t.Fatalf("argon2 hasher failed on bcrypt digest: ok=%v err=%v", ok, err)
	}
	if ok, err := bc.Compare(ctx, "password1", aDigest); err != nil || !ok {
		t.Fatalf("bcrypt hasher failed on argon2 digest: ok=%v err=%v", ok, err)
	}
	if !ar.NeedsRehash(bDigest) {
		t.Fatal("expected bcrypt digest to need rehash under argon2id")
	}
	if !bc.NeedsRehash(aDigest) {
		t.Fatal("expected argon2 digest to need rehash under bcrypt")
	}
}

func TestNeedsRehashCost(t *testing.T) {
	cfg := fastConfig()
	h := newTestHasher(t, cfg)
	ctx := context.Background()

	current, _ := h.Hash(ctx, "pw", TierHigh)
	if h.NeedsRehash(current) {
		t.Fatal("digest at current cost should not need rehash")
	}
	weak, _ := h.Hash(ctx, "pw", TierLow)
	if !h.NeedsRehash(weak) {
		t.Fatal("digest below high cost should need rehash")
	}
}

func TestCompareMalformedDigest(t *testing.T) {
	h := newTestHasher(t, fastConfig())
	if _, err := h.Compare(context.Background(), "x", "plaintext"); !errors.Is(err, ErrMalformedDigest) {
		t.Fatalf("expected ErrMalformedDigest, got %v", err)
	}
}

func TestNewHasherValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"high cost too low":  func(c *Config) { c.HighCost = 1 },
		"low above high":     func(c *Config) { c.LowCost = c.HighCost + 1 },
		"negative pool":      func(c *Config) { c.MaxConcurrent = -1 },
		"unknown algorithm":  func(c *Config) { c.Algorithm = "md5" },
		"weak argon2 params": func(c *Config) { c.Algorithm = AlgorithmArgon2id; c.Argon2.Memory = 1 },
	}
	for name, mutate := range cases {
		cfg := fastConfig()
		mutate(&cfg)
		if _, err := NewHasher(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var (
		running int32
		peak    int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestPoolHonoursContext(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func() error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	called := false
	err := p.Do(ctx, func() error { called = true; return nil })
	close(release)
	if err == nil || called {
		t.Fatalf("expected context error without running fn, err=%v called=%v", err, called)
	}
}
