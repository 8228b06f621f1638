package password

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Tier selects the cost of a digest. Passwords use TierHigh; session tokens,
// which are verified on every refresh, use TierLow.
type Tier uint8

const (
	TierHigh Tier = iota
	TierLow
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"

	// bcryptSaltLen is the "$2a$NN$" prefix plus the 22 character salt.
	bcryptSaltLen = 29
)

var (
	// ErrMalformedDigest is returned by Compare for a digest in no known format.
	ErrMalformedDigest = errors.New("malformed digest")
)

// Config configures a Hasher.
type Config struct {
	// HighCost and LowCost are bcrypt cost factors.
	HighCost int
	LowCost  int
	// Algorithm picks the high tier implementation: bcrypt or argon2id.
	Algorithm string
	Argon2    Argon2Config
	// MaxConcurrent bounds parallel hash work. Zero means unbounded.
	MaxConcurrent int
}

// DefaultConfig returns bcrypt cost 10 for passwords and the bcrypt minimum
// for tokens.
func DefaultConfig() Config {
	return Config{
		HighCost:  10,
		LowCost:   bcrypt.MinCost,
		Algorithm: AlgorithmBcrypt,
		Argon2: Argon2Config{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		MaxConcurrent: 0,
	}
}

// Hasher produces salted one-way digests. Bcrypt input is the hex SHA-256 of
// the secret, so secrets longer than 72 bytes (signed tokens) are never
// truncated.
type Hasher struct {
	cfg    Config
	argon2 *Argon2
	pool   *Pool
}

// NewHasher validates cfg and builds a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.HighCost < bcrypt.MinCost || cfg.HighCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt high cost must be in [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.LowCost < bcrypt.MinCost || cfg.LowCost > cfg.HighCost {
		return nil, fmt.Errorf("bcrypt low cost must be in [%d,%d]", bcrypt.MinCost, cfg.HighCost)
	}
	if cfg.MaxConcurrent < 0 {
		return nil, errors.New("max concurrent hashes must be >= 0")
	}

	h := &Hasher{cfg: cfg, pool: NewPool(cfg.MaxConcurrent)}
	switch cfg.Algorithm {
	case "", AlgorithmBcrypt:
		h.cfg.Algorithm = AlgorithmBcrypt
	case AlgorithmArgon2id:
		a, err := NewArgon2(cfg.Argon2)
		if err != nil {
			return nil, err
		}
		h.argon2 = a
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}
	return h, nil
}

// Hash digests secret at tier.
func (h *Hasher) Hash(ctx context.Context, secret string, tier Tier) (string, error) {
	var digest string
	err := h.pool.Do(ctx, func() error {
		var err error
		if tier == TierHigh && h.argon2 != nil {
			digest, err = h.argon2.Hash(secret)
			return err
		}
		cost := h.cfg.HighCost
		if tier == TierLow {
			cost = h.cfg.LowCost
		}
		raw, err := bcrypt.GenerateFromPassword(prehash(secret), cost)
		if err != nil {
			return err
		}
		digest = string(raw)
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

// Compare reports whether secret produced digest. The algorithm is taken
// from the digest itself, so digests written under an earlier configuration
// still verify. A mismatch is (false, nil).
func (h *Hasher) Compare(ctx context.Context, secret, digest string) (bool, error) {
	var ok bool
	err := h.pool.Do(ctx, func() error {
		switch {
		case strings.HasPrefix(digest, "$"+algorithmID+"$"):
			var err error
			ok, err = verifyArgon2(h.argon2, secret, digest)
			return err
		case isBcrypt(digest):
			err := bcrypt.CompareHashAndPassword([]byte(digest), prehash(secret))
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return nil
			}
			if err != nil {
				return err
			}
			ok = true
			return nil
		default:
			return ErrMalformedDigest
		}
	})
	return ok, err
}

// NeedsRehash reports whether a password digest was produced by a different
// algorithm or at a lower cost than the current high tier.
func (h *Hasher) NeedsRehash(digest string) bool {
	if h.argon2 != nil {
		if !strings.HasPrefix(digest, "$"+algorithmID+"$") {
			return true
		}
		upgrade, err := h.argon2.NeedsUpgrade(digest)
		return err != nil || upgrade
	}
	if !isBcrypt(digest) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(digest))
	return err != nil || cost < h.cfg.HighCost
}

// Salt returns the salt segment embedded in digest, or "" for an
// unrecognised format.
func Salt(digest string) string {
	if isBcrypt(digest) && len(digest) >= bcryptSaltLen {
		return digest[:bcryptSaltLen]
	}
	if strings.HasPrefix(digest, "$"+algorithmID+"$") {
		parts := strings.Split(digest, "$")
		if len(parts) == 6 {
			return parts[4]
		}
	}
	return ""
}

func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

// verifyArgon2 checks a PHC digest even when the hasher is configured for
// bcrypt; parameters come from the digest.
func verifyArgon2(a *Argon2, secret, digest string) (bool, error) {
	if a == nil {
		a = &Argon2{}
	}
	return a.Verify(secret, digest)
}
