package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope names an attempt budget.
type Scope string

const (
	ScopeSignIn     Scope = "si"
	ScopeSignInIP   Scope = "sip"
	ScopeReset      Scope = "rp"
	ScopeVerify     Scope = "ve"
	ScopeOTP        Scope = "otp"
	defaultKeySpace       = "authgate:rl"
)

// Rule is the budget of one scope: at most MaxAttempts counted hits per
// Window. A rule with MaxAttempts <= 0 disables the scope.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// Config holds rate limiter tuning parameters.
type Config struct {
	KeySpace string
	Rules    map[Scope]Rule
}

// Limiter keeps fixed-window counters in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by redisClient. A nil client yields a Limiter
// that never limits.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.KeySpace == "" {
		cfg.KeySpace = defaultKeySpace
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enabled reports whether scope is limited at all.
func (l *Limiter) Enabled(scope Scope) bool {
	if l == nil || l.redis == nil {
		return false
	}
	rule, ok := l.config.Rules[scope]
	return ok && rule.MaxAttempts > 0 && rule.Window > 0
}

// Check returns ErrRateLimited when subject already exhausted its budget in
// scope. It does not count an attempt.
func (l *Limiter) Check(ctx context.Context, scope Scope, subject string) error {
	if !l.Enabled(scope) || subject == "" {
		return nil
	}

	count, err := l.redis.Get(ctx, l.key(scope, subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.Rules[scope].MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Increment counts one attempt and returns ErrRateLimited once the budget is
// exceeded.
func (l *Limiter) Increment(ctx context.Context, scope Scope, subject string) error {
	if !l.Enabled(scope) || subject == "" {
		return nil
	}

	rule := l.config.Rules[scope]
	count, err := l.incrementWithTTL(ctx, l.key(scope, subject), rule.Window)
	if err != nil {
		return err
	}
	if count > int64(rule.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter of subject in scope.
func (l *Limiter) Reset(ctx context.Context, scope Scope, subject string) error {
	if !l.Enabled(scope) || subject == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(scope, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current counter. Missing keys return zero.
func (l *Limiter) Attempts(ctx context.Context, scope Scope, subject string) (int, error) {
	if !l.Enabled(scope) {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.key(scope, subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) key(scope Scope, subject string) string {
	return l.config.KeySpace + ":" + string(scope) + ":" + subject
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set on the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
