package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authgate/internal/audit"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Engine runs the session, one-time token and second-factor state machines
// against injected stores. An Engine is built once by Builder and is safe
// for concurrent use.
type Engine struct {
	config        Config
	users         UserStore
	sessions      SessionStore
	verifications VerificationStore
	roles         RoleResolver
	mailer        Mailer

	hasher  *password.Hasher
	codec   *jwt.Codec
	limiter *rate.Limiter
	audit   *audit.Dispatcher
	metrics *Metrics
	totp    *totpManager

	// dummyDigest is compared against when a sign-in names an unknown user,
	// so both failure paths cost one password comparison.
	dummyDigest string

	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// TokenCodec exposes the codec so transports can verify bearer tokens with
// the same keys the engine signs with.
func (e *Engine) TokenCodec() *jwt.Codec {
	if e == nil {
		return nil
	}
	return e.codec
}

// Roles exposes the engine's RoleResolver.
func (e *Engine) Roles() RoleResolver {
	if e == nil {
		return nil
	}
	return e.roles
}

// Config returns a copy of the validated configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.sessions == nil || e.verifications == nil ||
		e.hasher == nil || e.codec == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) hash(ctx context.Context, secret string, tier password.Tier) (string, error) {
	start := time.Now()
	digest, err := e.hasher.Hash(ctx, secret, tier)
	e.metrics.Observe(MetricHashLatency, time.Since(start))
	return digest, err
}

func (e *Engine) compare(ctx context.Context, secret, digest string) (bool, error) {
	if digest == "" {
		return false, nil
	}
	start := time.Now()
	ok, err := e.hasher.Compare(ctx, secret, digest)
	e.metrics.Observe(MetricHashLatency, time.Since(start))
	if errors.Is(err, password.ErrMalformedDigest) {
		return false, nil
	}
	return ok, err
}

// checkLimit maps a limiter failure onto the engine taxonomy. Redis outages
// fail open with a warning; an exhausted budget is ErrRateLimited.
func (e *Engine) checkLimit(ctx context.Context, scope rate.Scope, subject string, count bool) error {
	var err error
	if count {
		err = e.limiter.Increment(ctx, scope, subject)
	} else {
		err = e.limiter.Check(ctx, scope, subject)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.emitRateLimit(ctx, string(scope), subject)
		return ErrRateLimited
	default:
		e.log.WithError(err).WithField("scope", string(scope)).Warn("rate limiter unavailable")
		return nil
	}
}

func (e *Engine) resetLimit(ctx context.Context, scope rate.Scope, subject string) {
	if err := e.limiter.Reset(ctx, scope, subject); err != nil {
		e.log.WithError(err).WithField("scope", string(scope)).Warn("rate limiter reset failed")
	}
}

func defaultNewID() string {
	return uuid.NewString()
}
