package authgate

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/audit"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an Engine. Each Builder builds at most one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users         UserStore
	sessions      SessionStore
	verifications VerificationStore
	roles         RoleResolver
	mailer        Mailer

	auditSink AuditSink
	log       logrus.FieldLogger
	now       func() time.Time
	newID     func() string

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithUserStore sets the user backend. Required.
func (b *Builder) WithUserStore(s UserStore) *Builder {
	b.users = s
	return b
}

// WithSessionStore sets the session backend. Required.
func (b *Builder) WithSessionStore(s SessionStore) *Builder {
	b.sessions = s
	return b
}

// WithVerificationStore sets the verification backend. Required.
func (b *Builder) WithVerificationStore(s VerificationStore) *Builder {
	b.verifications = s
	return b
}

// WithRoleResolver sets the role lookup. Required.
func (b *Builder) WithRoleResolver(r RoleResolver) *Builder {
	b.roles = r
	return b
}

// WithRedis enables attempt limits. Without a client no limits apply.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the delivery channel for one-time tokens. Required unless
// OneTime.TestMode is set.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for best-effort failures. The default discards.
func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

// WithClock overrides the wall clock used for token expiry, one-time token
// expiry, TOTP steps and audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithIDGenerator overrides how user and session ids are minted.
func (b *Builder) WithIDGenerator(newID func() string) *Builder {
	b.newID = newID
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and collaborators and returns the
// Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.sessions == nil {
		return nil, errors.New("session store required")
	}
	if b.verifications == nil {
		return nil, errors.New("verification store required")
	}
	if b.roles == nil {
		return nil, errors.New("role resolver required")
	}
	if b.mailer == nil && !cfg.OneTime.TestMode {
		return nil, errors.New("mailer required unless OneTime TestMode is set")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	newID := b.newID
	if newID == nil {
		newID = defaultNewID
	}
	log := b.log
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	// -------- HASHER --------
	hasher, err := password.NewHasher(password.Config{
		HighCost:  cfg.Password.HighCost,
		LowCost:   cfg.Password.LowCost,
		Algorithm: cfg.Password.Algorithm,
		Argon2: password.Argon2Config{
			Memory:      cfg.Password.Argon2.Memory,
			Time:        cfg.Password.Argon2.Time,
			Parallelism: cfg.Password.Argon2.Parallelism,
			SaltLength:  cfg.Password.Argon2.SaltLength,
			KeyLength:   cfg.Password.Argon2.KeyLength,
		},
		MaxConcurrent: cfg.Password.MaxConcurrentHashes,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKEN CODEC --------
	codecCfg := jwt.Config{
		Method:     jwt.SigningMethod(cfg.Token.SigningMethod),
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Issuer:     cfg.Token.Issuer,
		Leeway:     cfg.Token.Leeway,
		Now:        now,
	}
	if codecCfg.Method == jwt.MethodEd25519 {
		codecCfg.Access = jwt.Key{PrivateKey: cloneBytes(cfg.Token.AccessKey)}
		codecCfg.Refresh = jwt.Key{PrivateKey: cloneBytes(cfg.Token.RefreshKey)}
	} else {
		codecCfg.Access = jwt.Key{Secret: cloneBytes(cfg.Token.AccessKey)}
		codecCfg.Refresh = jwt.Key{Secret: cloneBytes(cfg.Token.RefreshKey)}
	}
	codec, err := jwt.NewCodec(codecCfg)
	if err != nil {
		return nil, err
	}

	// -------- DUMMY DIGEST --------
	filler, err := internal.NewOneTimeToken(internal.OneTimeTokenLength)
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(context.Background(), filler, password.TierHigh)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:        cfg,
		users:         b.users,
		sessions:      b.sessions,
		verifications: b.verifications,
		roles:         b.roles,
		mailer:        b.mailer,
		hasher:        hasher,
		codec:         codec,
		dummyDigest:   dummy,
		log:           log,
		now:           now,
		newID:         newID,
	}

	engine.limiter = rate.New(b.redis, rate.Config{
		KeySpace: cfg.RateLimit.KeySpace,
		Rules: map[rate.Scope]rate.Rule{
			rate.ScopeSignIn:   {MaxAttempts: cfg.RateLimit.SignInMaxAttempts, Window: cfg.RateLimit.SignInWindow},
			rate.ScopeSignInIP: ipRule(cfg.RateLimit),
			rate.ScopeReset:    {MaxAttempts: cfg.RateLimit.IssueMaxAttempts, Window: cfg.RateLimit.IssueWindow},
			rate.ScopeVerify:   {MaxAttempts: cfg.RateLimit.IssueMaxAttempts, Window: cfg.RateLimit.IssueWindow},
			rate.ScopeOTP:      {MaxAttempts: cfg.RateLimit.OTPMaxAttempts, Window: cfg.RateLimit.OTPWindow},
		},
	})
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Now:        now,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TOTP)

	b.built = true

	return engine, nil
}

// ipRule is the per-IP sign-in budget: four times the per-user budget.
func ipRule(cfg RateLimitConfig) rate.Rule {
	if !cfg.EnableIPThrottle {
		return rate.Rule{}
	}
	return rate.Rule{MaxAttempts: cfg.SignInMaxAttempts * 4, Window: cfg.SignInWindow}
}
