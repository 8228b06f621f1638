package authgate

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override fields; Builder.Build validates it.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	OneTime   OneTimeConfig
	TOTP      TOTPConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures access and refresh tokens. For hs256 the keys are
// shared secrets; for ed25519 they are private keys, raw or PEM.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	AccessKey     []byte
	RefreshKey    []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures credential hashing. HighCost protects passwords,
// LowCost protects session tokens.
type PasswordConfig struct {
	Algorithm           string // "bcrypt" (default) or "argon2id"
	HighCost            int
	LowCost             int
	MinLength           int
	MaxLength           int
	MaxConcurrentHashes int
	UpgradeOnSignIn     bool
	Argon2              Argon2Config
}

// Argon2Config mirrors password.Argon2Config.
type Argon2Config struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
ONE-TIME TOKEN CONFIG
====================================
*/

// OneTimeConfig configures password-reset and email-verification tokens.
type OneTimeConfig struct {
	ResetTTL    time.Duration
	VerifyTTL   time.Duration
	TokenLength int
	// BaseURL prefixes the links placed in emails.
	BaseURL string
	// TestMode skips mail delivery entirely.
	TestMode bool
	// ExposeTokens returns the plaintext token to the issuing caller. Only
	// allowed outside production.
	ExposeTokens bool
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures second-factor codes. Label, when set, replaces the
// account name in provisioning URIs.
type TOTPConfig struct {
	Issuer    string
	Label     string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig sets attempt budgets. Limits only apply when the engine
// has a Redis client; a zero MaxAttempts disables that budget.
type RateLimitConfig struct {
	KeySpace             string
	SignInMaxAttempts    int
	SignInWindow         time.Duration
	EnableIPThrottle     bool
	IssueMaxAttempts     int
	IssueWindow          time.Duration
	OTPMaxAttempts       int
	OTPWindow            time.Duration
	ResetSignInOnSuccess bool
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment-wide switches.
type SecurityConfig struct {
	ProductionMode bool
	DefaultRole    RoleName
}

// Development secrets. Validate rejects them in production mode.
var (
	devAccessKey  = []byte("authgate-dev-access-secret-change-me")
	devRefreshKey = []byte("authgate-dev-refresh-secret-change-me")
)

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a configuration suitable for local development.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     24 * time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			AccessKey:     cloneBytes(devAccessKey),
			RefreshKey:    cloneBytes(devRefreshKey),
			Issuer:        "authgate",
		},
		Password: PasswordConfig{
			Algorithm:           "bcrypt",
			HighCost:            10,
			LowCost:             4,
			MinLength:           8,
			MaxLength:           1024,
			MaxConcurrentHashes: runtime.GOMAXPROCS(0),
			UpgradeOnSignIn:     true,
			Argon2: Argon2Config{
				Memory:      65536,
				Time:        3,
				Parallelism: 2,
				SaltLength:  16,
				KeyLength:   32,
			},
		},
		OneTime: OneTimeConfig{
			ResetTTL:    15 * time.Minute,
			VerifyTTL:   24 * time.Hour,
			TokenLength: 64,
			BaseURL:     "http://localhost:8080/v1",
		},
		TOTP: TOTPConfig{
			Issuer:    "authgate",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		RateLimit: RateLimitConfig{
			KeySpace:             "authgate:rl",
			SignInMaxAttempts:    5,
			SignInWindow:         15 * time.Minute,
			IssueMaxAttempts:     5,
			IssueWindow:          time.Hour,
			OTPMaxAttempts:       5,
			OTPWindow:            5 * time.Minute,
			ResetSignInOnSuccess: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			DefaultRole: RoleUser,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessKey = cloneBytes(cfg.Token.AccessKey)
	out.Token.RefreshKey = cloneBytes(cfg.Token.RefreshKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}
	switch c.Token.SigningMethod {
	case "hs256", "ed25519":
	default:
		return errors.New("unsupported Token SigningMethod")
	}
	if len(c.Token.AccessKey) == 0 || len(c.Token.RefreshKey) == 0 {
		return errors.New("Token AccessKey and RefreshKey are required")
	}
	if bytes.Equal(c.Token.AccessKey, c.Token.RefreshKey) {
		return errors.New("Token AccessKey and RefreshKey must differ")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be within [0, 2m]")
	}

	// Password
	switch c.Password.Algorithm {
	case "bcrypt", "argon2id":
	default:
		return errors.New("Password Algorithm must be bcrypt or argon2id")
	}
	if c.Password.HighCost < 4 || c.Password.HighCost > 31 {
		return errors.New("Password HighCost must be within [4, 31]")
	}
	if c.Password.LowCost < 4 || c.Password.LowCost > c.Password.HighCost {
		return errors.New("Password LowCost must be within [4, HighCost]")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.MaxConcurrentHashes < 0 {
		return errors.New("Password MaxConcurrentHashes must be >= 0")
	}

	// One-time tokens
	if c.OneTime.ResetTTL <= 0 || c.OneTime.VerifyTTL <= 0 {
		return errors.New("OneTime ResetTTL and VerifyTTL must be > 0")
	}
	if c.OneTime.TokenLength < 32 {
		return errors.New("OneTime TokenLength must be >= 32")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be within [0, 2]")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Rate limits
	for name, budget := range map[string]struct {
		max    int
		window time.Duration
	}{
		"SignIn": {c.RateLimit.SignInMaxAttempts, c.RateLimit.SignInWindow},
		"Issue":  {c.RateLimit.IssueMaxAttempts, c.RateLimit.IssueWindow},
		"OTP":    {c.RateLimit.OTPMaxAttempts, c.RateLimit.OTPWindow},
	} {
		if budget.max < 0 {
			return fmt.Errorf("RateLimit %sMaxAttempts must be >= 0", name)
		}
		if budget.max > 0 && budget.window <= 0 {
			return fmt.Errorf("RateLimit %sWindow must be > 0 when %sMaxAttempts is set", name, name)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	switch c.Security.DefaultRole {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
	default:
		return errors.New("Security DefaultRole must be a known role")
	}

	if c.Security.ProductionMode {
		if bytes.Equal(c.Token.AccessKey, devAccessKey) || bytes.Equal(c.Token.RefreshKey, devRefreshKey) {
			return errors.New("ProductionMode forbids the development signing keys")
		}
		if c.Token.SigningMethod == "hs256" && (len(c.Token.AccessKey) < 32 || len(c.Token.RefreshKey) < 32) {
			return errors.New("ProductionMode requires hs256 keys of at least 256 bits")
		}
		if c.OneTime.ExposeTokens {
			return errors.New("ProductionMode forbids OneTime ExposeTokens")
		}
		if c.OneTime.TestMode {
			return errors.New("ProductionMode forbids OneTime TestMode")
		}
		if c.Password.HighCost < 10 && c.Password.Algorithm == "bcrypt" {
			return errors.New("ProductionMode requires Password HighCost >= 10")
		}
	}

	return nil
}
