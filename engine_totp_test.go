package authgate_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
)

func otpCode(t *testing.T, env *testEnv, secret string, at time.Time) string {
	t.Helper()
	code, err := authgate.TOTPCodeAt(env.engine.Config().TOTP, secret, at)
	if err != nil {
		t.Fatalf("TOTPCodeAt failed: %v", err)
	}
	return code
}

// wrongCode returns a well-formed code accepted by no step near at.
func wrongCode(t *testing.T, env *testEnv, secret string, at time.Time) string {
	t.Helper()
	period := time.Duration(env.engine.Config().TOTP.Period) * time.Second
	taken := map[string]bool{}
	for step := -2; step <= 2; step++ {
		taken[otpCode(t, env, secret, at.Add(time.Duration(step)*period))] = true
	}
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%06d", i)
		if !taken[candidate] {
			return candidate
		}
	}
}

func enrollOTP(t *testing.T, env *testEnv, userID string) string {
	t.Helper()
	ctx := context.Background()
	enrollment, err := env.engine.GenerateOTPSecret(ctx, userID)
	if err != nil {
		t.Fatalf("GenerateOTPSecret failed: %v", err)
	}
	if _, err := env.engine.VerifyOTPEnrollment(ctx, userID, otpCode(t, env, enrollment.Secret, env.clock.Now())); err != nil {
		t.Fatalf("VerifyOTPEnrollment failed: %v", err)
	}
	return enrollment.Secret
}

func TestGenerateOTPSecretStoresPendingSecret(t *testing.T) {
	env := newTestEnv(t)
	id := env.signUp(t, testUsername, testPassword, testEmail)

	enrollment, err := env.engine.GenerateOTPSecret(context.Background(), id)
	if err != nil {
		t.Fatalf("GenerateOTPSecret failed: %v", err)
	}
	if enrollment.Secret == "" || enrollment.AlreadyEnabled {
		t.Fatalf("unexpected enrollment %+v", enrollment)
	}

	u, err := url.Parse(enrollment.ProvisionURI)
	if err != nil {
		t.Fatalf("provision uri does not parse: %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Fatalf("unexpected provision uri %q", enrollment.ProvisionURI)
	}
	if !strings.Contains(u.Path, testUsername) {
		t.Fatalf("expected account name in label, got %q", u.Path)
	}
	q := u.Query()
	if q.Get("secret") != enrollment.Secret || q.Get("digits") != "6" || q.Get("period") != "30" || q.Get("algorithm") != "SHA1" {
		t.Fatalf("unexpected provision parameters %v", q)
	}

	v := env.verification(t, id)
	if v.OTPSecret != enrollment.Secret || v.EnableOTP || v.OTPVerified {
		t.Fatalf("expected pending secret, got %+v", v)
	}
}

func TestVerifyOTPEnrollmentRejectsFabricatedCode(t *testing.T) {
	env := newTestEnv(t)
	id := env.signUp(t, testUsername, testPassword, testEmail)

	enrollment, err := env.engine.GenerateOTPSecret(context.Background(), id)
	if err != nil {
		t.Fatalf("GenerateOTPSecret failed: %v", err)
	}

	for _, code := range []string{wrongCode(t, env, enrollment.Secret, env.clock.Now()), "12ab56", ""} {
		_, err := env.engine.VerifyOTPEnrollment(context.Background(), id, code)
		if !errors.Is(err, authgate.ErrInvalidTokenOrUser) {
			t.Fatalf("code %q: expected ErrInvalidTokenOrUser, got %v", code, err)
		}
	}
	if v := env.verification(t, id); v.EnableOTP {
		t.Fatal("expected second factor to stay disabled")
	}
}

func TestOTPEnrollAndValidate(t *testing.T) {
	env := newTestEnv(t)
	id := env.signUp(t, testUsername, testPassword, testEmail)
	ctx := context.Background()

	enrollment, err := env.engine.GenerateOTPSecret(ctx, id)
	if err != nil {
		t.Fatalf("GenerateOTPSecret failed: %v", err)
	}
	state, err := env.engine.VerifyOTPEnrollment(ctx, id, otpCode(t, env, enrollment.Secret, env.clock.Now()))
	if err != nil {
		t.Fatalf("VerifyOTPEnrollment failed: %v", err)
	}
	if !state.OTPEnabled || !state.OTPVerified || state.Username != testUsername || state.Email != testEmail {
		t.Fatalf("unexpected state %+v", state)
	}

	code := otpCode(t, env, enrollment.Secret, env.clock.Now())
	if err := env.engine.ValidateOTP(ctx, id, code); err != nil {
		t.Fatalf("ValidateOTP failed: %v", err)
	}

	env.clock.Advance(30 * time.Second)
	if err := env.engine.ValidateOTP(ctx, id, code); err != nil {
		t.Fatalf("expected previous step within skew, got %v", err)
	}

	env.clock.Advance(30 * time.Second)
	if err := env.engine.ValidateOTP(ctx, id, code); !errors.Is(err, authgate.ErrInvalidTokenOrUser) {
		t.Fatalf("expected code two steps old to fail, got %v", err)
	}
}

func TestValidateOTPRequiresEnabledFactor(t *testing.T) {
	env := newTestEnv(t)
	id := env.signUp(t, testUsername, testPassword, testEmail)
	ctx := context.Background()

	enrollment, err := env.engine.GenerateOTPSecret(ctx, id)
	if err != nil {
		t.Fatalf("GenerateOTPSecret failed: %v", err)
	}
	code := otpCode(t, env, enrollment.Secret, env.clock.Now())
	if err := env.engine.ValidateOTP(ctx, id, code); !errors.Is(err, authgate.ErrInvalidTokenOrUser) {
		t.Fatalf("expected ValidateOTP before enrollment to fail, got %v", err)
	}
	if err := env.engine.ValidateOTP(ctx, "missing", code); !errors.Is(err, authgate.ErrInvalidTokenOrUser) {
		t.Fatalf("expected unknown user to fail, got %v", err)
	}
	if _, err := env.engine.GenerateOTPSecret(ctx, "missing"); !errors.Is(err, authgate.ErrInvalidTokenOrUser) {
		t.Fatalf("expected unknown user to fail generation, got %v", err)
	}
}

func TestDisableOTPKeepsSecret(t *testing.T) {
	env := newTestEnv(t)
	id := env.signUp(t, testUsername, testPassword, testEmail)
	secret := enrollOTP(t, env, id)
	ctx := context.Background()

	state, err := env.engine.DisableOTP(ctx, id)
	if err != nil {
		t.Fatalf("DisableOTP failed: %v", err)
	}
	if state.OTPEnabled || !state.OTPVerified {
		t.Fatalf("unexpected state %+v", state)
	}

	v := env.verification(t, id)
	if v.OTPSecret != secret || v.EnableOTP {
		t.Fatalf("expected secret kept and factor off, got %+v", v)
	}
	if err := env.engine.ValidateOTP(ctx, id, otpCode(t, env, secret, env.clock.Now())); !errors.Is(err, authgate.ErrInvalidTokenOrUser) {
		t.Fatalf("expected disabled factor to refuse codes, got %v", err)
	}
}

func TestGenerateOTPSecretWhenAlreadyEnabled(t *testing.T) {
	env := newTestEnv(t)
	id := env.signUp(t, testUsername, testPassword, testEmail)
	secret := enrollOTP(t, env, id)

	enrollment, err := env.engine.GenerateOTPSecret(context.Background(), id)
	if err != nil {
		t.Fatalf("GenerateOTPSecret failed: %v", err)
	}
	if !enrollment.AlreadyEnabled || enrollment.Secret != "" {
		t.Fatalf("expected AlreadyEnabled without secret, got %+v", enrollment)
	}
	if v := env.verification(t, id); v.OTPSecret != secret || !v.EnableOTP {
		t.Fatal("expected enrolled secret untouched")
	}
}

func TestOTPAttemptsRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *authgate.Config) {
		c.RateLimit.OTPMaxAttempts = 3
	})
	id := env.signUp(t, testUsername, testPassword, testEmail)
	secret := enrollOTP(t, env, id)
	ctx := context.Background()

	bad := wrongCode(t, env, secret, env.clock.Now())
	for i := 0; i < 3; i++ {
		if err := env.engine.ValidateOTP(ctx, id, bad); !errors.Is(err, authgate.ErrInvalidTokenOrUser) {
			t.Fatalf("attempt %d: expected ErrInvalidTokenOrUser, got %v", i+1, err)
		}
	}
	err := env.engine.ValidateOTP(ctx, id, otpCode(t, env, secret, env.clock.Now()))
	if !errors.Is(err, authgate.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[authgate.MetricOTPFailure]; got != 4 {
		t.Fatalf("expected 4 otp failures, got %d", got)
	}
}
