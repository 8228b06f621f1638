package authgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authgate/internal/rate"
)

// GenerateOTPSecret stores a fresh TOTP secret for userID and returns it with
// its provisioning URI. Second factor stays disabled until
// VerifyOTPEnrollment succeeds. A user whose second factor is already
// enabled keeps the current secret and gets AlreadyEnabled.
func (e *Engine) GenerateOTPSecret(ctx context.Context, userID string) (OTPEnrollment, error) {
	if err := e.ready(); err != nil {
		return OTPEnrollment{}, err
	}

	u, v, err := e.otpSubject(ctx, userID)
	if err != nil {
		e.metricInc(MetricOTPFailure)
		e.emitAudit(ctx, auditEventOTPGenerate, false, userID, "", err, nil)
		return OTPEnrollment{}, err
	}
	if v.EnableOTP && v.OTPVerified {
		return OTPEnrollment{AlreadyEnabled: true}, nil
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return OTPEnrollment{}, fmt.Errorf("generate otp secret: %w", err)
	}
	if err := e.verifications.SetOTPSecret(ctx, u.ID, secret); err != nil {
		return OTPEnrollment{}, fmt.Errorf("store otp secret: %w", err)
	}

	e.metricInc(MetricOTPGenerated)
	e.emitAudit(ctx, auditEventOTPGenerate, true, u.ID, "", nil, nil)
	return OTPEnrollment{
		Secret:       secret,
		ProvisionURI: e.totp.ProvisionURI(secret, u.Username),
	}, nil
}

// VerifyOTPEnrollment checks code against the pending secret and enables the
// second factor.
func (e *Engine) VerifyOTPEnrollment(ctx context.Context, userID, code string) (OTPState, error) {
	if err := e.ready(); err != nil {
		return OTPState{}, err
	}

	u, _, err := e.checkOTP(ctx, auditEventOTPVerify, userID, code, false)
	if err != nil {
		return OTPState{}, err
	}
	if err := e.verifications.SetOTPState(ctx, userID, true, true); err != nil {
		return OTPState{}, fmt.Errorf("enable otp: %w", err)
	}

	e.metricInc(MetricOTPEnrollSuccess)
	e.emitAudit(ctx, auditEventOTPVerify, true, userID, "", nil, nil)
	return otpState(u, true, true), nil
}

// ValidateOTP checks code at sign-in time. It never changes state.
func (e *Engine) ValidateOTP(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if _, _, err := e.checkOTP(ctx, auditEventOTPValidate, userID, code, true); err != nil {
		return err
	}

	e.metricInc(MetricOTPValidateSuccess)
	e.emitAudit(ctx, auditEventOTPValidate, true, userID, "", nil, nil)
	return nil
}

// DisableOTP turns the second factor off. The secret is kept.
func (e *Engine) DisableOTP(ctx context.Context, userID string) (OTPState, error) {
	if err := e.ready(); err != nil {
		return OTPState{}, err
	}

	u, v, err := e.otpSubject(ctx, userID)
	if err != nil {
		e.metricInc(MetricOTPFailure)
		e.emitAudit(ctx, auditEventOTPDisable, false, userID, "", err, nil)
		return OTPState{}, err
	}
	if err := e.verifications.SetOTPState(ctx, userID, false, v.OTPVerified); err != nil {
		return OTPState{}, fmt.Errorf("disable otp: %w", err)
	}

	e.metricInc(MetricOTPDisabled)
	e.emitAudit(ctx, auditEventOTPDisable, true, userID, "", nil, nil)
	return otpState(u, false, v.OTPVerified), nil
}

// otpSubject loads the user and verification record. A missing user or
// record is ErrInvalidTokenOrUser.
func (e *Engine) otpSubject(ctx context.Context, userID string) (User, Verification, error) {
	if userID == "" {
		return User{}, Verification{}, ErrInvalidTokenOrUser
	}
	u, err := e.users.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return User{}, Verification{}, ErrInvalidTokenOrUser
	}
	if err != nil {
		return User{}, Verification{}, err
	}
	v, err := e.verifications.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return User{}, Verification{}, ErrInvalidTokenOrUser
	}
	if err != nil {
		return User{}, Verification{}, err
	}
	return u, v, nil
}

// checkOTP applies the attempt budget and compares code with the stored
// secret. Mismatches count against the budget. With requireEnabled a user
// whose second factor is off is rejected.
func (e *Engine) checkOTP(ctx context.Context, event, userID, code string, requireEnabled bool) (User, Verification, error) {
	fail := func(err error) (User, Verification, error) {
		e.metricInc(MetricOTPFailure)
		e.emitAudit(ctx, event, false, userID, "", err, nil)
		return User{}, Verification{}, err
	}

	if err := e.checkLimit(ctx, rate.ScopeOTP, userID, false); err != nil {
		return fail(err)
	}

	u, v, err := e.otpSubject(ctx, userID)
	if err != nil {
		return fail(err)
	}
	if v.OTPSecret == "" || (requireEnabled && !v.EnableOTP) {
		return fail(ErrInvalidTokenOrUser)
	}

	ok, err := e.totp.VerifyCode(v.OTPSecret, code, e.now())
	if err != nil {
		e.log.WithError(err).WithField("user_id", userID).Error("stored otp secret unreadable")
		return fail(ErrInvalidTokenOrUser)
	}
	if !ok {
		if err := e.checkLimit(ctx, rate.ScopeOTP, userID, true); err != nil {
			return fail(err)
		}
		return fail(ErrInvalidTokenOrUser)
	}

	e.resetLimit(ctx, rate.ScopeOTP, userID)
	return u, v, nil
}

func otpState(u User, enabled, verified bool) OTPState {
	return OTPState{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		OTPEnabled:  enabled,
		OTPVerified: verified,
	}
}
