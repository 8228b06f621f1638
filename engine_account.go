package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate/password"
)

// UserProfile is the public view of a user. It never carries credential
// material.
type UserProfile struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	Status        UserStatus `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	OTPEnabled    bool       `json:"otp_enabled"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ChangePassword replaces the password of userID after checking current,
// then revokes every session of the user.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if err := e.ready(); err != nil {
		return err
	}

	u, err := e.users.GetByID(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", err, nil)
		return err
	}

	ok, err := e.compare(ctx, current, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalid)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", ErrInvalidPassword, nil)
		return ErrInvalidPassword
	}

	if err := e.setPassword(ctx, userID, next); err != nil {
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, userID, "", nil, nil)
	return nil
}

// setPassword stores a fresh high-tier digest of next and revokes all
// sessions of userID.
func (e *Engine) setPassword(ctx context.Context, userID, next string) error {
	if err := e.validatePassword(next); err != nil {
		return err
	}

	digest, err := e.hash(ctx, next, password.TierHigh)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := e.users.UpdatePassword(ctx, userID, digest, password.Salt(digest)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if _, err := e.RevokeAll(ctx, userID); err != nil {
		return err
	}
	return nil
}

// TerminateUser deactivates userID and revokes all of its sessions. The
// account row is kept.
func (e *Engine) TerminateUser(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if err := e.users.UpdateStatus(ctx, userID, StatusInactive); err != nil {
		e.emitAudit(ctx, auditEventTerminate, false, userID, "", err, nil)
		return err
	}
	if _, err := e.RevokeAll(ctx, userID); err != nil {
		e.emitAudit(ctx, auditEventTerminate, false, userID, "", err, nil)
		return err
	}

	e.metricInc(MetricAccountTerminated)
	e.emitAudit(ctx, auditEventTerminate, true, userID, "", nil, nil)
	return nil
}

func (e *Engine) GetUser(ctx context.Context, userID string) (UserProfile, error) {
	if err := e.ready(); err != nil {
		return UserProfile{}, err
	}

	u, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	v, err := e.verifications.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return UserProfile{}, err
	}

	return UserProfile{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Status:        u.Status,
		EmailVerified: v.EmailVerified,
		OTPEnabled:    v.EnableOTP,
		CreatedAt:     u.CreatedAt,
	}, nil
}

// ListSessions returns the metadata of every session of userID.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	sessions, err := e.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:                    s.ID,
			ClientDescription:     s.ClientDescription,
			AccessTokenExpiresAt:  s.AccessTokenExpiresAt,
			RefreshTokenExpiresAt: s.RefreshTokenExpiresAt,
			CreatedAt:             s.CreatedAt,
		})
	}
	return out, nil
}

func (e *Engine) UserRoles(ctx context.Context, userID string) ([]RoleName, error) {
	if e == nil || e.roles == nil {
		return nil, ErrEngineNotReady
	}
	return e.roles.RolesByUser(ctx, userID)
}
