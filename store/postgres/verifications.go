package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate"
)

// VerificationStore implements authgate.VerificationStore.
type VerificationStore struct {
	db *sql.DB
}

var _ authgate.VerificationStore = (*VerificationStore)(nil)

// tokenColumns returns the hash and expiry columns of a one-time token slot.
func tokenColumns(kind authgate.OneTimeKind) (string, string, error) {
	switch kind {
	case authgate.OneTimeReset:
		return "reset_password_token_hash", "reset_password_token_expires_at", nil
	case authgate.OneTimeVerifyEmail:
		return "verify_email_token_hash", "verify_email_token_expires_at", nil
	default:
		return "", "", fmt.Errorf("unknown one-time token kind %d", kind)
	}
}

func (s *VerificationStore) Get(ctx context.Context, userID string) (authgate.Verification, error) {
	var (
		v         authgate.Verification
		resetExp  sql.NullTime
		verifyExp sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, reset_password_token_hash, reset_password_token_expires_at,
		     verify_email_token_hash, verify_email_token_expires_at,
		     email_verified, otp_secret, enable_otp, otp_verified
		 FROM verifications WHERE user_id = $1`,
		userID,
	).Scan(
		&v.UserID, &v.ResetPasswordTokenHash, &resetExp,
		&v.VerifyEmailTokenHash, &verifyExp,
		&v.EmailVerified, &v.OTPSecret, &v.EnableOTP, &v.OTPVerified,
	)
	if err != nil {
		return authgate.Verification{}, notFound(err)
	}
	v.ResetPasswordTokenExpiresAt = nullTime(resetExp)
	v.VerifyEmailTokenExpiresAt = nullTime(verifyExp)
	return v, nil
}

// SetToken replaces the slot for kind, discarding any pending token.
func (s *VerificationStore) SetToken(ctx context.Context, userID string, kind authgate.OneTimeKind, hash string, expiresAt time.Time) error {
	hashCol, expCol, err := tokenColumns(kind)
	if err != nil {
		return err
	}
	return affected(s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE verifications SET %s = $2, %s = $3 WHERE user_id = $1`, hashCol, expCol),
		userID, hash, expiresAt,
	))
}

// ClearToken empties the slot only while it still holds expectedHash.
func (s *VerificationStore) ClearToken(ctx context.Context, userID string, kind authgate.OneTimeKind, expectedHash string) (bool, error) {
	if expectedHash == "" {
		return false, nil
	}
	hashCol, expCol, err := tokenColumns(kind)
	if err != nil {
		return false, err
	}
	return applied(s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE verifications SET %[1]s = '', %[2]s = NULL WHERE user_id = $1 AND %[1]s = $2`, hashCol, expCol),
		userID, expectedHash,
	))
}

func (s *VerificationStore) SetEmailVerified(ctx context.Context, userID string) error {
	return affected(s.db.ExecContext(ctx,
		`UPDATE verifications SET email_verified = TRUE WHERE user_id = $1`,
		userID,
	))
}

// SetOTPSecret stores a pending secret and turns the second factor off
// until it is verified again.
func (s *VerificationStore) SetOTPSecret(ctx context.Context, userID, secret string) error {
	return affected(s.db.ExecContext(ctx,
		`UPDATE verifications SET otp_secret = $2, enable_otp = FALSE, otp_verified = FALSE WHERE user_id = $1`,
		userID, secret,
	))
}

func (s *VerificationStore) SetOTPState(ctx context.Context, userID string, enabled, verified bool) error {
	return affected(s.db.ExecContext(ctx,
		`UPDATE verifications SET enable_otp = $2, otp_verified = $3 WHERE user_id = $1`,
		userID, enabled, verified,
	))
}

// ClearExpiredTokens empties every slot whose expiry passed and returns the
// number of slots cleared.
func (s *VerificationStore) ClearExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, kind := range []authgate.OneTimeKind{authgate.OneTimeReset, authgate.OneTimeVerifyEmail} {
		hashCol, expCol, err := tokenColumns(kind)
		if err != nil {
			return total, err
		}
		n, err := deleted(s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE verifications SET %[1]s = '', %[2]s = NULL WHERE %[2]s <= $1`, hashCol, expCol),
			now,
		))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
