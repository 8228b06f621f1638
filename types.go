package authgate

import (
	"context"
	"time"
)

// UserStatus is the lifecycle state of an account. Accounts are never hard
// deleted; termination moves them to StatusInactive.
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)

// RoleName names an entry of the static role table.
type RoleName string

const (
	RoleSuperAdmin RoleName = "SuperAdmin"
	RoleAdmin      RoleName = "Admin"
	RoleUser       RoleName = "User"
)

// User is the credential record. PasswordHash is a one-way digest and
// PasswordSalt the salt segment embedded in it.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	PasswordSalt string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is one logged-in device. Only hashes of the issued tokens are
// stored; the plaintext tokens are returned to the caller once.
type Session struct {
	ID                    string
	UserID                string
	AccessTokenHash       string
	AccessTokenExpiresAt  time.Time
	RefreshTokenHash      string
	RefreshTokenExpiresAt time.Time
	ClientDescription     string
	CreatedAt             time.Time
}

// SessionTokens is the replaceable part of a Session row.
type SessionTokens struct {
	AccessTokenHash       string
	AccessTokenExpiresAt  time.Time
	RefreshTokenHash      string
	RefreshTokenExpiresAt time.Time
}

// SessionInfo is the externally visible view of a Session.
type SessionInfo struct {
	ID                    string    `json:"id"`
	ClientDescription     string    `json:"client_description,omitempty"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	CreatedAt             time.Time `json:"created_at"`
}

// OneTimeKind selects the one-time token slot on a Verification row.
type OneTimeKind uint8

const (
	OneTimeReset OneTimeKind = iota + 1
	OneTimeVerifyEmail
)

func (k OneTimeKind) String() string {
	switch k {
	case OneTimeReset:
		return "reset_password"
	case OneTimeVerifyEmail:
		return "verify_email"
	default:
		return "unknown"
	}
}

// Verification holds the one-time token hashes and TOTP state of a user.
// Exactly one row exists per user. An empty hash means no token is pending.
type Verification struct {
	UserID                      string
	ResetPasswordTokenHash      string
	ResetPasswordTokenExpiresAt time.Time
	VerifyEmailTokenHash        string
	VerifyEmailTokenExpiresAt   time.Time
	EmailVerified               bool
	OTPSecret                   string
	EnableOTP                   bool
	OTPVerified                 bool
}

// Token returns the stored hash and expiry for kind.
func (v Verification) Token(kind OneTimeKind) (string, time.Time) {
	switch kind {
	case OneTimeReset:
		return v.ResetPasswordTokenHash, v.ResetPasswordTokenExpiresAt
	case OneTimeVerifyEmail:
		return v.VerifyEmailTokenHash, v.VerifyEmailTokenExpiresAt
	default:
		return "", time.Time{}
	}
}

// TokenPair is the plaintext result of a sign-in or a full rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionStatus is the result of GetSessionStatus.
type SessionStatus string

const (
	SessionOK      SessionStatus = "ok"
	SessionExpired SessionStatus = "expired"
)

// OTPEnrollment is returned by GenerateOTPSecret.
type OTPEnrollment struct {
	Secret         string
	ProvisionURI   string
	AlreadyEnabled bool
}

// OTPState is the public view of a user's second-factor state.
type OTPState struct {
	UserID      string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	OTPEnabled  bool   `json:"otp_enabled"`
	OTPVerified bool   `json:"otp_verified"`
}

// UserStore persists User rows.
//
// Create must insert the user, its default Verification row and the default
// role assignment atomically, and return ErrConflict when the username or
// email is taken. Lookups return ErrNotFound for absent users.
type UserStore interface {
	Create(ctx context.Context, u User, role RoleName) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	UpdatePassword(ctx context.Context, id, hash, salt string) error
	UpdateStatus(ctx context.Context, id string, status UserStatus) error
}

// SessionStore persists Session rows.
//
// UpdateAccess and Rotate are compare-and-set: they apply only while the row
// still exists and still holds expectedRefreshHash, and report false
// otherwise. Two concurrent calls presenting the same stored hash can
// therefore never both succeed, and a call racing DeleteByUser cannot
// resurrect a deleted row.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	UpdateAccess(ctx context.Context, id, expectedRefreshHash, accessHash string, accessExpiresAt time.Time) (bool, error)
	Rotate(ctx context.Context, id, expectedRefreshHash string, next SessionTokens) (bool, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// VerificationStore persists Verification rows.
//
// ClearToken empties the slot for kind only while it still holds
// expectedHash and reports whether it did; this is what makes a one-time
// token single use when two consumers race.
type VerificationStore interface {
	Get(ctx context.Context, userID string) (Verification, error)
	SetToken(ctx context.Context, userID string, kind OneTimeKind, hash string, expiresAt time.Time) error
	ClearToken(ctx context.Context, userID string, kind OneTimeKind, expectedHash string) (bool, error)
	SetEmailVerified(ctx context.Context, userID string) error
	SetOTPSecret(ctx context.Context, userID, secret string) error
	SetOTPState(ctx context.Context, userID string, enabled, verified bool) error
	ClearExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// RoleResolver maps a user id to its role names. It is consulted on every
// authorized request so role changes apply without re-issuing tokens.
type RoleResolver interface {
	RolesByUser(ctx context.Context, userID string) ([]RoleName, error)
}

// Mailer delivers one-time tokens out of band.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
