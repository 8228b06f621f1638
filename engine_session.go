package authgate

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
)

// SignUp registers a user with the default role and an empty verification
// record and returns the new user id.
func (e *Engine) SignUp(ctx context.Context, username, secret, email string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := e.validateSignUp(username, secret, email); err != nil {
		e.emitAudit(ctx, auditEventSignUp, false, "", "", err, nil)
		return "", err
	}

	if err := e.ensureUnique(ctx, username, email); err != nil {
		if errors.Is(err, ErrConflict) {
			e.metricInc(MetricSignUpConflict)
		}
		e.emitAudit(ctx, auditEventSignUp, false, "", "", err, nil)
		return "", err
	}

	digest, err := e.hash(ctx, secret, password.TierHigh)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	now := e.now().UTC()
	u := User{
		ID:           e.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		PasswordSalt: password.Salt(digest),
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.users.Create(ctx, u, e.config.Security.DefaultRole); err != nil {
		if errors.Is(err, ErrConflict) {
			e.metricInc(MetricSignUpConflict)
		}
		e.emitAudit(ctx, auditEventSignUp, false, "", "", err, nil)
		return "", err
	}

	e.metricInc(MetricSignUpSuccess)
	e.emitAudit(ctx, auditEventSignUp, true, u.ID, "", nil, nil)
	return u.ID, nil
}

func (e *Engine) validateSignUp(username, secret, email string) error {
	if username == "" || secret == "" || email == "" {
		return fmt.Errorf("%w: username, password and email are required", ErrValidation)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	return e.validatePassword(secret)
}

func (e *Engine) validatePassword(secret string) error {
	n := utf8.RuneCountInString(secret)
	if n < e.config.Password.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, e.config.Password.MinLength)
	}
	if n > e.config.Password.MaxLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrValidation, e.config.Password.MaxLength)
	}
	return nil
}

// ensureUnique checks username and email up front. The store's unique
// constraints still decide races between concurrent sign-ups.
func (e *Engine) ensureUnique(ctx context.Context, username, email string) error {
	if _, err := e.users.GetByUsername(ctx, username); err == nil {
		return ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, err := e.users.GetByEmail(ctx, email); err == nil {
		return ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// SignIn checks credentials and opens a new session. Unknown usernames and
// wrong passwords both fail with ErrInvalidCredentials. The returned tokens
// are the only copy of their plaintext.
func (e *Engine) SignIn(ctx context.Context, username, secret, clientDescription string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	ip := clientIPFromContext(ctx)
	if err := e.checkLimit(ctx, rate.ScopeSignIn, username, false); err != nil {
		e.metricInc(MetricSignInRateLimited)
		return TokenPair{}, err
	}
	if err := e.checkLimit(ctx, rate.ScopeSignInIP, ip, false); err != nil {
		e.metricInc(MetricSignInRateLimited)
		return TokenPair{}, err
	}

	u, err := e.users.GetByUsername(ctx, username)
	digest := u.PasswordHash
	switch {
	case errors.Is(err, ErrNotFound):
		digest = e.dummyDigest
	case err != nil:
		return TokenPair{}, err
	}

	ok, err := e.compare(ctx, secret, digest)
	if err != nil {
		return TokenPair{}, fmt.Errorf("compare password: %w", err)
	}
	if !ok || u.ID == "" {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignIn, false, u.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": username}
		})
		if err := e.checkLimit(ctx, rate.ScopeSignIn, username, true); err != nil {
			return TokenPair{}, err
		}
		if err := e.checkLimit(ctx, rate.ScopeSignInIP, ip, true); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrInvalidCredentials
	}

	if u.Status != StatusActive {
		e.metricInc(MetricSignInInactive)
		e.emitAudit(ctx, auditEventSignIn, false, u.ID, "", ErrAccountInactive, nil)
		return TokenPair{}, ErrAccountInactive
	}

	if e.config.RateLimit.ResetSignInOnSuccess {
		e.resetLimit(ctx, rate.ScopeSignIn, username)
	}
	if e.config.Password.UpgradeOnSignIn && e.hasher.NeedsRehash(u.PasswordHash) {
		e.rehashPassword(ctx, u.ID, secret)
	}

	if clientDescription == "" {
		clientDescription = userAgentFromContext(ctx)
	}
	pair, s, err := e.openSession(ctx, u, clientDescription)
	if err != nil {
		return TokenPair{}, err
	}

	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignIn, true, u.ID, s.ID, nil, nil)
	return pair, nil
}

func (e *Engine) rehashPassword(ctx context.Context, userID, secret string) {
	digest, err := e.hash(ctx, secret, password.TierHigh)
	if err == nil {
		err = e.users.UpdatePassword(ctx, userID, digest, password.Salt(digest))
	}
	if err != nil {
		e.log.WithError(err).WithField("user_id", userID).Warn("password rehash failed")
		e.emitAudit(ctx, auditEventPasswordRehash, false, userID, "", err, nil)
		return
	}
	e.metricInc(MetricPasswordRehashed)
	e.emitAudit(ctx, auditEventPasswordRehash, true, userID, "", nil, nil)
}

// mintTokens signs a fresh pair for u and hashes both at the low tier.
func (e *Engine) mintTokens(ctx context.Context, u User) (TokenPair, SessionTokens, error) {
	payload := jwt.Payload{SubjectID: u.ID, Username: u.Username}

	access, accessExp, err := e.codec.Sign(jwt.KindAccess, payload)
	if err != nil {
		return TokenPair{}, SessionTokens{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := e.codec.Sign(jwt.KindRefresh, payload)
	if err != nil {
		return TokenPair{}, SessionTokens{}, fmt.Errorf("sign refresh token: %w", err)
	}

	accessHash, err := e.hash(ctx, access, password.TierLow)
	if err != nil {
		return TokenPair{}, SessionTokens{}, fmt.Errorf("hash access token: %w", err)
	}
	refreshHash, err := e.hash(ctx, refresh, password.TierLow)
	if err != nil {
		return TokenPair{}, SessionTokens{}, fmt.Errorf("hash refresh token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, SessionTokens{
		AccessTokenHash:       accessHash,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenHash:      refreshHash,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

func (e *Engine) openSession(ctx context.Context, u User, clientDescription string) (TokenPair, Session, error) {
	pair, tokens, err := e.mintTokens(ctx, u)
	if err != nil {
		return TokenPair{}, Session{}, err
	}

	s := Session{
		ID:                    e.newID(),
		UserID:                u.ID,
		AccessTokenHash:       tokens.AccessTokenHash,
		AccessTokenExpiresAt:  tokens.AccessTokenExpiresAt,
		RefreshTokenHash:      tokens.RefreshTokenHash,
		RefreshTokenExpiresAt: tokens.RefreshTokenExpiresAt,
		ClientDescription:     clientDescription,
		CreatedAt:             e.now().UTC(),
	}
	if err := e.sessions.Create(ctx, s); err != nil {
		return TokenPair{}, Session{}, fmt.Errorf("create session: %w", err)
	}
	e.metricInc(MetricSessionCreated)
	return pair, s, nil
}

type tokenField uint8

const (
	matchAccess tokenField = 1 << iota
	matchRefresh
)

// findSession returns the session of userID whose stored hash for one of
// fields matches raw.
func (e *Engine) findSession(ctx context.Context, userID, raw string, fields tokenField) (Session, bool, error) {
	if userID == "" || raw == "" {
		return Session{}, false, nil
	}
	sessions, err := e.sessions.ListByUser(ctx, userID)
	if err != nil {
		return Session{}, false, err
	}
	for _, s := range sessions {
		if s.UserID != userID {
			continue
		}
		if fields&matchAccess != 0 {
			ok, err := e.compare(ctx, raw, s.AccessTokenHash)
			if err != nil {
				return Session{}, false, err
			}
			if ok {
				return s, true, nil
			}
		}
		if fields&matchRefresh != 0 {
			ok, err := e.compare(ctx, raw, s.RefreshTokenHash)
			if err != nil {
				return Session{}, false, err
			}
			if ok {
				return s, true, nil
			}
		}
	}
	return Session{}, false, nil
}

// GetSessionStatus reports SessionOK while raw still matches the access or
// refresh hash of one of userID's sessions, and SessionExpired once the
// session has been signed out, rotated away or revoked.
func (e *Engine) GetSessionStatus(ctx context.Context, userID, raw string) (SessionStatus, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	_, ok, err := e.findSession(ctx, userID, raw, matchAccess|matchRefresh)
	if err != nil {
		return "", err
	}
	if !ok {
		e.metricInc(MetricSessionStatusExpired)
		return SessionExpired, nil
	}
	e.metricInc(MetricSessionStatusOK)
	return SessionOK, nil
}

// refreshTarget verifies a refresh token and locates its session and user.
func (e *Engine) refreshTarget(ctx context.Context, refreshToken string) (User, Session, error) {
	payload, err := e.codec.Verify(jwt.KindRefresh, refreshToken)
	if err != nil {
		return User{}, Session{}, ErrInvalidToken
	}

	u, err := e.users.GetByID(ctx, payload.SubjectID)
	if errors.Is(err, ErrNotFound) {
		return User{}, Session{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, Session{}, err
	}
	if u.Status != StatusActive {
		return User{}, Session{}, ErrAccountInactive
	}

	s, ok, err := e.findSession(ctx, u.ID, refreshToken, matchRefresh)
	if err != nil {
		return User{}, Session{}, err
	}
	if !ok {
		return User{}, Session{}, ErrInvalidToken
	}
	return u, s, nil
}

// RefreshAccess mints a new access token for the session holding
// refreshToken. The refresh token stays valid.
func (e *Engine) RefreshAccess(ctx context.Context, refreshToken string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	u, s, err := e.refreshTarget(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshAccess, false, u.ID, "", err, nil)
		return "", err
	}

	access, accessExp, err := e.codec.Sign(jwt.KindAccess, jwt.Payload{SubjectID: u.ID, Username: u.Username})
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	accessHash, err := e.hash(ctx, access, password.TierLow)
	if err != nil {
		return "", fmt.Errorf("hash access token: %w", err)
	}

	applied, err := e.sessions.UpdateAccess(ctx, s.ID, s.RefreshTokenHash, accessHash, accessExp)
	if err != nil {
		return "", fmt.Errorf("update session: %w", err)
	}
	if !applied {
		e.metricInc(MetricRefreshRaceLost)
		e.emitAudit(ctx, auditEventRefreshAccess, false, u.ID, s.ID, ErrInvalidToken, nil)
		return "", ErrInvalidToken
	}

	e.metricInc(MetricRefreshAccessSuccess)
	e.emitAudit(ctx, auditEventRefreshAccess, true, u.ID, s.ID, nil, nil)
	return access, nil
}

// RefreshBoth rotates the session holding refreshToken to a new pair. The
// presented refresh token is dead once this returns, and of two concurrent
// calls presenting it exactly one succeeds.
func (e *Engine) RefreshBoth(ctx context.Context, refreshToken string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	u, s, err := e.refreshTarget(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshBoth, false, u.ID, "", err, nil)
		return TokenPair{}, err
	}

	pair, next, err := e.mintTokens(ctx, u)
	if err != nil {
		return TokenPair{}, err
	}

	applied, err := e.sessions.Rotate(ctx, s.ID, s.RefreshTokenHash, next)
	if err != nil {
		return TokenPair{}, fmt.Errorf("rotate session: %w", err)
	}
	if !applied {
		e.metricInc(MetricRefreshRaceLost)
		e.emitAudit(ctx, auditEventRefreshBoth, false, u.ID, s.ID, ErrInvalidToken, nil)
		return TokenPair{}, ErrInvalidToken
	}

	e.metricInc(MetricRefreshBothSuccess)
	e.emitAudit(ctx, auditEventRefreshBoth, true, u.ID, s.ID, nil, nil)
	return pair, nil
}

// SignOut ends the one session whose access hash matches accessToken.
func (e *Engine) SignOut(ctx context.Context, userID, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	s, ok, err := e.findSession(ctx, userID, accessToken, matchAccess)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventSignOut, false, userID, "", ErrInvalidToken, nil)
		return ErrInvalidToken
	}
	if err := e.sessions.Delete(ctx, userID, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}

	e.metricInc(MetricSignOut)
	e.emitAudit(ctx, auditEventSignOut, true, userID, s.ID, nil, nil)
	return nil
}

// RevokeAll deletes every session of userID and returns how many there were.
func (e *Engine) RevokeAll(ctx context.Context, userID string) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, ErrValidation
	}

	n, err := e.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventRevokeAll, false, userID, "", err, nil)
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions": fmt.Sprint(n)}
	})
	return n, nil
}
