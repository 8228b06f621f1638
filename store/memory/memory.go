// Package memory keeps users, sessions, verification records and role
// assignments in process memory. It backs tests and single-node development
// deployments. Every conditional update runs under one mutex.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authgate"
)

// DB is the shared backing state of the four store views.
type DB struct {
	mu sync.RWMutex

	users         map[string]authgate.User
	byUsername    map[string]string
	byEmail       map[string]string
	verifications map[string]authgate.Verification
	roles         map[string][]authgate.RoleName
	sessions      map[string]authgate.Session
}

func New() *DB {
	return &DB{
		users:         make(map[string]authgate.User),
		byUsername:    make(map[string]string),
		byEmail:       make(map[string]string),
		verifications: make(map[string]authgate.Verification),
		roles:         make(map[string][]authgate.RoleName),
		sessions:      make(map[string]authgate.Session),
	}
}

func (db *DB) Users() *UserStore                 { return &UserStore{db: db} }
func (db *DB) Sessions() *SessionStore           { return &SessionStore{db: db} }
func (db *DB) Verifications() *VerificationStore { return &VerificationStore{db: db} }
func (db *DB) Roles() *RoleStore                 { return &RoleStore{db: db} }

// Ping always succeeds.
func (db *DB) Ping(context.Context) error { return nil }

func emailKey(email string) string {
	return strings.ToLower(email)
}

/*
====================================
USERS
====================================
*/

type UserStore struct {
	db *DB
}

var _ authgate.UserStore = (*UserStore)(nil)

func (s *UserStore) Create(_ context.Context, u authgate.User, role authgate.RoleName) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.users[u.ID]; ok {
		return authgate.ErrConflict
	}
	if _, ok := s.db.byUsername[u.Username]; ok {
		return authgate.ErrConflict
	}
	if _, ok := s.db.byEmail[emailKey(u.Email)]; ok {
		return authgate.ErrConflict
	}

	s.db.users[u.ID] = u
	s.db.byUsername[u.Username] = u.ID
	s.db.byEmail[emailKey(u.Email)] = u.ID
	s.db.verifications[u.ID] = authgate.Verification{UserID: u.ID}
	s.db.roles[u.ID] = []authgate.RoleName{role}
	return nil
}

func (s *UserStore) GetByID(_ context.Context, id string) (authgate.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	u, ok := s.db.users[id]
	if !ok {
		return authgate.User{}, authgate.ErrNotFound
	}
	return u, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (authgate.User, error) {
	s.db.mu.RLock()
	id, ok := s.db.byUsername[username]
	s.db.mu.RUnlock()
	if !ok {
		return authgate.User{}, authgate.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (authgate.User, error) {
	s.db.mu.RLock()
	id, ok := s.db.byEmail[emailKey(email)]
	s.db.mu.RUnlock()
	if !ok {
		return authgate.User{}, authgate.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) UpdatePassword(_ context.Context, id, hash, salt string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	u, ok := s.db.users[id]
	if !ok {
		return authgate.ErrNotFound
	}
	u.PasswordHash = hash
	u.PasswordSalt = salt
	u.UpdatedAt = time.Now().UTC()
	s.db.users[id] = u
	return nil
}

func (s *UserStore) UpdateStatus(_ context.Context, id string, status authgate.UserStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	u, ok := s.db.users[id]
	if !ok {
		return authgate.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	s.db.users[id] = u
	return nil
}

/*
====================================
SESSIONS
====================================
*/

type SessionStore struct {
	db *DB
}

var _ authgate.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Create(_ context.Context, sess authgate.Session) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.sessions[sess.ID]; ok {
		return authgate.ErrConflict
	}
	s.db.sessions[sess.ID] = sess
	return nil
}

// ListByUser returns the sessions of userID, oldest first.
func (s *SessionStore) ListByUser(_ context.Context, userID string) ([]authgate.Session, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []authgate.Session
	for _, sess := range s.db.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *SessionStore) UpdateAccess(_ context.Context, id, expectedRefreshHash, accessHash string, accessExpiresAt time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	sess, ok := s.db.sessions[id]
	if !ok || sess.RefreshTokenHash != expectedRefreshHash {
		return false, nil
	}
	sess.AccessTokenHash = accessHash
	sess.AccessTokenExpiresAt = accessExpiresAt
	s.db.sessions[id] = sess
	return true, nil
}

func (s *SessionStore) Rotate(_ context.Context, id, expectedRefreshHash string, next authgate.SessionTokens) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	sess, ok := s.db.sessions[id]
	if !ok || sess.RefreshTokenHash != expectedRefreshHash {
		return false, nil
	}
	sess.AccessTokenHash = next.AccessTokenHash
	sess.AccessTokenExpiresAt = next.AccessTokenExpiresAt
	sess.RefreshTokenHash = next.RefreshTokenHash
	sess.RefreshTokenExpiresAt = next.RefreshTokenExpiresAt
	s.db.sessions[id] = sess
	return true, nil
}

// Delete removes one session. A session owned by another user is treated as
// absent.
func (s *SessionStore) Delete(_ context.Context, userID, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	sess, ok := s.db.sessions[id]
	if !ok || sess.UserID != userID {
		return authgate.ErrNotFound
	}
	delete(s.db.sessions, id)
	return nil
}

func (s *SessionStore) DeleteByUser(_ context.Context, userID string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var n int64
	for id, sess := range s.db.sessions {
		if sess.UserID == userID {
			delete(s.db.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes sessions whose refresh token expired at or before now.
func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var n int64
	for id, sess := range s.db.sessions {
		if !sess.RefreshTokenExpiresAt.After(now) {
			delete(s.db.sessions, id)
			n++
		}
	}
	return n, nil
}

/*
====================================
VERIFICATIONS
====================================
*/

type VerificationStore struct {
	db *DB
}

var _ authgate.VerificationStore = (*VerificationStore)(nil)

func (s *VerificationStore) Get(_ context.Context, userID string) (authgate.Verification, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	v, ok := s.db.verifications[userID]
	if !ok {
		return authgate.Verification{}, authgate.ErrNotFound
	}
	return v, nil
}

// update applies fn to the record of userID under the write lock.
func (s *VerificationStore) update(userID string, fn func(v *authgate.Verification) bool) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	v, ok := s.db.verifications[userID]
	if !ok {
		return false, authgate.ErrNotFound
	}
	if !fn(&v) {
		return false, nil
	}
	s.db.verifications[userID] = v
	return true, nil
}

func (s *VerificationStore) SetToken(_ context.Context, userID string, kind authgate.OneTimeKind, hash string, expiresAt time.Time) error {
	_, err := s.update(userID, func(v *authgate.Verification) bool {
		setSlot(v, kind, hash, expiresAt)
		return true
	})
	return err
}

func (s *VerificationStore) ClearToken(_ context.Context, userID string, kind authgate.OneTimeKind, expectedHash string) (bool, error) {
	cleared, err := s.update(userID, func(v *authgate.Verification) bool {
		stored, _ := v.Token(kind)
		if stored == "" || stored != expectedHash {
			return false
		}
		setSlot(v, kind, "", time.Time{})
		return true
	})
	if errors.Is(err, authgate.ErrNotFound) {
		return false, nil
	}
	return cleared, err
}

func (s *VerificationStore) SetEmailVerified(_ context.Context, userID string) error {
	_, err := s.update(userID, func(v *authgate.Verification) bool {
		v.EmailVerified = true
		return true
	})
	return err
}

// SetOTPSecret replaces the secret and resets enrollment.
func (s *VerificationStore) SetOTPSecret(_ context.Context, userID, secret string) error {
	_, err := s.update(userID, func(v *authgate.Verification) bool {
		v.OTPSecret = secret
		v.EnableOTP = false
		v.OTPVerified = false
		return true
	})
	return err
}

func (s *VerificationStore) SetOTPState(_ context.Context, userID string, enabled, verified bool) error {
	_, err := s.update(userID, func(v *authgate.Verification) bool {
		v.EnableOTP = enabled
		v.OTPVerified = verified
		return true
	})
	return err
}

// ClearExpiredTokens empties every one-time token slot that expired at or
// before now and returns how many slots it cleared.
func (s *VerificationStore) ClearExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var n int64
	for id, v := range s.db.verifications {
		changed := false
		for _, kind := range []authgate.OneTimeKind{authgate.OneTimeReset, authgate.OneTimeVerifyEmail} {
			hash, exp := v.Token(kind)
			if hash != "" && !exp.After(now) {
				setSlot(&v, kind, "", time.Time{})
				changed = true
				n++
			}
		}
		if changed {
			s.db.verifications[id] = v
		}
	}
	return n, nil
}

func setSlot(v *authgate.Verification, kind authgate.OneTimeKind, hash string, expiresAt time.Time) {
	switch kind {
	case authgate.OneTimeReset:
		v.ResetPasswordTokenHash = hash
		v.ResetPasswordTokenExpiresAt = expiresAt
	case authgate.OneTimeVerifyEmail:
		v.VerifyEmailTokenHash = hash
		v.VerifyEmailTokenExpiresAt = expiresAt
	}
}

/*
====================================
ROLES
====================================
*/

type RoleStore struct {
	db *DB
}

var _ authgate.RoleResolver = (*RoleStore)(nil)

// RolesByUser returns the roles of userID. Unknown users have no roles.
func (s *RoleStore) RolesByUser(_ context.Context, userID string) ([]authgate.RoleName, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	roles := s.db.roles[userID]
	out := make([]authgate.RoleName, len(roles))
	copy(out, roles)
	return out, nil
}

// Assign adds role to userID if it is not already assigned.
func (s *RoleStore) Assign(_ context.Context, userID string, role authgate.RoleName) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.users[userID]; !ok {
		return authgate.ErrNotFound
	}
	for _, r := range s.db.roles[userID] {
		if r == role {
			return nil
		}
	}
	s.db.roles[userID] = append(s.db.roles[userID], role)
	return nil
}
