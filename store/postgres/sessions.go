package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate"
)

// SessionStore implements authgate.SessionStore. UpdateAccess and Rotate are
// single conditional UPDATEs keyed by id and the expected refresh hash, so
// Postgres row locking serializes competing rotations and a row deleted by a
// revocation matches nothing.
type SessionStore struct {
	db *sql.DB
}

var _ authgate.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Create(ctx context.Context, sess authgate.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, access_token_hash, access_token_expires_at,
		     refresh_token_hash, refresh_token_expires_at, client_description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.UserID, sess.AccessTokenHash, sess.AccessTokenExpiresAt,
		sess.RefreshTokenHash, sess.RefreshTokenExpiresAt, sess.ClientDescription, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByUser returns the sessions of userID, oldest first.
func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]authgate.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, access_token_hash, access_token_expires_at,
		     refresh_token_hash, refresh_token_expires_at, client_description, created_at
		 FROM sessions WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []authgate.Session
	for rows.Next() {
		var sess authgate.Session
		if err := rows.Scan(
			&sess.ID, &sess.UserID, &sess.AccessTokenHash, &sess.AccessTokenExpiresAt,
			&sess.RefreshTokenHash, &sess.RefreshTokenExpiresAt, &sess.ClientDescription, &sess.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (s *SessionStore) UpdateAccess(ctx context.Context, id, expectedRefreshHash, accessHash string, accessExpiresAt time.Time) (bool, error) {
	return applied(s.db.ExecContext(ctx,
		`UPDATE sessions SET access_token_hash = $3, access_token_expires_at = $4
		 WHERE id = $1 AND refresh_token_hash = $2`,
		id, expectedRefreshHash, accessHash, accessExpiresAt,
	))
}

func (s *SessionStore) Rotate(ctx context.Context, id, expectedRefreshHash string, next authgate.SessionTokens) (bool, error) {
	return applied(s.db.ExecContext(ctx,
		`UPDATE sessions SET access_token_hash = $3, access_token_expires_at = $4,
		     refresh_token_hash = $5, refresh_token_expires_at = $6
		 WHERE id = $1 AND refresh_token_hash = $2`,
		id, expectedRefreshHash,
		next.AccessTokenHash, next.AccessTokenExpiresAt,
		next.RefreshTokenHash, next.RefreshTokenExpiresAt,
	))
}

// Delete removes session id of userID. A session owned by another user is
// ErrNotFound.
func (s *SessionStore) Delete(ctx context.Context, userID, id string) error {
	return affected(s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return deleted(s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID))
}

// DeleteExpired removes sessions whose refresh token expired at or before now.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return deleted(s.db.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_token_expires_at <= $1`, now))
}

func deleted(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
