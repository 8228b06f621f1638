package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/dbx"
)

// UserStore implements authgate.UserStore.
type UserStore struct {
	db *sql.DB
}

var _ authgate.UserStore = (*UserStore)(nil)

const userColumns = `id, username, email, password_hash, password_salt, status, created_at, updated_at`

// Create inserts the user, its verification row and its role in one
// transaction.
func (s *UserStore) Create(ctx context.Context, u authgate.User, role authgate.RoleName) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, u.Username, u.Email, u.PasswordHash, u.PasswordSalt, string(u.Status), u.CreatedAt, u.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO verifications (user_id) VALUES ($1)`, u.ID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, u.ID, string(role))
		return err
	})
	if isUniqueViolation(err) {
		return authgate.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (authgate.User, error) {
	var (
		u      authgate.User
		status string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.PasswordSalt, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return authgate.User{}, notFound(err)
	}
	u.Status = authgate.UserStatus(status)
	return u, nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (authgate.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (authgate.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// GetByEmail matches case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (authgate.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, strings.ToLower(email)))
}

func (s *UserStore) UpdatePassword(ctx context.Context, id, hash, salt string) error {
	return affected(s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, password_salt = $3, updated_at = $4 WHERE id = $1`,
		id, hash, salt, time.Now().UTC(),
	))
}

func (s *UserStore) UpdateStatus(ctx context.Context, id string, status authgate.UserStatus) error {
	return affected(s.db.ExecContext(ctx,
		`UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC(),
	))
}
