// Package postgres implements the authgate store contracts on PostgreSQL
// through database/sql and the pgx driver. The schema ships as embedded
// goose migrations; call Migrate once at start.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store bundles the Postgres-backed stores over one connection pool.
type Store struct {
	db *sql.DB
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return New(db), nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (s *Store) Users() *UserStore                 { return &UserStore{db: s.db} }
func (s *Store) Sessions() *SessionStore           { return &SessionStore{db: s.db} }
func (s *Store) Verifications() *VerificationStore { return &VerificationStore{db: s.db} }
func (s *Store) Roles() *RoleStore                 { return &RoleStore{db: s.db} }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// notFound translates sql.ErrNoRows to authgate.ErrNotFound and wraps any
// other driver error.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return authgate.ErrNotFound
	}
	return fmt.Errorf("db error: %w", err)
}

// affected turns a zero-row write into authgate.ErrNotFound.
func affected(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authgate.ErrNotFound
	}
	return nil
}

// applied reports whether a conditional write matched a row.
func applied(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func nullTime(v sql.NullTime) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time.UTC()
}
