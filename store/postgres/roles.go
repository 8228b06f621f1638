package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MrEthical07/authgate"
)

// RoleStore implements authgate.RoleResolver over user_roles.
type RoleStore struct {
	db *sql.DB
}

var _ authgate.RoleResolver = (*RoleStore)(nil)

// RolesByUser returns the roles of userID in assignment order. A user
// without roles yields an empty slice.
func (s *RoleStore) RolesByUser(ctx context.Context, userID string) ([]authgate.RoleName, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY assigned_at, role`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	roles := []authgate.RoleName{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		roles = append(roles, authgate.RoleName(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return roles, nil
}

// Assign grants role to userID. Granting a held role is a no-op.
func (s *RoleStore) Assign(ctx context.Context, userID string, role authgate.RoleName) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT (user_id, role) DO NOTHING`,
		userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
