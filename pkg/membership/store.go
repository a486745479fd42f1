// Package membership persists the gateway's view of who exists: token to
// user lookups for the identify handshake and the role membership
// snapshot that seeds the registry's role index.
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/snowflake"
	_ "modernc.org/sqlite"
)

// ErrUnknownToken is returned when a token resolves to no user.
var ErrUnknownToken = errors.New("membership: unknown token")

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	token   TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS member_roles (
	role_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	PRIMARY KEY (role_id, user_id)
);
`

// Store implements membership persistence over SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the membership store and ensures its schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Authenticate resolves a connection token to its user id. Satisfies the
// gateway's Authenticator interface.
func (s *Store) Authenticate(ctx context.Context, token string) (snowflake.ID, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM tokens WHERE token = ?`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownToken
	}
	if err != nil {
		return 0, fmt.Errorf("lookup token: %w", err)
	}
	return snowflake.ID(userID), nil
}

// PutToken stores or replaces a connection token for a user.
func (s *Store) PutToken(ctx context.Context, token string, user snowflake.ID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (token, user_id) VALUES (?, ?)
		 ON CONFLICT (token) DO UPDATE SET user_id = excluded.user_id`,
		token, int64(user))
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// DeleteToken revokes a connection token. Deleting an absent token is a
// no-op.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// AddRoleMember records that a user holds a role. Re-adding an existing
// membership is a no-op.
func (s *Store) AddRoleMember(ctx context.Context, role, user snowflake.ID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO member_roles (role_id, user_id) VALUES (?, ?)
		 ON CONFLICT (role_id, user_id) DO NOTHING`,
		int64(role), int64(user))
	if err != nil {
		return fmt.Errorf("add role member: %w", err)
	}
	return nil
}

// RemoveRoleMember removes a role membership.
func (s *Store) RemoveRoleMember(ctx context.Context, role, user snowflake.ID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM member_roles WHERE role_id = ? AND user_id = ?`,
		int64(role), int64(user))
	if err != nil {
		return fmt.Errorf("remove role member: %w", err)
	}
	return nil
}

// RoleMembers loads the full role membership snapshot, keyed by role id.
// The registry consumes this at startup to seed its role index.
func (s *Store) RoleMembers(ctx context.Context) (map[snowflake.ID][]snowflake.ID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id, user_id FROM member_roles ORDER BY role_id, user_id`)
	if err != nil {
		return nil, fmt.Errorf("load role members: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[snowflake.ID][]snowflake.ID)
	for rows.Next() {
		var roleID, userID int64
		if err := rows.Scan(&roleID, &userID); err != nil {
			return nil, fmt.Errorf("scan role member: %w", err)
		}
		role := snowflake.ID(roleID)
		snapshot[role] = append(snapshot[role], snowflake.ID(userID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role members: %w", err)
	}
	return snapshot, nil
}
