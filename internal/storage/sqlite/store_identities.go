package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/edwardsharp/wild-ai-adventure/internal/identity"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage"
)

// CreateIdentity inserts a new identity record.
// The username unique constraint resolves concurrent registrations for the
// same name to exactly one winner; losers observe ErrConflict.
func (s *Store) CreateIdentity(ctx context.Context, ident identity.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(ident.ID) == "" {
		return fmt.Errorf("identity id is required")
	}
	if strings.TrimSpace(ident.Username) == "" {
		return fmt.Errorf("username is required")
	}

	originToken := sql.NullString{}
	if strings.TrimSpace(ident.OriginTokenCode) != "" {
		originToken = sql.NullString{String: ident.OriginTokenCode, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO identities (id, username, role, created_at, origin_token_code)
VALUES (?, ?, ?, ?, ?)
`,
		ident.ID,
		ident.Username,
		string(ident.Role),
		toMillis(ident.CreatedAt),
		originToken,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// GetIdentity fetches an identity by id.
func (s *Store) GetIdentity(ctx context.Context, identityID string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	if s == nil || s.sqlDB == nil {
		return identity.Identity{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(identityID) == "" {
		return identity.Identity{}, fmt.Errorf("identity id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, username, role, created_at, origin_token_code
FROM identities
WHERE id = ?
`, identityID)

	ident, err := scanIdentityRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Identity{}, storage.ErrNotFound
		}
		return identity.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

// GetIdentityByUsername fetches an identity by its unique username.
func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	if s == nil || s.sqlDB == nil {
		return identity.Identity{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(username) == "" {
		return identity.Identity{}, fmt.Errorf("username is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, username, role, created_at, origin_token_code
FROM identities
WHERE username = ?
`, username)

	ident, err := scanIdentityRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Identity{}, storage.ErrNotFound
		}
		return identity.Identity{}, fmt.Errorf("get identity by username: %w", err)
	}
	return ident, nil
}

// ListIdentities returns every identity ordered by creation time.
func (s *Store) ListIdentities(ctx context.Context) ([]identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, username, role, created_at, origin_token_code
FROM identities
ORDER BY created_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	identities := make([]identity.Identity, 0)
	for rows.Next() {
		ident, err := scanIdentityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentityRow(row rowScanner) (identity.Identity, error) {
	var (
		id          string
		username    string
		role        string
		createdAt   int64
		originToken sql.NullString
	)
	if err := row.Scan(&id, &username, &role, &createdAt, &originToken); err != nil {
		return identity.Identity{}, err
	}

	ident := identity.Identity{
		ID:        id,
		Username:  username,
		Role:      identity.ParseRole(role),
		CreatedAt: fromMillis(createdAt),
	}
	if originToken.Valid {
		ident.OriginTokenCode = originToken.String
	}
	return ident, nil
}
