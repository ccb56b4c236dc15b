package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/accesstoken"
)

// CreateToken inserts a new access token record.
func (s *Store) CreateToken(ctx context.Context, token accesstoken.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token.Code) == "" {
		return fmt.Errorf("token code is required")
	}

	target := sql.NullString{}
	if strings.TrimSpace(token.TargetIdentityID) != "" {
		target = sql.NullString{String: token.TargetIdentityID, Valid: true}
	}
	expires := sql.NullInt64{}
	if token.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: toMillis(*token.ExpiresAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO access_tokens (code, kind, created_at, active, target_identity_id, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		token.Code,
		string(token.Kind),
		toMillis(token.CreatedAt),
		token.Active,
		target,
		expires,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return accesstoken.ErrDuplicate
		}
		return fmt.Errorf("create access token: %w", err)
	}
	return nil
}

// GetToken fetches an access token by code.
func (s *Store) GetToken(ctx context.Context, code string) (accesstoken.Token, error) {
	if err := ctx.Err(); err != nil {
		return accesstoken.Token{}, err
	}
	if s == nil || s.sqlDB == nil {
		return accesstoken.Token{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(code) == "" {
		return accesstoken.Token{}, fmt.Errorf("token code is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT code, kind, created_at, used_at, used_by, active, target_identity_id, expires_at
FROM access_tokens
WHERE code = ?
`, code)

	token, err := scanTokenRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return accesstoken.Token{}, accesstoken.ErrNotFound
		}
		return accesstoken.Token{}, fmt.Errorf("get access token: %w", err)
	}
	return token, nil
}

// ListTokens returns every access token, newest first.
func (s *Store) ListTokens(ctx context.Context) ([]accesstoken.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT code, kind, created_at, used_at, used_by, active, target_identity_id, expires_at
FROM access_tokens
ORDER BY created_at DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list access tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]accesstoken.Token, 0)
	for rows.Next() {
		token, err := scanTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access tokens: %w", err)
	}
	return tokens, nil
}

// ConsumeToken marks a still-valid token as used in a single conditional
// UPDATE. The WHERE clause re-checks validity at write time, so concurrent
// consumers of the same code race to exactly one affected row.
func (s *Store) ConsumeToken(ctx context.Context, code string, identityID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(code) == "" {
		return false, fmt.Errorf("token code is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE access_tokens
SET used_at = ?, used_by = ?, active = 0
WHERE code = ?
  AND active = 1
  AND used_at IS NULL
  AND (kind != ? OR (expires_at IS NOT NULL AND expires_at > ?))
`,
		toMillis(now),
		identityID,
		code,
		string(accesstoken.KindAccountLink),
		toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("consume access token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume access token rows: %w", err)
	}
	return affected > 0, nil
}

func scanTokenRow(row rowScanner) (accesstoken.Token, error) {
	var (
		code      string
		kind      string
		createdAt int64
		usedAt    sql.NullInt64
		usedBy    sql.NullString
		active    bool
		target    sql.NullString
		expires   sql.NullInt64
	)
	if err := row.Scan(&code, &kind, &createdAt, &usedAt, &usedBy, &active, &target, &expires); err != nil {
		return accesstoken.Token{}, err
	}

	token := accesstoken.Token{
		Code:      code,
		Kind:      accesstoken.ParseKind(kind),
		CreatedAt: fromMillis(createdAt),
		Active:    active,
	}
	if usedAt.Valid {
		value := fromMillis(usedAt.Int64)
		token.UsedAt = &value
	}
	if usedBy.Valid {
		token.UsedBy = usedBy.String
	}
	if target.Valid {
		token.TargetIdentityID = target.String
	}
	if expires.Valid {
		value := fromMillis(expires.Int64)
		token.ExpiresAt = &value
	}
	return token, nil
}
