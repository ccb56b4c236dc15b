// Package identity provides the user identity domain model.
package identity

import (
	"strings"
	"time"

	apperrors "github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
)

// ErrEmptyUsername indicates a missing username.
var ErrEmptyUsername = apperrors.New(apperrors.CodeUsernameEmpty, "username is required")

// Role describes the privilege level of an identity.
type Role string

const (
	// RoleAdmin is granted to the first identity ever created.
	RoleAdmin Role = "admin"
	// RoleMember is the default role for every later identity.
	RoleMember Role = "member"
)

// ParseRole maps a stored role string to a Role, defaulting to member.
func ParseRole(s string) Role {
	if s == string(RoleAdmin) {
		return RoleAdmin
	}
	return RoleMember
}

// Identity represents a registered user account.
type Identity struct {
	ID        string
	Username  string
	Role      Role
	CreatedAt time.Time
	// OriginTokenCode records the access token used at registration, if any.
	OriginTokenCode string
}

// NormalizeUsername trims surrounding whitespace and rejects empty names.
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrEmptyUsername
	}
	return username, nil
}

// New assembles an identity record from a pre-allocated id and a username.
//
// Registration allocates the id at ceremony start so the credential's user
// handle and the stored identity always agree; this is the point where an
// untrusted username becomes a stable identity.
func New(identityID, username string, role Role, originTokenCode string, createdAt time.Time) (Identity, error) {
	normalized, err := NormalizeUsername(username)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		ID:              identityID,
		Username:        normalized,
		Role:            role,
		CreatedAt:       createdAt.UTC(),
		OriginTokenCode: originTokenCode,
	}, nil
}
