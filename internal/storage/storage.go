// Package storage defines persistence interfaces for identities and credentials.
package storage

import (
	"context"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/identity"
	apperrors "github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrConflict indicates a unique-constraint violation, usually a username race.
var ErrConflict = apperrors.New(apperrors.CodeConflict, "record already exists")

// Credential stores an engine-produced public-key credential for one identity.
// CredentialJSON is the engine's opaque serialized blob; the core never
// inspects it.
type Credential struct {
	CredentialID   string
	IdentityID     string
	CredentialJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// IdentityStore persists identity records.
type IdentityStore interface {
	// CreateIdentity inserts a new identity, returning ErrConflict when the
	// username is already taken.
	CreateIdentity(ctx context.Context, ident identity.Identity) error
	GetIdentity(ctx context.Context, identityID string) (identity.Identity, error)
	GetIdentityByUsername(ctx context.Context, username string) (identity.Identity, error)
	// ListIdentities returns every identity ordered by creation time.
	ListIdentities(ctx context.Context) ([]identity.Identity, error)
}

// CredentialStore persists public-key credentials.
type CredentialStore interface {
	// PutCredential upserts by credential id.
	PutCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentials(ctx context.Context, identityID string) ([]Credential, error)
	// UpdateCredential overwrites an existing credential record.
	UpdateCredential(ctx context.Context, credential Credential) error
}
