// Package memory provides an in-memory store for development and tests.
//
// It mirrors the SQLite backend's semantics, including the atomic
// conditional token consume, behind the same interfaces.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/accesstoken"
	"github.com/edwardsharp/wild-ai-adventure/internal/identity"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage"
)

// Store keeps identities, credentials, and access tokens in process memory.
type Store struct {
	mu          sync.Mutex
	identities  map[string]identity.Identity
	usernames   map[string]string
	credentials map[string]storage.Credential
	tokens      map[string]accesstoken.Token
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		identities:  make(map[string]identity.Identity),
		usernames:   make(map[string]string),
		credentials: make(map[string]storage.Credential),
		tokens:      make(map[string]accesstoken.Token),
	}
}

// CreateIdentity inserts a new identity, enforcing username uniqueness.
func (s *Store) CreateIdentity(ctx context.Context, ident identity.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usernames[ident.Username]; ok {
		return storage.ErrConflict
	}
	if _, ok := s.identities[ident.ID]; ok {
		return storage.ErrConflict
	}
	s.identities[ident.ID] = ident
	s.usernames[ident.Username] = ident.ID
	return nil
}

// GetIdentity fetches an identity by id.
func (s *Store) GetIdentity(ctx context.Context, identityID string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[identityID]
	if !ok {
		return identity.Identity{}, storage.ErrNotFound
	}
	return ident, nil
}

// GetIdentityByUsername fetches an identity by its unique username.
func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usernames[username]
	if !ok {
		return identity.Identity{}, storage.ErrNotFound
	}
	return s.identities[id], nil
}

// ListIdentities returns every identity ordered by creation time.
func (s *Store) ListIdentities(ctx context.Context) ([]identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	identities := make([]identity.Identity, 0, len(s.identities))
	for _, ident := range s.identities {
		identities = append(identities, ident)
	}
	sort.Slice(identities, func(i, j int) bool {
		if identities[i].CreatedAt.Equal(identities[j].CreatedAt) {
			return identities[i].ID < identities[j].ID
		}
		return identities[i].CreatedAt.Before(identities[j].CreatedAt)
	})
	return identities, nil
}

// PutCredential upserts a credential record by credential id.
func (s *Store) PutCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[credential.CredentialID] = credential
	return nil
}

// GetCredential fetches a stored credential.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.Credential{}, storage.ErrNotFound
	}
	return credential, nil
}

// ListCredentials returns credentials for an identity ordered by creation time.
func (s *Store) ListCredentials(ctx context.Context, identityID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	credentials := make([]storage.Credential, 0)
	for _, credential := range s.credentials {
		if credential.IdentityID == identityID {
			credentials = append(credentials, credential)
		}
	}
	sort.Slice(credentials, func(i, j int) bool {
		return credentials[i].CreatedAt.Before(credentials[j].CreatedAt)
	})
	return credentials, nil
}

// UpdateCredential overwrites an existing credential record.
func (s *Store) UpdateCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[credential.CredentialID]; !ok {
		return storage.ErrNotFound
	}
	s.credentials[credential.CredentialID] = credential
	return nil
}

// CreateToken inserts a new access token record.
func (s *Store) CreateToken(ctx context.Context, token accesstoken.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.Code]; ok {
		return accesstoken.ErrDuplicate
	}
	s.tokens[token.Code] = token
	return nil
}

// GetToken fetches an access token by code.
func (s *Store) GetToken(ctx context.Context, code string) (accesstoken.Token, error) {
	if err := ctx.Err(); err != nil {
		return accesstoken.Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[code]
	if !ok {
		return accesstoken.Token{}, accesstoken.ErrNotFound
	}
	return token, nil
}

// ListTokens returns every access token, newest first.
func (s *Store) ListTokens(ctx context.Context) ([]accesstoken.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := make([]accesstoken.Token, 0, len(s.tokens))
	for _, token := range s.tokens {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

// ConsumeToken marks a still-valid token as used under the store lock, so
// concurrent consumers of the same code race to exactly one winner.
func (s *Store) ConsumeToken(ctx context.Context, code string, identityID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[code]
	if !ok || !token.IsValidForUse(now) {
		return false, nil
	}
	used := now
	token.UsedAt = &used
	token.UsedBy = identityID
	token.Active = false
	s.tokens[code] = token
	return true, nil
}
