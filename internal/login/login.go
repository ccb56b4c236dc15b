// Package login orchestrates authentication ceremonies.
package login

import (
	"context"
	stderrors "errors"
	"log"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/ceremony"
	"github.com/edwardsharp/wild-ai-adventure/internal/engine"
	"github.com/edwardsharp/wild-ai-adventure/internal/identity"
	"github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage"
)

// ErrUserNotFound indicates no identity exists for the requested username.
var ErrUserNotFound = errors.New(errors.CodeUserNotFound, "no account for that username")

// ErrUserHasNoCredentials indicates an identity with nothing to
// authenticate against.
var ErrUserHasNoCredentials = errors.New(errors.CodeUserHasNoCredentials, "account has no registered credentials")

// Result reports a completed authentication ceremony.
type Result struct {
	Identity     identity.Identity
	CredentialID string
}

// Service drives login ceremonies.
type Service struct {
	identities  storage.IdentityStore
	credentials storage.CredentialStore
	binder      *ceremony.Binder
	engine      engine.Engine
	clock       func() time.Time
}

// NewService builds a login service with the default clock.
func NewService(identities storage.IdentityStore, credentials storage.CredentialStore, binder *ceremony.Binder, eng engine.Engine) *Service {
	return &Service{
		identities:  identities,
		credentials: credentials,
		binder:      binder,
		engine:      eng,
		clock:       time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Start resolves the identity, asks the engine for an assertion challenge
// over its credentials, and parks the pending ceremony on the session key.
func (s *Service) Start(ctx context.Context, sessionKey, username string) ([]byte, error) {
	username, err := identity.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	ident, err := s.identities.GetIdentityByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(errors.CodeDatabase, "resolve identity", err)
	}

	credentials, err := s.credentials.ListCredentials(ctx, ident.ID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDatabase, "list credentials", err)
	}
	if len(credentials) == 0 {
		return nil, ErrUserHasNoCredentials
	}

	challenge, state, err := s.engine.BeginAuthentication(engine.User{
		ID:          ident.ID,
		Name:        ident.Username,
		Credentials: engineCredentials(credentials),
	})
	if err != nil {
		return nil, err
	}

	err = s.binder.StartAuthentication(ctx, sessionKey, ceremony.AuthenticationPending{
		IdentityID: ident.ID,
		State:      state,
	})
	if err != nil {
		return nil, err
	}
	return challenge, nil
}

// Finish takes the pending ceremony and verifies the assertion response.
// Counter and last-used persistence is best-effort: a store failure after a
// successful verification is logged, never turned into a login failure.
func (s *Service) Finish(ctx context.Context, sessionKey string, response []byte) (Result, error) {
	pending, err := s.binder.TakeAuthentication(ctx, sessionKey)
	if err != nil {
		return Result{}, err
	}

	ident, err := s.identities.GetIdentity(ctx, pending.IdentityID)
	if err != nil {
		return Result{}, errors.Wrap(errors.CodeDatabase, "load identity", err)
	}
	credentials, err := s.credentials.ListCredentials(ctx, ident.ID)
	if err != nil {
		return Result{}, errors.Wrap(errors.CodeDatabase, "list credentials", err)
	}

	updated, err := s.engine.FinishAuthentication(engine.User{
		ID:          ident.ID,
		Name:        ident.Username,
		Credentials: engineCredentials(credentials),
	}, pending.State, response)
	if err != nil {
		return Result{}, err
	}

	s.persistUpdatedCredential(ctx, ident.ID, credentials, updated)

	return Result{Identity: ident, CredentialID: updated.ID}, nil
}

// persistUpdatedCredential writes the engine's post-verification view of the
// matched credential back to the store, carrying the new signature counter
// and a fresh last-used timestamp.
func (s *Service) persistUpdatedCredential(ctx context.Context, identityID string, stored []storage.Credential, updated engine.Credential) {
	now := s.clock().UTC()
	for _, record := range stored {
		if record.CredentialID != updated.ID {
			continue
		}
		record.CredentialJSON = string(updated.Blob)
		record.UpdatedAt = now
		record.LastUsedAt = &now
		if err := s.credentials.UpdateCredential(ctx, record); err != nil {
			log.Printf("login: update credential %s for identity %s: %v", record.CredentialID, identityID, err)
		}
		return
	}
	log.Printf("login: verified credential %s not found for identity %s", updated.ID, identityID)
}

func engineCredentials(records []storage.Credential) []engine.Credential {
	credentials := make([]engine.Credential, 0, len(records))
	for _, record := range records {
		credentials = append(credentials, engine.Credential{ID: record.CredentialID, Blob: []byte(record.CredentialJSON)})
	}
	return credentials
}
