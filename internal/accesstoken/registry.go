package accesstoken

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
)

// ErrNotFound indicates a token code with no stored record.
var ErrNotFound = apperrors.New(apperrors.CodeTokenNotFound, "access token not found")

// ErrDuplicate indicates a token code that already exists.
var ErrDuplicate = apperrors.New(apperrors.CodeTokenDuplicate, "access token code already exists")

// Store persists access tokens.
//
// ConsumeToken must be atomic: under concurrent callers for the same code,
// exactly one observes true.
type Store interface {
	CreateToken(ctx context.Context, token Token) error
	GetToken(ctx context.Context, code string) (Token, error)
	ListTokens(ctx context.Context) ([]Token, error)
	ConsumeToken(ctx context.Context, code string, identityID string, now time.Time) (bool, error)
}

// Registry validates, mints, and consumes access tokens over a Store.
type Registry struct {
	store Store
	clock func() time.Time
}

// NewRegistry builds a registry with the default clock.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, clock: time.Now}
}

// WithClock overrides the registry clock. Test hook.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// CreateInvite mints a new invite token with the given code.
func (r *Registry) CreateInvite(ctx context.Context, code string) (Token, error) {
	return r.create(ctx, Token{
		Code:   code,
		Kind:   KindInvite,
		Active: true,
	})
}

// CreateAccountLink mints a token that authorizes a new credential on an
// existing identity. The token expires at expiresAt.
func (r *Registry) CreateAccountLink(ctx context.Context, code string, targetIdentityID string, expiresAt time.Time) (Token, error) {
	if targetIdentityID == "" {
		return Token{}, apperrors.New(apperrors.CodeTokenMissingTarget, "account-link token requires a target identity")
	}
	return r.create(ctx, Token{
		Code:             code,
		Kind:             KindAccountLink,
		Active:           true,
		TargetIdentityID: targetIdentityID,
		ExpiresAt:        &expiresAt,
	})
}

func (r *Registry) create(ctx context.Context, token Token) (Token, error) {
	if err := ValidateCodeFormat(token.Code); err != nil {
		return Token{}, err
	}
	token.CreatedAt = r.clock().UTC()
	if err := r.store.CreateToken(ctx, token); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Token{}, err
		}
		return Token{}, apperrors.Wrap(apperrors.CodeDatabase, "create access token", err)
	}
	return token, nil
}

// Validate resolves a token code to its stored record.
func (r *Registry) Validate(ctx context.Context, code string) (Token, error) {
	token, err := r.store.GetToken(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Token{}, err
		}
		return Token{}, apperrors.Wrap(apperrors.CodeDatabase, "get access token", err)
	}
	return token, nil
}

// Consume atomically marks a still-valid token as used by identityID.
// It reports false when the token was already consumed, deactivated, expired,
// or never existed.
func (r *Registry) Consume(ctx context.Context, code string, identityID string) (bool, error) {
	return r.store.ConsumeToken(ctx, code, identityID, r.clock().UTC())
}

// List returns every stored token, newest first.
func (r *Registry) List(ctx context.Context) ([]Token, error) {
	return r.store.ListTokens(ctx)
}
