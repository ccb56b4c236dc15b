// Package ceremony binds in-flight passkey ceremony state to login sessions.
//
// Each login session holds at most one pending ceremony, stored as a tagged
// variant so a registration finish can never be answered with authentication
// state or vice versa. Taking a pending ceremony removes it, so a replayed
// finish call fails instead of re-running verification.
package ceremony

import (
	"context"
	"encoding/json"

	"github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
)

// ErrCorruptSession reports a finish call with no matching pending ceremony.
var ErrCorruptSession = errors.New(errors.CodeCorruptSession, "no matching ceremony pending for this session")

// SessionStore is the request-session-scoped slot a Binder writes into.
// Values are opaque to the store. TTL and eviction belong to the surrounding
// login session; the Binder never expires entries itself.
type SessionStore interface {
	Set(ctx context.Context, key string, value []byte) error
	// Take atomically reads and deletes the value for key. The second
	// return is false when no value was present.
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// RegistrationPending is the state parked between register start and finish.
type RegistrationPending struct {
	Username   string `json:"username"`
	IdentityID string `json:"identity_id"`
	State      []byte `json:"state"`
	TokenCode  string `json:"token_code,omitempty"`
	IsLink     bool   `json:"is_link"`
}

// AuthenticationPending is the state parked between login start and finish.
type AuthenticationPending struct {
	IdentityID string `json:"identity_id"`
	State      []byte `json:"state"`
}

const (
	kindRegistration   = "registration"
	kindAuthentication = "authentication"
)

type envelope struct {
	Kind           string                 `json:"kind"`
	Registration   *RegistrationPending   `json:"registration,omitempty"`
	Authentication *AuthenticationPending `json:"authentication,omitempty"`
}

// Binder stores one pending ceremony per session key.
type Binder struct {
	sessions SessionStore
}

// NewBinder creates a Binder over the given session store.
func NewBinder(sessions SessionStore) *Binder {
	return &Binder{sessions: sessions}
}

// StartRegistration parks registration state under the session key,
// replacing any ceremony already pending there.
func (b *Binder) StartRegistration(ctx context.Context, sessionKey string, pending RegistrationPending) error {
	return b.put(ctx, sessionKey, envelope{Kind: kindRegistration, Registration: &pending})
}

// StartAuthentication parks authentication state under the session key,
// replacing any ceremony already pending there.
func (b *Binder) StartAuthentication(ctx context.Context, sessionKey string, pending AuthenticationPending) error {
	return b.put(ctx, sessionKey, envelope{Kind: kindAuthentication, Authentication: &pending})
}

// TakeRegistration removes and returns the pending registration for the
// session key. A missing slot or a pending ceremony of the wrong kind
// returns ErrCorruptSession; either way the slot is gone afterwards.
func (b *Binder) TakeRegistration(ctx context.Context, sessionKey string) (RegistrationPending, error) {
	env, err := b.take(ctx, sessionKey)
	if err != nil {
		return RegistrationPending{}, err
	}
	if env.Kind != kindRegistration || env.Registration == nil {
		return RegistrationPending{}, ErrCorruptSession
	}
	return *env.Registration, nil
}

// TakeAuthentication removes and returns the pending authentication for the
// session key, with the same kind discipline as TakeRegistration.
func (b *Binder) TakeAuthentication(ctx context.Context, sessionKey string) (AuthenticationPending, error) {
	env, err := b.take(ctx, sessionKey)
	if err != nil {
		return AuthenticationPending{}, err
	}
	if env.Kind != kindAuthentication || env.Authentication == nil {
		return AuthenticationPending{}, ErrCorruptSession
	}
	return *env.Authentication, nil
}

// Clear drops any pending ceremony for the session key. Used on logout.
func (b *Binder) Clear(ctx context.Context, sessionKey string) error {
	if err := b.sessions.Delete(ctx, sessionKey); err != nil {
		return errors.Wrap(errors.CodeDatabase, "clear ceremony state", err)
	}
	return nil
}

func (b *Binder) put(ctx context.Context, sessionKey string, env envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(errors.CodeUnknown, "encode ceremony state", err)
	}
	if err := b.sessions.Set(ctx, sessionKey, raw); err != nil {
		return errors.Wrap(errors.CodeDatabase, "store ceremony state", err)
	}
	return nil
}

func (b *Binder) take(ctx context.Context, sessionKey string) (envelope, error) {
	raw, ok, err := b.sessions.Take(ctx, sessionKey)
	if err != nil {
		return envelope{}, errors.Wrap(errors.CodeDatabase, "take ceremony state", err)
	}
	if !ok {
		return envelope{}, ErrCorruptSession
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, ErrCorruptSession
	}
	return env, nil
}
