// Package register orchestrates registration and account-link ceremonies.
//
// A ceremony moves from start (challenge issued, pending state parked on the
// login session) to finish (response verified, identity and credential
// committed). Start-time failures leave no residual state; finish always
// consumes the pending state before verification, so a failed finish cannot
// be retried with the same challenge.
package register

import (
	"context"
	stderrors "errors"
	"log"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/accesstoken"
	"github.com/edwardsharp/wild-ai-adventure/internal/ceremony"
	"github.com/edwardsharp/wild-ai-adventure/internal/engine"
	"github.com/edwardsharp/wild-ai-adventure/internal/identity"
	"github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
	"github.com/edwardsharp/wild-ai-adventure/internal/platform/id"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage"
)

// ErrInvalidToken covers every token problem surfaced to the caller: missing
// when required, unknown, already used, expired, or bound to another account.
// The cases are deliberately indistinguishable from outside.
var ErrInvalidToken = errors.New(errors.CodeInvalidToken, "access token is missing, invalid, or already used")

// ErrUserAlreadyExists indicates the requested username is taken.
var ErrUserAlreadyExists = errors.New(errors.CodeUserAlreadyExists, "username is already registered")

// Config controls registration policy.
type Config struct {
	// RequireToken makes a valid access token mandatory for new accounts.
	RequireToken bool `env:"WILD_AI_ADVENTURE_REQUIRE_INVITE" envDefault:"true"`
}

// ResultKind distinguishes a brand-new account from a linked credential.
type ResultKind string

const (
	// ResultRegistered means a new identity and credential were created.
	ResultRegistered ResultKind = "registered"
	// ResultLinked means a credential was added to an existing identity.
	ResultLinked ResultKind = "linked"
)

// Result reports a completed registration ceremony.
type Result struct {
	Kind         ResultKind
	Identity     identity.Identity
	CredentialID string
}

// Service drives registration ceremonies.
type Service struct {
	identities  storage.IdentityStore
	credentials storage.CredentialStore
	tokens      *accesstoken.Registry
	binder      *ceremony.Binder
	engine      engine.Engine
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewService builds a registration service with default clock and id source.
func NewService(identities storage.IdentityStore, credentials storage.CredentialStore, tokens *accesstoken.Registry, binder *ceremony.Binder, eng engine.Engine, config Config) *Service {
	return &Service{
		identities:  identities,
		credentials: credentials,
		tokens:      tokens,
		binder:      binder,
		engine:      eng,
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithIDGenerator overrides identity id generation. Test hook.
func (s *Service) WithIDGenerator(idGenerator func() (string, error)) *Service {
	s.idGenerator = idGenerator
	return s
}

// Start validates policy and token, asks the engine for a creation
// challenge, and parks the pending ceremony on the session key. Any prior
// pending ceremony for that key is replaced.
func (s *Service) Start(ctx context.Context, sessionKey, username, tokenCode string) ([]byte, error) {
	username, err := identity.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	var token accesstoken.Token
	hasToken := tokenCode != ""
	if hasToken {
		token, err = s.resolveToken(ctx, tokenCode)
		if err != nil {
			return nil, err
		}
	} else if s.config.RequireToken {
		return nil, ErrInvalidToken
	}

	var identityID string
	var isLink bool
	var existing []storage.Credential
	if hasToken && token.IsAccountLink() {
		// A link code only works against the account it was minted for.
		// Requiring the username to match stops a stolen code from being
		// replayed to attach an attacker credential elsewhere.
		target, err := s.identities.GetIdentity(ctx, token.TargetIdentityID)
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return nil, ErrInvalidToken
			}
			return nil, errors.Wrap(errors.CodeDatabase, "resolve link target", err)
		}
		if target.Username != username {
			return nil, ErrInvalidToken
		}
		identityID = target.ID
		isLink = true
		existing, err = s.credentials.ListCredentials(ctx, identityID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeDatabase, "list credentials", err)
		}
	} else {
		_, err := s.identities.GetIdentityByUsername(ctx, username)
		if err == nil {
			return nil, ErrUserAlreadyExists
		}
		if !stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrap(errors.CodeDatabase, "check username", err)
		}
		identityID, err = s.idGenerator()
		if err != nil {
			return nil, errors.Wrap(errors.CodeUnknown, "generate identity id", err)
		}
	}

	challenge, state, err := s.engine.BeginRegistration(engine.User{
		ID:          identityID,
		Name:        username,
		Credentials: engineCredentials(existing),
	})
	if err != nil {
		return nil, err
	}

	err = s.binder.StartRegistration(ctx, sessionKey, ceremony.RegistrationPending{
		Username:   username,
		IdentityID: identityID,
		State:      state,
		TokenCode:  tokenCode,
		IsLink:     isLink,
	})
	if err != nil {
		return nil, err
	}
	return challenge, nil
}

// Finish takes the pending ceremony, verifies the client response, and
// commits the identity and credential. The ceremony is gone afterwards
// whether or not verification succeeds.
func (s *Service) Finish(ctx context.Context, sessionKey string, response []byte) (Result, error) {
	pending, err := s.binder.TakeRegistration(ctx, sessionKey)
	if err != nil {
		return Result{}, err
	}

	var existing []storage.Credential
	if pending.IsLink {
		existing, err = s.credentials.ListCredentials(ctx, pending.IdentityID)
		if err != nil {
			return Result{}, errors.Wrap(errors.CodeDatabase, "list credentials", err)
		}
	}

	credential, err := s.engine.FinishRegistration(engine.User{
		ID:          pending.IdentityID,
		Name:        pending.Username,
		Credentials: engineCredentials(existing),
	}, pending.State, response)
	if err != nil {
		return Result{}, err
	}

	if pending.IsLink {
		return s.finishLink(ctx, pending, credential)
	}
	return s.finishNew(ctx, pending, credential)
}

// finishLink attaches the verified credential to the existing identity.
// Credential save and token consume are deliberately not transactional: the
// credential lands first, and a consume that then fails leaves a
// usable-but-unconsumed token rather than a locked-out user.
func (s *Service) finishLink(ctx context.Context, pending ceremony.RegistrationPending, credential engine.Credential) (Result, error) {
	if err := s.saveCredential(ctx, pending.IdentityID, credential); err != nil {
		return Result{}, err
	}
	s.consumeBestEffort(ctx, pending.TokenCode, pending.IdentityID)

	ident, err := s.identities.GetIdentity(ctx, pending.IdentityID)
	if err != nil {
		return Result{}, errors.Wrap(errors.CodeDatabase, "load linked identity", err)
	}
	return Result{Kind: ResultLinked, Identity: ident, CredentialID: credential.ID}, nil
}

// finishNew creates the identity and its first credential. The first
// identity ever created gets the admin role; the emptiness check and the
// insert are not one transaction, so two racing first registrations can
// both observe an empty store and both become admin.
func (s *Service) finishNew(ctx context.Context, pending ceremony.RegistrationPending, credential engine.Credential) (Result, error) {
	all, err := s.identities.ListIdentities(ctx)
	if err != nil {
		return Result{}, errors.Wrap(errors.CodeDatabase, "count identities", err)
	}
	role := identity.RoleMember
	if len(all) == 0 {
		role = identity.RoleAdmin
	}

	ident, err := identity.New(pending.IdentityID, pending.Username, role, pending.TokenCode, s.clock())
	if err != nil {
		return Result{}, err
	}
	if err := s.identities.CreateIdentity(ctx, ident); err != nil {
		if stderrors.Is(err, storage.ErrConflict) {
			return Result{}, errors.Wrap(errors.CodeConflict, "username registered concurrently", err)
		}
		return Result{}, errors.Wrap(errors.CodeDatabase, "create identity", err)
	}

	if err := s.saveCredential(ctx, ident.ID, credential); err != nil {
		return Result{}, err
	}
	if pending.TokenCode != "" {
		s.consumeBestEffort(ctx, pending.TokenCode, ident.ID)
	}
	return Result{Kind: ResultRegistered, Identity: ident, CredentialID: credential.ID}, nil
}

func (s *Service) saveCredential(ctx context.Context, identityID string, credential engine.Credential) error {
	now := s.clock().UTC()
	err := s.credentials.PutCredential(ctx, storage.Credential{
		CredentialID:   credential.ID,
		IdentityID:     identityID,
		CredentialJSON: string(credential.Blob),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return errors.Wrap(errors.CodeDatabase, "save credential", err)
	}
	return nil
}

// consumeBestEffort marks the token used. Losing the race or hitting a store
// error is logged, never surfaced: the account change already committed.
func (s *Service) consumeBestEffort(ctx context.Context, code, identityID string) {
	won, err := s.tokens.Consume(ctx, code, identityID)
	if err != nil {
		log.Printf("register: consume token %q for identity %s: %v", code, identityID, err)
		return
	}
	if !won {
		log.Printf("register: token %q no longer consumable for identity %s", code, identityID)
	}
}

// resolveToken maps every invalid-token condition to ErrInvalidToken so the
// caller cannot distinguish unknown, used, and expired codes.
func (s *Service) resolveToken(ctx context.Context, code string) (accesstoken.Token, error) {
	if err := accesstoken.ValidateCodeFormat(code); err != nil {
		return accesstoken.Token{}, ErrInvalidToken
	}
	token, err := s.tokens.Validate(ctx, code)
	if err != nil {
		if stderrors.Is(err, accesstoken.ErrNotFound) {
			return accesstoken.Token{}, ErrInvalidToken
		}
		return accesstoken.Token{}, err
	}
	if !token.IsValidForUse(s.clock().UTC()) {
		return accesstoken.Token{}, ErrInvalidToken
	}
	return token, nil
}

func engineCredentials(records []storage.Credential) []engine.Credential {
	if len(records) == 0 {
		return nil
	}
	credentials := make([]engine.Credential, 0, len(records))
	for _, record := range records {
		credentials = append(credentials, engine.Credential{ID: record.CredentialID, Blob: []byte(record.CredentialJSON)})
	}
	return credentials
}
