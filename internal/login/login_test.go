package login

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/ceremony"
	"github.com/edwardsharp/wild-ai-adventure/internal/engine"
	"github.com/edwardsharp/wild-ai-adventure/internal/identity"
	apperrors "github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage/memory"
)

type fakeEngine struct {
	finishErr    error
	updatedBlob  []byte
	lastSubject  engine.User
	verifiedCred string
}

func (f *fakeEngine) BeginRegistration(u engine.User) ([]byte, []byte, error) {
	return nil, nil, stderrors.New("not used in login tests")
}

func (f *fakeEngine) FinishRegistration(u engine.User, state, response []byte) (engine.Credential, error) {
	return engine.Credential{}, stderrors.New("not used in login tests")
}

func (f *fakeEngine) BeginAuthentication(u engine.User) ([]byte, []byte, error) {
	f.lastSubject = u
	return []byte(`{"kind":"assertion"}`), []byte(`{"user":"` + u.ID + `"}`), nil
}

func (f *fakeEngine) FinishAuthentication(u engine.User, state, response []byte) (engine.Credential, error) {
	if f.finishErr != nil {
		return engine.Credential{}, f.finishErr
	}
	blob := f.updatedBlob
	if blob == nil {
		blob = []byte(`{"counter":1}`)
	}
	return engine.Credential{ID: f.verifiedCred, Blob: blob}, nil
}

type fixture struct {
	store   *memory.Store
	engine  *fakeEngine
	service *Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	eng := &fakeEngine{verifiedCred: "cred-1"}
	binder := ceremony.NewBinder(ceremony.NewMemorySessionStore())
	service := NewService(store, store, binder, eng).WithClock(func() time.Time { return now })
	return &fixture{store: store, engine: eng, service: service, now: now}
}

func (f *fixture) seedUser(t *testing.T, username string, credentialIDs ...string) identity.Identity {
	t.Helper()
	ctx := context.Background()
	ident := identity.Identity{
		ID:        "id-" + username,
		Username:  username,
		Role:      identity.RoleMember,
		CreatedAt: f.now,
	}
	if err := f.store.CreateIdentity(ctx, ident); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	for _, credentialID := range credentialIDs {
		err := f.store.PutCredential(ctx, storage.Credential{
			CredentialID:   credentialID,
			IdentityID:     ident.ID,
			CredentialJSON: `{"counter":0}`,
			CreatedAt:      f.now,
			UpdatedAt:      f.now,
		})
		if err != nil {
			t.Fatalf("PutCredential: %v", err)
		}
	}
	return ident
}

func TestLoginHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", "cred-1")

	challenge, err := f.service.Start(ctx, "sess-1", "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(challenge) == 0 {
		t.Fatal("expected a challenge")
	}
	if f.engine.lastSubject.ID != alice.ID || len(f.engine.lastSubject.Credentials) != 1 {
		t.Fatalf("engine saw wrong subject: %+v", f.engine.lastSubject)
	}

	result, err := f.service.Finish(ctx, "sess-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if result.Identity.ID != alice.ID || result.CredentialID != "cred-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Start(context.Background(), "sess-1", "nobody")
	if !apperrors.IsCode(err, apperrors.CodeUserNotFound) {
		t.Fatalf("expected CodeUserNotFound, got %v", err)
	}
}

func TestUserWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")

	_, err := f.service.Start(context.Background(), "sess-1", "alice")
	if !apperrors.IsCode(err, apperrors.CodeUserHasNoCredentials) {
		t.Fatalf("expected CodeUserHasNoCredentials, got %v", err)
	}
}

func TestFinishWithoutStart(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Finish(context.Background(), "sess-1", []byte(`{}`))
	if !apperrors.IsCode(err, apperrors.CodeCorruptSession) {
		t.Fatalf("expected CodeCorruptSession, got %v", err)
	}
}

func TestDoubleFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", "cred-1")

	if _, err := f.service.Start(ctx, "sess-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.service.Finish(ctx, "sess-1", []byte(`{}`)); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	_, err := f.service.Finish(ctx, "sess-1", []byte(`{}`))
	if !apperrors.IsCode(err, apperrors.CodeCorruptSession) {
		t.Fatalf("expected CodeCorruptSession, got %v", err)
	}
}

func TestVerificationFailureNotRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", "cred-1")

	if _, err := f.service.Start(ctx, "sess-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.engine.finishErr = apperrors.New(apperrors.CodeVerificationFailed, "assertion rejected")
	if _, err := f.service.Finish(ctx, "sess-1", []byte(`{}`)); !apperrors.IsCode(err, apperrors.CodeVerificationFailed) {
		t.Fatalf("expected CodeVerificationFailed, got %v", err)
	}

	f.engine.finishErr = nil
	_, err := f.service.Finish(ctx, "sess-1", []byte(`{}`))
	if !apperrors.IsCode(err, apperrors.CodeCorruptSession) {
		t.Fatalf("expected CodeCorruptSession, got %v", err)
	}
}

func TestCounterPersistedOnFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", "cred-1", "cred-2")
	f.engine.verifiedCred = "cred-2"
	f.engine.updatedBlob = []byte(`{"counter":9}`)

	if _, err := f.service.Start(ctx, "sess-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.service.Finish(ctx, "sess-1", []byte(`{}`)); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	matched, err := f.store.GetCredential(ctx, "cred-2")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if string(matched.CredentialJSON) != `{"counter":9}` {
		t.Fatalf("counter not persisted: %s", matched.CredentialJSON)
	}
	if matched.LastUsedAt == nil || !matched.LastUsedAt.Equal(f.now) {
		t.Fatalf("last used not stamped: %+v", matched.LastUsedAt)
	}

	// The untouched credential keeps its original payload.
	other, err := f.store.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if string(other.CredentialJSON) != `{"counter":0}` {
		t.Fatalf("unmatched credential modified: %s", other.CredentialJSON)
	}
	if other.IdentityID != alice.ID {
		t.Fatalf("credential owner changed: %+v", other)
	}
}

func TestPersistenceFailureDoesNotFailLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", "cred-1")

	// The engine reports a credential id the store has never seen; the
	// mismatch is logged and the login still succeeds.
	f.engine.verifiedCred = "cred-ghost"

	if _, err := f.service.Start(ctx, "sess-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := f.service.Finish(ctx, "sess-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if result.CredentialID != "cred-ghost" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
