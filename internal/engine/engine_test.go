package engine

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
)

type fakeProvider struct {
	beginRegistrationOpts int
	createCredential      *webauthn.Credential
	createErr             error
	validateCredential    *webauthn.Credential
	validateErr           error
}

func (f *fakeProvider) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	f.beginRegistrationOpts = len(opts)
	return &protocol.CredentialCreation{}, &webauthn.SessionData{UserID: user.WebAuthnID()}, nil
}

func (f *fakeProvider) CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return f.createCredential, f.createErr
}

func (f *fakeProvider) BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{UserID: user.WebAuthnID()}, nil
}

func (f *fakeProvider) ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	return f.validateCredential, f.validateErr
}

type fakeParser struct {
	creationErr  error
	assertionErr error
}

func (f fakeParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return &protocol.ParsedCredentialCreationData{}, f.creationErr
}

func (f fakeParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return &protocol.ParsedCredentialAssertionData{}, f.assertionErr
}

func newTestEngine(provider *fakeProvider, parser fakeParser) *WebAuthnEngine {
	return &WebAuthnEngine{webAuthn: provider, parser: parser}
}

func mustBlob(t *testing.T, credential webauthn.Credential) []byte {
	t.Helper()
	blob, err := json.Marshal(credential)
	if err != nil {
		t.Fatalf("marshal credential: %v", err)
	}
	return blob
}

func TestBeginRegistrationExcludesExistingCredentials(t *testing.T) {
	provider := &fakeProvider{}
	eng := newTestEngine(provider, fakeParser{})

	blob := mustBlob(t, webauthn.Credential{ID: []byte("cred-raw")})
	challenge, state, err := eng.BeginRegistration(User{
		ID:          "id-1",
		Name:        "alice",
		Credentials: []Credential{{ID: "cred", Blob: blob}},
	})
	if err != nil {
		t.Fatalf("BeginRegistration: %v", err)
	}
	if len(challenge) == 0 || len(state) == 0 {
		t.Fatal("expected challenge and state payloads")
	}
	// Resident key requirement plus exclusions.
	if provider.beginRegistrationOpts != 2 {
		t.Fatalf("expected 2 registration options, got %d", provider.beginRegistrationOpts)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		t.Fatalf("state is not session data: %v", err)
	}
	if string(session.UserID) != "id-1" {
		t.Fatalf("session bound to wrong user: %q", session.UserID)
	}
}

func TestBeginRegistrationNoExclusionsForNewUser(t *testing.T) {
	provider := &fakeProvider{}
	eng := newTestEngine(provider, fakeParser{})

	if _, _, err := eng.BeginRegistration(User{ID: "id-1", Name: "alice"}); err != nil {
		t.Fatalf("BeginRegistration: %v", err)
	}
	if provider.beginRegistrationOpts != 1 {
		t.Fatalf("expected only resident key option, got %d options", provider.beginRegistrationOpts)
	}
}

func TestFinishRegistrationVerificationFailure(t *testing.T) {
	provider := &fakeProvider{createErr: stderrors.New("attestation rejected")}
	eng := newTestEngine(provider, fakeParser{})

	state := mustState(t)
	_, err := eng.FinishRegistration(User{ID: "id-1", Name: "alice"}, state, []byte(`{}`))
	if errors.GetCode(err) != errors.CodeVerificationFailed {
		t.Fatalf("expected CodeVerificationFailed, got %v", err)
	}
}

func TestFinishRegistrationBadResponse(t *testing.T) {
	eng := newTestEngine(&fakeProvider{}, fakeParser{creationErr: stderrors.New("truncated")})

	_, err := eng.FinishRegistration(User{ID: "id-1", Name: "alice"}, mustState(t), []byte(`{`))
	if errors.GetCode(err) != errors.CodeVerificationFailed {
		t.Fatalf("expected CodeVerificationFailed, got %v", err)
	}
}

func TestFinishRegistrationReturnsCredential(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	provider := &fakeProvider{createCredential: &webauthn.Credential{ID: raw}}
	eng := newTestEngine(provider, fakeParser{})

	credential, err := eng.FinishRegistration(User{ID: "id-1", Name: "alice"}, mustState(t), []byte(`{}`))
	if err != nil {
		t.Fatalf("FinishRegistration: %v", err)
	}
	if credential.ID != EncodeCredentialID(raw) {
		t.Fatalf("credential id mismatch: %q", credential.ID)
	}
	var decoded webauthn.Credential
	if err := json.Unmarshal(credential.Blob, &decoded); err != nil {
		t.Fatalf("blob is not a credential: %v", err)
	}
}

func TestFinishAuthenticationCloneWarning(t *testing.T) {
	cloned := &webauthn.Credential{ID: []byte("cred")}
	cloned.Authenticator.CloneWarning = true
	provider := &fakeProvider{validateCredential: cloned}
	eng := newTestEngine(provider, fakeParser{})

	_, err := eng.FinishAuthentication(User{ID: "id-1", Name: "alice"}, mustState(t), []byte(`{}`))
	if errors.GetCode(err) != errors.CodeVerificationFailed {
		t.Fatalf("expected CodeVerificationFailed, got %v", err)
	}
}

func TestFinishAuthenticationUpdatedCounter(t *testing.T) {
	updated := &webauthn.Credential{ID: []byte("cred")}
	updated.Authenticator.SignCount = 7
	provider := &fakeProvider{validateCredential: updated}
	eng := newTestEngine(provider, fakeParser{})

	credential, err := eng.FinishAuthentication(User{ID: "id-1", Name: "alice"}, mustState(t), []byte(`{}`))
	if err != nil {
		t.Fatalf("FinishAuthentication: %v", err)
	}
	var decoded webauthn.Credential
	if err := json.Unmarshal(credential.Blob, &decoded); err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	if decoded.Authenticator.SignCount != 7 {
		t.Fatalf("expected updated counter, got %d", decoded.Authenticator.SignCount)
	}
}

func TestFinishCorruptState(t *testing.T) {
	eng := newTestEngine(&fakeProvider{}, fakeParser{})

	_, err := eng.FinishRegistration(User{ID: "id-1", Name: "alice"}, []byte("not json"), []byte(`{}`))
	if errors.GetCode(err) != errors.CodeCorruptSession {
		t.Fatalf("expected CodeCorruptSession, got %v", err)
	}
}

func TestDecodeCredentialsRejectsBadBlob(t *testing.T) {
	eng := newTestEngine(&fakeProvider{}, fakeParser{})

	_, _, err := eng.BeginAuthentication(User{
		ID:          "id-1",
		Name:        "alice",
		Credentials: []Credential{{ID: "cred", Blob: []byte("garbage")}},
	})
	if errors.GetCode(err) != errors.CodeDatabase {
		t.Fatalf("expected CodeDatabase, got %v", err)
	}
}

func mustState(t *testing.T) []byte {
	t.Helper()
	state, err := json.Marshal(webauthn.SessionData{UserID: []byte("id-1")})
	if err != nil {
		t.Fatalf("marshal session data: %v", err)
	}
	return state
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg := LoadConfigFromEnv()
	if cfg.RPID == "" || cfg.RPDisplayName == "" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if len(cfg.RPOrigins) == 0 {
		t.Fatal("expected default origins")
	}
}
