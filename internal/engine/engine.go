// Package engine wraps the WebAuthn protocol library behind a narrow
// challenge/response interface. Callers treat challenges, ceremony state,
// and credential payloads as opaque bytes; nothing outside this package
// inspects attestation or assertion internals.
package engine

import (
	"encoding/base64"
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
)

// Credential is an engine-produced public-key credential. ID is the
// URL-safe encoded credential id used as the storage key; Blob is the
// engine's serialized form, round-tripped through the credential store.
type Credential struct {
	ID   string
	Blob []byte
}

// User identifies the ceremony subject and carries its known credentials.
type User struct {
	ID          string
	Name        string
	Credentials []Credential
}

// Engine runs the cryptographic half of passkey ceremonies.
type Engine interface {
	BeginRegistration(u User) (challenge []byte, state []byte, err error)
	FinishRegistration(u User, state []byte, response []byte) (Credential, error)
	BeginAuthentication(u User) (challenge []byte, state []byte, err error)
	FinishAuthentication(u User, state []byte, response []byte) (Credential, error)
}

type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type responseParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// WebAuthnEngine implements Engine on go-webauthn.
type WebAuthnEngine struct {
	webAuthn provider
	parser   responseParser
}

// New builds an engine for the given relying party configuration.
func New(cfg Config) (*WebAuthnEngine, error) {
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnknown, "configure webauthn relying party", err)
	}
	return &WebAuthnEngine{webAuthn: webAuthn, parser: defaultParser{}}, nil
}

// BeginRegistration issues a creation challenge for the user, excluding its
// existing credentials so an authenticator is never enrolled twice.
func (e *WebAuthnEngine) BeginRegistration(u User) ([]byte, []byte, error) {
	subject, err := newSubject(u)
	if err != nil {
		return nil, nil, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(subject.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(subject.credentials).CredentialDescriptors()))
	}

	creation, session, err := e.webAuthn.BeginRegistration(subject, options...)
	if err != nil {
		return nil, nil, errors.Wrap(errors.CodeUnknown, "begin registration ceremony", err)
	}
	return marshalCeremony(creation, session)
}

// FinishRegistration verifies an attestation response against the parked
// ceremony state and returns the new credential.
func (e *WebAuthnEngine) FinishRegistration(u User, state []byte, response []byte) (Credential, error) {
	subject, err := newSubject(u)
	if err != nil {
		return Credential{}, err
	}
	session, err := unmarshalState(state)
	if err != nil {
		return Credential{}, err
	}

	parsed, err := e.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return Credential{}, errors.Wrap(errors.CodeVerificationFailed, "parse registration response", err)
	}
	credential, err := e.webAuthn.CreateCredential(subject, session, parsed)
	if err != nil {
		return Credential{}, errors.Wrap(errors.CodeVerificationFailed, "verify registration response", err)
	}
	return encodeCredential(credential)
}

// BeginAuthentication issues an assertion challenge over the user's
// known credentials.
func (e *WebAuthnEngine) BeginAuthentication(u User) ([]byte, []byte, error) {
	subject, err := newSubject(u)
	if err != nil {
		return nil, nil, err
	}

	assertion, session, err := e.webAuthn.BeginLogin(subject)
	if err != nil {
		return nil, nil, errors.Wrap(errors.CodeUnknown, "begin authentication ceremony", err)
	}
	return marshalCeremony(assertion, session)
}

// FinishAuthentication verifies an assertion response and returns the
// matched credential with its updated signature counter. A counter that
// moved backwards indicates a cloned authenticator and fails verification.
func (e *WebAuthnEngine) FinishAuthentication(u User, state []byte, response []byte) (Credential, error) {
	subject, err := newSubject(u)
	if err != nil {
		return Credential{}, err
	}
	session, err := unmarshalState(state)
	if err != nil {
		return Credential{}, err
	}

	parsed, err := e.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return Credential{}, errors.Wrap(errors.CodeVerificationFailed, "parse authentication response", err)
	}
	credential, err := e.webAuthn.ValidateLogin(subject, session, parsed)
	if err != nil {
		return Credential{}, errors.Wrap(errors.CodeVerificationFailed, "verify authentication response", err)
	}
	if credential.Authenticator.CloneWarning {
		return Credential{}, errors.New(errors.CodeVerificationFailed, "credential signature counter regressed")
	}
	return encodeCredential(credential)
}

// subject adapts a User to the webauthn.User interface.
type subject struct {
	id          string
	name        string
	credentials []webauthn.Credential
}

func newSubject(u User) (*subject, error) {
	credentials, err := decodeCredentials(u.Credentials)
	if err != nil {
		return nil, err
	}
	return &subject{id: u.ID, name: u.Name, credentials: credentials}, nil
}

func (s *subject) WebAuthnID() []byte {
	return []byte(s.id)
}

func (s *subject) WebAuthnName() string {
	return s.name
}

func (s *subject) WebAuthnDisplayName() string {
	return s.name
}

func (s *subject) WebAuthnIcon() string {
	return ""
}

func (s *subject) WebAuthnCredentials() []webauthn.Credential {
	return s.credentials
}

func decodeCredentials(records []Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal(record.Blob, &credential); err != nil {
			return nil, errors.Wrap(errors.CodeDatabase, "decode stored credential "+record.ID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func encodeCredential(credential *webauthn.Credential) (Credential, error) {
	blob, err := json.Marshal(credential)
	if err != nil {
		return Credential{}, errors.Wrap(errors.CodeUnknown, "encode credential", err)
	}
	return Credential{ID: EncodeCredentialID(credential.ID), Blob: blob}, nil
}

func marshalCeremony(challenge any, session *webauthn.SessionData) ([]byte, []byte, error) {
	challengeJSON, err := json.Marshal(challenge)
	if err != nil {
		return nil, nil, errors.Wrap(errors.CodeUnknown, "encode ceremony options", err)
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, nil, errors.Wrap(errors.CodeUnknown, "encode ceremony state", err)
	}
	return challengeJSON, state, nil
}

func unmarshalState(state []byte) (webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return webauthn.SessionData{}, errors.Wrap(errors.CodeCorruptSession, "decode ceremony state", err)
	}
	return session, nil
}

// EncodeCredentialID renders a raw credential id as its storage key.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
