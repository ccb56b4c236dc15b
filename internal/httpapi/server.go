// Package httpapi exposes the passkey ceremonies as a JSON HTTP surface.
//
// The handlers are thin: they translate cookies and request bodies into
// orchestrator calls and domain errors into status codes. All ceremony and
// token rules live below this package.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/edwardsharp/wild-ai-adventure/internal/ceremony"
	"github.com/edwardsharp/wild-ai-adventure/internal/login"
	"github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
	"github.com/edwardsharp/wild-ai-adventure/internal/register"
)

const maxBodyBytes = 1 << 20

// Server hosts the authentication HTTP endpoints.
type Server struct {
	register *register.Service
	login    *login.Service
	binder   *ceremony.Binder
	sessions *SessionManager
}

// NewServer builds a server over the ceremony orchestrators.
func NewServer(registerSvc *register.Service, loginSvc *login.Service, binder *ceremony.Binder, sessions *SessionManager) *Server {
	return &Server{
		register: registerSvc,
		login:    loginSvc,
		binder:   binder,
		sessions: sessions,
	}
}

// RegisterRoutes registers authentication endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register_start/{username}", s.handleRegisterStart)
	mux.HandleFunc("POST /auth/register_finish", s.handleRegisterFinish)
	mux.HandleFunc("POST /auth/login_start/{username}", s.handleLoginStart)
	mux.HandleFunc("POST /auth/login_finish", s.handleLoginFinish)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/status", s.handleStatus)
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (s *Server) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Ensure(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	username := r.PathValue("username")
	tokenCode := r.URL.Query().Get("invite_code")
	challenge, err := s.register.Start(r.Context(), session.ID, username, tokenCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, challenge)
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Ensure(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.register.Finish(r.Context(), session.ID, body)
	if err != nil {
		writeError(w, err)
		return
	}

	// Completing registration logs the new credential's owner in.
	s.sessions.SetUser(session.ID, result.Identity.ID, result.Identity.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   string(result.Kind),
		"username": result.Identity.Username,
		"role":     string(result.Identity.Role),
	})
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Ensure(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	challenge, err := s.login.Start(r.Context(), session.ID, r.PathValue("username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, challenge)
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Ensure(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.login.Finish(r.Context(), session.ID, body)
	if err != nil {
		writeError(w, err)
		return
	}

	s.sessions.SetUser(session.ID, result.Identity.ID, result.Identity.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "authenticated",
		"username": result.Identity.Username,
		"role":     string(result.Identity.Role),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Ensure(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	s.sessions.ClearUser(session.ID)
	if err := s.binder.Clear(r.Context(), session.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	session, ok := s.sessions.Lookup(cookie.Value)
	if !ok || session.UserID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      session.Username,
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errors.CodeVerificationFailed, "read request body", err)
	}
	return body, nil
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	writeJSON(w, code.HTTPStatus(), map[string]any{
		"error": publicMessage(err, code),
		"code":  string(code),
	})
}

// publicMessage keeps internal wrap messages out of responses for
// server-side failures.
func publicMessage(err error, code errors.Code) string {
	if code.HTTPStatus() >= http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeRawJSON forwards an engine-produced JSON document untouched.
func writeRawJSON(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
