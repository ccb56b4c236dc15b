// Package app assembles the auth server: storage, crypto engine, ceremony
// binder, orchestrators, and the HTTP listener.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/accesstoken"
	"github.com/edwardsharp/wild-ai-adventure/internal/ceremony"
	"github.com/edwardsharp/wild-ai-adventure/internal/engine"
	"github.com/edwardsharp/wild-ai-adventure/internal/httpapi"
	"github.com/edwardsharp/wild-ai-adventure/internal/login"
	"github.com/edwardsharp/wild-ai-adventure/internal/platform/config"
	"github.com/edwardsharp/wild-ai-adventure/internal/register"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage/sqlite"
)

// Config holds server wiring settings.
type Config struct {
	Addr         string        `env:"WILD_AI_ADVENTURE_HTTP_ADDR"   envDefault:"localhost:8080"`
	DBPath       string        `env:"WILD_AI_ADVENTURE_DB_PATH"`
	RequireToken bool          `env:"WILD_AI_ADVENTURE_REQUIRE_INVITE" envDefault:"true"`
	SessionTTL   time.Duration `env:"WILD_AI_ADVENTURE_SESSION_TTL" envDefault:"24h"`
}

// LoadConfigFromEnv returns server configuration with defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Addr:         "localhost:8080",
		RequireToken: true,
		SessionTTL:   24 * time.Hour,
	}
	if err := config.ParseEnv(&cfg); err != nil {
		log.Printf("load server config: %v", err)
	}
	return cfg
}

// Server hosts the auth HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
}

// New creates a configured server listening on cfg.Addr.
func New(cfg Config) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	eng, err := engine.New(engine.LoadConfigFromEnv())
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	tokens := accesstoken.NewRegistry(store)
	// Pending ceremonies live on the store no longer than the login session
	// that parked them; an abandoned start cannot pin state forever.
	binder := ceremony.NewBinder(ceremony.NewMemorySessionStore().WithTTL(cfg.SessionTTL))
	registerSvc := register.NewService(store, store, tokens, binder, eng, register.Config{RequireToken: cfg.RequireToken})
	loginSvc := login.NewService(store, store, binder, eng)
	sessions := httpapi.NewSessionManager(cfg.SessionTTL)

	mux := http.NewServeMux()
	httpapi.NewServer(registerSvc, loginSvc, binder, sessions).RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case err := <-serveErr:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openStore(path string) (*sqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
