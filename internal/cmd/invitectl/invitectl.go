// Package invitectl mints and lists access tokens out-of-band.
//
// Invite codes gate new-account registration; account-link codes authorize
// adding a credential to an existing account and expire after a TTL.
package invitectl

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/accesstoken"
	"github.com/edwardsharp/wild-ai-adventure/internal/platform/id"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage"
	"github.com/edwardsharp/wild-ai-adventure/internal/storage/sqlite"
)

// Config holds invitectl command configuration.
type Config struct {
	DBPath   string
	List     bool
	Code     string
	LinkUser string
	TTL      time.Duration
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{TTL: 24 * time.Hour}

	fs.StringVar(&cfg.DBPath, "db", "data/auth.db", "SQLite database path")
	fs.BoolVar(&cfg.List, "list", false, "list all access tokens")
	fs.StringVar(&cfg.Code, "code", "", "token code to mint (random when empty)")
	fs.StringVar(&cfg.LinkUser, "link-user", "", "mint an account-link code for this username")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "account-link code lifetime")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the command against the configured database.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	registry := accesstoken.NewRegistry(store)
	switch {
	case cfg.List:
		return listTokens(ctx, registry, out)
	case cfg.LinkUser != "":
		return mintLink(ctx, registry, store, cfg, out)
	default:
		return mintInvite(ctx, registry, cfg.Code, out)
	}
}

func mintInvite(ctx context.Context, registry *accesstoken.Registry, code string, out io.Writer) error {
	code, err := resolveCode(code)
	if err != nil {
		return err
	}
	token, err := registry.CreateInvite(ctx, code)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	fmt.Fprintf(out, "invite\t%s\n", token.Code)
	return nil
}

func mintLink(ctx context.Context, registry *accesstoken.Registry, identities storage.IdentityStore, cfg Config, out io.Writer) error {
	ident, err := identities.GetIdentityByUsername(ctx, cfg.LinkUser)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no account named %q", cfg.LinkUser)
		}
		return fmt.Errorf("resolve user: %w", err)
	}

	code, err := resolveCode(cfg.Code)
	if err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(cfg.TTL)
	token, err := registry.CreateAccountLink(ctx, code, ident.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("create account link: %w", err)
	}
	fmt.Fprintf(out, "link\t%s\tuser=%s\texpires=%s\n", token.Code, ident.Username, expiresAt.Format(time.RFC3339))
	return nil
}

func listTokens(ctx context.Context, registry *accesstoken.Registry, out io.Writer) error {
	tokens, err := registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	for _, token := range tokens {
		fmt.Fprintf(out, "%s\t%s\t%s\n", token.Code, token.Kind, describeState(token))
	}
	return nil
}

func describeState(token accesstoken.Token) string {
	if token.UsedAt != nil {
		return fmt.Sprintf("used by %s at %s", token.UsedBy, token.UsedAt.Format(time.RFC3339))
	}
	if !token.Active {
		return "inactive"
	}
	if token.ExpiresAt != nil {
		return "expires " + token.ExpiresAt.Format(time.RFC3339)
	}
	return "unused"
}

func resolveCode(code string) (string, error) {
	if code != "" {
		if err := accesstoken.ValidateCodeFormat(code); err != nil {
			return "", err
		}
		return code, nil
	}
	generated, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return generated, nil
}
