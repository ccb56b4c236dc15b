// Package server holds configuration parsing and startup for the auth
// server command.
package server

import (
	"context"
	"flag"

	"github.com/edwardsharp/wild-ai-adventure/internal/app"
)

// ParseConfig parses flags into a server config, starting from environment
// defaults so flags win over env.
func ParseConfig(fs *flag.FlagSet, args []string) (app.Config, error) {
	cfg := app.LoadConfigFromEnv()

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.BoolVar(&cfg.RequireToken, "require-invite", cfg.RequireToken, "require an invite code for new accounts")
	if err := fs.Parse(args); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

// Run starts the auth server.
func Run(ctx context.Context, cfg app.Config) error {
	return app.Run(ctx, cfg)
}
