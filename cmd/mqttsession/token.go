package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/mqtt-session/internal/auth"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
)

// runToken implements the token subcommand: it signs an API token with the
// configured secret and writes it to out.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "token subject, e.g. an operator or service name")
	scope := fs.String("scope", string(auth.ScopeRead), "token scope: read or control")
	ttl := fs.Duration("ttl", 0, "token lifetime (default api.auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.Auth.JWTSecret == "" {
		return fmt.Errorf("api.auth.jwt_secret is not configured")
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.API.Auth.TokenTTL) * time.Minute
	}

	token, err := auth.IssueToken(*subject, auth.Scope(*scope), cfg.API.Auth.JWTSecret, lifetime)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
