package commands

import (
	"context"
	"encoding/base64"
	"fmt"

	"taskpulse/internal/auth"
	"taskpulse/internal/config"
	"taskpulse/internal/stubs"
)

// MintToken prints a bearer token for a known user id, for use with
// taskwatch or direct API access.
func MintToken(userID string, cfg *config.Config) error {
	if cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required to mint tokens")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authService, err := auth.NewService(ctx, auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	})
	if err != nil {
		return err
	}

	for _, u := range stubs.Users {
		authService.Register(u)
	}

	token, err := authService.Mint(userID)
	if err != nil {
		return fmt.Errorf("failed to mint token for %q: %w", userID, err)
	}

	fmt.Printf("\nToken for user %s:\n%s\n\n", userID, token)
	fmt.Printf("Expires in %s.\n", cfg.TokenExpiry)
	return nil
}
