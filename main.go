package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"taskpulse/internal/auth"
	"taskpulse/internal/commands"
	"taskpulse/internal/config"
	"taskpulse/internal/http"
	"taskpulse/internal/hub"
	"taskpulse/internal/storage"
	"taskpulse/internal/stubs"
)

func run(ctx context.Context, mintFor string) error {
	cfg, err := config.Load(mintFor != "")
	if err != nil {
		return err
	}

	if mintFor != "" {
		return commands.MintToken(mintFor, cfg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewService(ctx, authConfig)
	if err != nil {
		return err
	}

	for _, u := range stubs.Users {
		authService.Register(u)
	}

	presenceHub := hub.New(bbStorage, cfg.HeartbeatTTL)

	apiServer := http.NewAPIServer(authService, presenceHub, bbStorage, cfg.Addr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Stale-member sweeper.
	g.Go(func() error {
		err := presenceHub.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	mintToken := flag.String("mint-token", "", "User id to mint a bearer token for (prints the token and exits)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *mintToken); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
