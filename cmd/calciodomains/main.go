// Package main запускает HTTP-сервер сервиса calcio-domains.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/calcio-domains/internal/cart"
	"github.com/mmeshcher/calcio-domains/internal/catalyst"
	"github.com/mmeshcher/calcio-domains/internal/config"
	"github.com/mmeshcher/calcio-domains/internal/domains"
	"github.com/mmeshcher/calcio-domains/internal/freename"
	"github.com/mmeshcher/calcio-domains/internal/handler"
	"github.com/mmeshcher/calcio-domains/internal/identity"
	"github.com/mmeshcher/calcio-domains/internal/repository"
	"github.com/mmeshcher/calcio-domains/internal/session"
	"github.com/mmeshcher/calcio-domains/internal/user"
)

const janitorInterval = time.Minute

type storage interface {
	user.Preferences
	cart.OrderLog
	handler.OrderLog
	Close() error
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo storage
	if cfg.DatabaseURI != "" {
		repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is not set, preferences and orders are kept in memory")
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()

	secret := cfg.SessionSecret
	if secret == "" {
		// сессии не переживут перезапуск
		secret = uuid.NewString()
		sugar.Warn("SESSION_SECRET is not set, using an ephemeral secret")
	}

	backend := catalyst.NewClient(cfg.CatalystBaseURL, cfg.RequestTimeout, cfg.HTTPRetryMax, logger)
	registrar := freename.NewClient(backend, logger)
	idp := identity.NewClient(cfg.Auth0Domain, cfg.Auth0ClientID, cfg.RequestTimeout)

	sessions := session.NewRegistry(session.Deps{
		Backend:       backend,
		Resolver:      idp,
		Prefs:         repo,
		Orders:        repo,
		Logger:        logger,
		EvaluateLimit: rate.Limit(cfg.EvaluateRate),
		EvaluateBurst: cfg.EvaluateBurst,
	}, cfg.SessionIdleTTL)

	h := handler.NewHandler(handler.Deps{
		Identity:       idp,
		Domains:        domains.NewService(backend, registrar, logger),
		Avatars:        backend,
		Orders:         repo,
		Sessions:       sessions,
		SessionSecret:  secret,
		SecureCookies:  strings.HasPrefix(cfg.PublicURL, "https://"),
		PublicURL:      cfg.PublicURL,
		Audience:       cfg.Auth0Audience,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Удаление простаивающих сессий
	g.Go(func() error {
		sessions.StartJanitor(ctx, janitorInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting calcio-domains server", "addr", cfg.RunAddress, "public_url", cfg.PublicURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
