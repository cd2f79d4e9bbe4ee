// Copyright 2026 The AgencyDesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/config"
	"github.com/agencydesk/agencydesk/internal/gateway"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/invitation"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
	"github.com/agencydesk/agencydesk/internal/observability/metrics"
	"github.com/agencydesk/agencydesk/internal/observability/tracing"
	"github.com/agencydesk/agencydesk/internal/retry"
	"github.com/agencydesk/agencydesk/internal/session"
	"github.com/agencydesk/agencydesk/internal/store/postgres"
	"github.com/agencydesk/agencydesk/internal/store/redis"
	transportHTTP "github.com/agencydesk/agencydesk/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTel:        cfg.Observability.OTELEnabled,
	})
	slog.Info("starting agencydesk")

	if err := run(cfg); err != nil {
		slog.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	} else {
		defer func() {
			if err := tracer.Shutdown(context.Background()); err != nil {
				slog.Warn("tracer shutdown failed", logger.Error(err))
			}
		}()
	}

	meter, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	instruments, err := metrics.NewInstruments(meter)
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	db, err := postgres.New(ctx, postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		slog.Info("database schema up to date")
	}

	cache, closeCache, err := principalCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	// Repositories
	agencyRepo := postgres.NewAgencyRepository(db)
	identityRepo := postgres.NewIdentityRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	propertyRepo := postgres.NewPropertyRepository(db)
	memberRepo := postgres.NewMemberRepository(db)
	invitationRepo := postgres.NewInvitationRepository(db)

	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	// Services
	identityService := identity.NewService(
		identityRepo,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
		identity.WithLoadPolicy(retry.Policy{Attempts: cfg.Retry.Attempts, Step: cfg.Retry.Step}),
		identity.WithPrincipalCache(cache),
	)

	signer, err := session.NewTokenSigner(cfg.Session.SigningKey)
	if err != nil {
		return err
	}
	sessionService := session.NewService(
		sessionRepo,
		signer,
		cache,
		identityService,
		cfg.Session.Lifetime,
		cfg.Session.IdleTimeout,
	)

	invitationService := invitation.NewService(
		invitationRepo,
		agencyRepo,
		cache,
		auditLogger,
		cfg.Server.PublicURL,
		invitation.WithTTL(cfg.Invitation.TTL),
		invitation.WithMetrics(instruments),
	)
	agencyService := agency.NewService(agencyRepo, auditLogger, cache)
	dataGateway := gateway.New(
		propertyRepo,
		memberRepo,
		agencyRepo,
		invitationRepo,
		identityService,
		sessionService,
		auditLogger,
		gateway.WithMetrics(instruments),
	)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	handler := transportHTTP.NewHandler(transportHTTP.Services{
		Identity:    identityService,
		Sessions:    sessionService,
		Invitations: invitationService,
		Agencies:    agencyService,
		Gateway:     dataGateway,
		Health:      db,
		AuditLogger: auditLogger,
		Metrics:     instruments,
	}, transportHTTP.SessionConfig{
		CookieName:     cfg.Session.CookieName,
		CookieDomain:   cfg.Session.CookieDomain,
		CookiePath:     cfg.Session.CookiePath,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieSameSite: cfg.Session.SameSite(),
		Lifetime:       cfg.Session.Lifetime,
	})

	var ui fs.FS
	if cfg.Server.UIDir != "" {
		ui = os.DirFS(cfg.Server.UIDir)
	}
	router := transportHTTP.NewRouter(handler, rateLimiter, transportHTTP.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		UI:             ui,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go purgeLoop(ctx, sessionService, invitationService, cfg.Invitation.PurgeAfter)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", logger.Component("server"), logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// principalCache returns the Redis cache when REDIS_URL is set and an
// in-process cache otherwise.
func principalCache(ctx context.Context, cfg *config.Config) (session.PrincipalCache, func(), error) {
	if cfg.Redis.URL == "" {
		slog.Info("using in-memory principal cache")
		return session.NewMemoryCache(cfg.Session.CacheTTL), func() {}, nil
	}
	client, err := redis.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("using redis principal cache")
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("redis close failed", logger.Error(err))
		}
	}
	return redis.NewPrincipalCache(client, cfg.Redis.Prefix, cfg.Session.CacheTTL), closeFn, nil
}

// purgeLoop deletes expired sessions and long-expired invitations hourly.
func purgeLoop(ctx context.Context, sessions *session.Service, invitations *invitation.Service, keepExpired time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sessions.PurgeExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to purge expired sessions", logger.Error(err))
			} else if n > 0 {
				slog.InfoContext(ctx, "purged expired sessions", logger.RowsAffected(n))
			}
			if n, err := invitations.PurgeExpired(ctx, keepExpired); err != nil {
				slog.ErrorContext(ctx, "failed to purge expired invitations", logger.Error(err))
			} else if n > 0 {
				slog.InfoContext(ctx, "purged expired invitations", logger.RowsAffected(n))
			}
		}
	}
}
