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

// Command cleanup deletes expired sessions and invitations that expired more
// than INVITATION_PURGE_AFTER ago. It is meant to run from cron.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/config"
	"github.com/agencydesk/agencydesk/internal/invitation"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
	"github.com/agencydesk/agencydesk/internal/session"
	"github.com/agencydesk/agencydesk/internal/store/postgres"
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
		ServiceName: "agencydesk-cleanup",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := run(ctx, cfg); err != nil {
		slog.Error("cleanup failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.New(ctx, postgres.Config{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	signer, err := session.NewTokenSigner(cfg.Session.SigningKey)
	if err != nil {
		return err
	}
	sessions := session.NewService(postgres.NewSessionRepository(db), signer, nil, nil, cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	invitations := invitation.NewService(
		postgres.NewInvitationRepository(db),
		postgres.NewAgencyRepository(db),
		nil,
		audit.NewSlogLogger(),
		cfg.Server.PublicURL,
	)

	purgedSessions, err := sessions.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	purgedInvitations, err := invitations.PurgeExpired(ctx, cfg.Invitation.PurgeAfter)
	if err != nil {
		return err
	}
	slog.Info("cleanup complete",
		logger.String("sessions", fmt.Sprint(purgedSessions)),
		logger.String("invitations", fmt.Sprint(purgedInvitations)),
	)
	return nil
}
