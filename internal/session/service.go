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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/id"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
)

// ProfileLoader resolves a user id to its current principal.
type ProfileLoader interface {
	LoadPrincipal(ctx context.Context, userID string) (*authz.Principal, error)
}

// ProfileLoaderFunc adapts a function to ProfileLoader.
type ProfileLoaderFunc func(ctx context.Context, userID string) (*authz.Principal, error)

func (f ProfileLoaderFunc) LoadPrincipal(ctx context.Context, userID string) (*authz.Principal, error) {
	return f(ctx, userID)
}

// Service manages sessions and resolves them to principals.
type Service struct {
	repo        Repository
	signer      *TokenSigner
	cache       PrincipalCache
	loader      ProfileLoader
	lifetime    time.Duration
	idleTimeout time.Duration
	now         func() time.Time
}

// NewService creates a new session service
func NewService(
	repo Repository,
	signer *TokenSigner,
	cache PrincipalCache,
	loader ProfileLoader,
	lifetime time.Duration,
	idleTimeout time.Duration,
) *Service {
	return &Service{
		repo:        repo,
		signer:      signer,
		cache:       cache,
		loader:      loader,
		lifetime:    lifetime,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Create starts a session for userID and returns it with its signed token.
func (s *Service) Create(ctx context.Context, userID, ipAddress, userAgent string) (*Session, string, error) {
	now := s.now()
	sess := &Session{
		ID:         id.NewUUIDv7(),
		UserID:     userID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.lifetime),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, "", apperr.Classify("create session", err)
	}
	token, err := s.signer.Sign(sess)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInternal, "sign session", err)
	}
	return sess, token, nil
}

// Resolve verifies token, checks the server-side session and refreshes its
// last-seen time.
func (s *Service) Resolve(ctx context.Context, token string) (*Session, error) {
	now := s.now()
	claims, err := s.signer.Parse(token, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "parse session token", err)
	}

	sess, err := s.repo.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, apperr.Wrap(apperr.KindUnauthenticated, "resolve session", err)
		}
		return nil, apperr.Classify("resolve session", err)
	}
	if sess.UserID != claims.Subject {
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "resolve session", ErrInvalidToken)
	}
	if sess.IsExpired(now) || sess.IsIdle(now, s.idleTimeout) {
		if err := s.repo.Delete(ctx, sess.ID); err != nil {
			slog.WarnContext(ctx, "failed to delete stale session", logger.SessionID(sess.ID), logger.Error(err))
		}
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "resolve session", ErrSessionExpired).
			WithUserMessage("Your session has expired. Please sign in again.")
	}

	if err := s.repo.Touch(ctx, sess.ID, now); err != nil {
		slog.WarnContext(ctx, "failed to refresh session", logger.SessionID(sess.ID), logger.Error(err))
	} else {
		sess.LastSeenAt = now
	}
	return sess, nil
}

// Principal returns the caller principal for userID, populating the cache on
// a miss.
func (s *Service) Principal(ctx context.Context, userID string) (*authz.Principal, error) {
	if s.cache != nil {
		p, err := s.cache.Get(ctx, userID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			slog.WarnContext(ctx, "principal cache read failed", logger.UserID(userID), logger.Error(err))
		}
	}

	p, err := s.loader.LoadPrincipal(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			slog.WarnContext(ctx, "principal cache write failed", logger.UserID(userID), logger.Error(err))
		}
	}
	return p, nil
}

// Destroy ends a session and drops the user's cached principal.
func (s *Service) Destroy(ctx context.Context, sess *Session) error {
	if err := s.repo.Delete(ctx, sess.ID); err != nil {
		return apperr.Classify("destroy session", err)
	}
	return s.Invalidate(ctx, sess.UserID)
}

// DestroyAllForUser ends every session of userID.
func (s *Service) DestroyAllForUser(ctx context.Context, userID string) error {
	if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		return apperr.Classify("destroy user sessions", err)
	}
	return s.Invalidate(ctx, userID)
}

// Invalidate drops the cached principal for userID.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate principal cache: %w", err)
	}
	return nil
}

// Clear empties the principal cache.
func (s *Service) Clear(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

// PurgeExpired deletes expired sessions.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, apperr.Classify("purge sessions", err)
	}
	return n, nil
}
