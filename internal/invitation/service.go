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

package invitation

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/id"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
	"github.com/agencydesk/agencydesk/internal/observability/metrics"
)

// AgencyLookup reads agencies by id.
type AgencyLookup interface {
	GetByID(ctx context.Context, id string) (*agency.Agency, error)
}

type principalCache interface {
	Invalidate(ctx context.Context, userID string) error
}

// Service manages the invitation lifecycle
type Service struct {
	repo        Repository
	agencies    AgencyLookup
	cache       principalCache
	auditLogger audit.Logger
	metrics     *metrics.Instruments
	baseURL     string
	ttl         time.Duration
	now         func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records issue and redemption counters.
func WithMetrics(m *metrics.Instruments) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new invitation service. baseURL is the public origin
// used to build redemption links.
func NewService(
	repo Repository,
	agencies AgencyLookup,
	cache principalCache,
	auditLogger audit.Logger,
	baseURL string,
	opts ...Option,
) *Service {
	s := &Service{
		repo:        repo,
		agencies:    agencies,
		cache:       cache,
		auditLogger: auditLogger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		ttl:         DefaultTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RedemptionURL returns the signup link carrying token.
func (s *Service) RedemptionURL(token string) string {
	return s.baseURL + "/signup?invite=" + url.QueryEscape(token)
}

// Issue creates a pending invitation for email to join agencyID with role.
func (s *Service) Issue(ctx context.Context, actor *authz.Principal, agencyID, email string, role authz.Role) (*Invitation, error) {
	if !authz.HasCapability(actor, authz.CapInviteUsers) {
		return nil, apperr.New(apperr.KindPermissionDenied, "issue invitation")
	}
	if !authz.CanAccessAgency(actor, agencyID) {
		return nil, apperr.New(apperr.KindNotFound, "issue invitation: agency outside scope")
	}
	if !role.AgencyScoped() {
		return nil, apperr.Invalid("role", "Role must be agency_admin, agent or viewer.")
	}
	if !authz.CanAssignRole(actor.Role, role) {
		return nil, apperr.New(apperr.KindPermissionDenied, "issue invitation: role not assignable").
			WithUserMessage("You cannot invite users with this role.")
	}
	normalized, err := identity.NormalizeEmail(email)
	if err != nil {
		return nil, apperr.Invalid("email", "Enter a valid email address.")
	}

	ag, err := s.agencies.GetByID(ctx, agencyID)
	if err != nil {
		if errors.Is(err, agency.ErrAgencyNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "issue invitation", err)
		}
		return nil, apperr.Classify("load agency", err)
	}
	if !ag.IsActive() {
		return nil, apperr.Invalid("agency_id", "Invitations cannot be issued for a suspended or inactive agency.")
	}

	now := s.now()
	seats, err := s.repo.SeatsInUse(ctx, agencyID, now)
	if err != nil {
		return nil, apperr.Classify("count seats", err)
	}
	if seats >= ag.MaxUsers {
		return nil, apperr.New(apperr.KindConflict, "issue invitation: seat limit reached").
			WithUserMessage("This agency has reached its user limit.")
	}

	token, err := id.NewToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "generate invitation token", err)
	}
	inv := &Invitation{
		ID:        id.NewUUIDv7(),
		AgencyID:  agencyID,
		Email:     normalized,
		Role:      role,
		InvitedBy: actor.ID,
		Token:     token,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		if errors.Is(err, ErrDuplicatePending) {
			return nil, apperr.Wrap(apperr.KindConflict, "issue invitation", err).
				WithUserMessage("A pending invitation for this email already exists.")
		}
		return nil, apperr.Classify("create invitation", err)
	}

	s.metrics.InvitationIssued(ctx, string(role))
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationIssued,
		AgencyID: agencyID,
		ActorID:  actor.ID,
		Resource: audit.ResourceInvitation,
		Metadata: map[string]any{
			audit.AttrEmail: normalized,
			audit.AttrRole:  string(role),
		},
	})

	return inv, nil
}

// ResolveToken looks up an invitation for display. It does not check expiry
// or usage.
func (s *Service) ResolveToken(ctx context.Context, token string) (*Resolved, error) {
	if token == "" {
		return nil, Validate(nil, s.now())
	}
	res, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return nil, Validate(nil, s.now())
		}
		return nil, apperr.Classify("resolve invitation", err)
	}
	return res, nil
}

// Check resolves token and validates it for invitee without redeeming it.
func (s *Service) Check(ctx context.Context, token, email string) (*Resolved, error) {
	res, err := s.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := Validate(&res.Invitation, s.now()); err != nil {
		return nil, err
	}
	if !identity.EmailsMatch(res.Email, email) {
		return nil, apperr.New(apperr.KindEmailMismatch, "invitation email mismatch")
	}
	return res, nil
}

// Redeem binds the invitee to the invitation's agency and role and marks the
// invitation used. At most one redemption of a token succeeds.
func (s *Service) Redeem(ctx context.Context, token string, invitee Invitee) (*identity.Profile, error) {
	profile, err := s.redeem(ctx, token, invitee)
	if err != nil {
		s.metrics.Redemption(ctx, string(apperr.KindOf(err)))
		return nil, err
	}
	s.metrics.Redemption(ctx, "ok")
	return profile, nil
}

func (s *Service) redeem(ctx context.Context, token string, invitee Invitee) (*identity.Profile, error) {
	res, err := s.Check(ctx, token, invitee.Email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	profile, err := s.repo.Redeem(ctx, Redemption{
		Token:       token,
		UserID:      invitee.UserID,
		Email:       strings.ToLower(strings.TrimSpace(invitee.Email)),
		DisplayName: invitee.DisplayName,
		Now:         now,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotRedeemable):
			return nil, s.redeemConflict(ctx, token, now)
		case errors.Is(err, ErrAlreadyMember):
			return nil, apperr.Wrap(apperr.KindConflict, "redeem invitation", err).
				WithUserMessage("Your account already belongs to an agency.")
		case errors.Is(err, ErrInvitationNotFound):
			return nil, Validate(nil, now)
		}
		return nil, apperr.Classify("redeem invitation", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, invitee.UserID); err != nil {
			slog.WarnContext(ctx, "failed to invalidate principal cache", logger.UserID(invitee.UserID), logger.Error(err))
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationRedeemed,
		AgencyID: res.AgencyID,
		ActorID:  invitee.UserID,
		Resource: audit.ResourceInvitation,
		Metadata: map[string]any{
			audit.AttrRole:     string(res.Role),
			audit.AttrTargetID: res.ID,
		},
	})

	return profile, nil
}

// redeemConflict re-reads an invitation whose compare-and-swap lost and
// reports the precise cause.
func (s *Service) redeemConflict(ctx context.Context, token string, now time.Time) error {
	res, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return Validate(nil, now)
		}
		return apperr.Classify("reload invitation", err)
	}
	if err := Validate(&res.Invitation, now); err != nil {
		return err
	}
	return apperr.New(apperr.KindAlreadyUsed, "invitation redeemed concurrently")
}

// Cancel deletes a pending invitation of agencyID.
func (s *Service) Cancel(ctx context.Context, actor *authz.Principal, agencyID, invitationID string) error {
	inv, err := s.manageable(ctx, actor, agencyID, invitationID, "cancel invitation")
	if err != nil {
		return err
	}
	if err := s.repo.DeletePending(ctx, inv.ID); err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return s.reloadFailure(ctx, inv.ID, "cancel invitation")
		}
		return apperr.Classify("cancel invitation", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationCancelled,
		AgencyID: inv.AgencyID,
		ActorID:  actor.ID,
		Resource: audit.ResourceInvitation,
		Metadata: map[string]any{audit.AttrEmail: inv.Email},
	})
	return nil
}

// Regenerate replaces the token of an unused invitation of agencyID and
// restarts its validity window. Expired invitations may be regenerated.
func (s *Service) Regenerate(ctx context.Context, actor *authz.Principal, agencyID, invitationID string) (*Invitation, error) {
	inv, err := s.manageable(ctx, actor, agencyID, invitationID, "regenerate invitation")
	if err != nil {
		return nil, err
	}

	token, err := id.NewToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "generate invitation token", err)
	}
	expiresAt := s.now().Add(s.ttl)
	if err := s.repo.ReplaceToken(ctx, inv.ID, token, expiresAt); err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return nil, s.reloadFailure(ctx, inv.ID, "regenerate invitation")
		}
		return nil, apperr.Classify("regenerate invitation", err)
	}
	inv.Token = token
	inv.ExpiresAt = expiresAt

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationRegenerated,
		AgencyID: inv.AgencyID,
		ActorID:  actor.ID,
		Resource: audit.ResourceInvitation,
		Metadata: map[string]any{audit.AttrEmail: inv.Email},
	})
	return inv, nil
}

// List returns every invitation of agencyID, newest first.
func (s *Service) List(ctx context.Context, actor *authz.Principal, agencyID string) ([]*Invitation, error) {
	if !authz.HasCapability(actor, authz.CapInviteUsers) {
		return nil, apperr.New(apperr.KindPermissionDenied, "list invitations")
	}
	if !authz.CanAccessAgency(actor, agencyID) {
		return nil, apperr.New(apperr.KindNotFound, "list invitations: agency outside scope")
	}
	invs, err := s.repo.ListByAgency(ctx, agencyID)
	if err != nil {
		return nil, apperr.Classify("list invitations", err)
	}
	return invs, nil
}

// PurgeExpired deletes unused invitations that expired more than olderThan
// ago.
func (s *Service) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, apperr.Classify("purge invitations", err)
	}
	return n, nil
}

// manageable loads an invitation of agencyID the actor may cancel or
// regenerate. An invitation of another agency is reported as not found.
func (s *Service) manageable(ctx context.Context, actor *authz.Principal, agencyID, invitationID, op string) (*Invitation, error) {
	if !authz.HasCapability(actor, authz.CapInviteUsers) {
		return nil, apperr.New(apperr.KindPermissionDenied, op)
	}
	inv, err := s.repo.GetByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, op, err)
		}
		return nil, apperr.Classify(op, err)
	}
	if !authz.CanAccessAgency(actor, inv.AgencyID) {
		return nil, apperr.New(apperr.KindNotFound, op+": agency outside scope")
	}
	if inv.AgencyID != agencyID {
		slog.DebugContext(ctx, "invitation requested under another agency",
			logger.InvitationID(inv.ID), logger.AgencyID(agencyID), logger.Operation(op))
		return nil, apperr.New(apperr.KindNotFound, op+": agency mismatch")
	}
	if inv.IsUsed() {
		return nil, apperr.New(apperr.KindAlreadyUsed, op)
	}
	return inv, nil
}

func (s *Service) reloadFailure(ctx context.Context, invitationID, op string) error {
	inv, err := s.repo.GetByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return apperr.Wrap(apperr.KindNotFound, op, err)
		}
		return apperr.Classify(op, err)
	}
	if inv.IsUsed() {
		return apperr.New(apperr.KindAlreadyUsed, op)
	}
	return apperr.New(apperr.KindConflict, op)
}
