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

package agency

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/id"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
)

const (
	maxNameLength = 200
	maxListLimit  = 200
)

type principalCache interface {
	Clear(ctx context.Context) error
}

// Service provides agency management business logic
type Service struct {
	repo        Repository
	auditLogger audit.Logger
	cache       principalCache
	now         func() time.Time
}

// NewService creates a new agency service
func NewService(repo Repository, auditLogger audit.Logger, cache principalCache) *Service {
	return &Service{
		repo:        repo,
		auditLogger: auditLogger,
		cache:       cache,
		now:         time.Now,
	}
}

// CreateInput holds the fields accepted when creating an agency
type CreateInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	MaxUsers int    `json:"max_users"`
	Tier     Tier   `json:"subscription_tier"`
}

// UpdateInput holds optional changes. Status, MaxUsers and Tier are
// reserved for super admins.
type UpdateInput struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Address  *string `json:"address"`
	Status   *Status `json:"status"`
	MaxUsers *int    `json:"max_users"`
	Tier     *Tier   `json:"subscription_tier"`
}

// CreateAgency creates an agency. The creator is not bound to it.
func (s *Service) CreateAgency(ctx context.Context, actor *authz.Principal, in CreateInput) (*Agency, error) {
	if !authz.HasCapability(actor, authz.CapCreateAgencies) {
		return nil, apperr.New(apperr.KindPermissionDenied, "create agency")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "Agency name is required.")
	}
	if len(name) > maxNameLength {
		return nil, apperr.Invalid("name", "Agency name is too long.")
	}
	agencySlug := slug.Make(name)
	if agencySlug == "" {
		return nil, apperr.Invalid("name", "Agency name must contain letters or digits.")
	}

	email, err := optionalEmail(in.Email)
	if err != nil {
		return nil, err
	}
	maxUsers := in.MaxUsers
	if maxUsers == 0 {
		maxUsers = DefaultMaxUsers
	}
	if maxUsers < 1 {
		return nil, apperr.Invalid("max_users", "Seat limit must be at least 1.")
	}
	tier := in.Tier
	if tier == "" {
		tier = TierBasic
	}
	if !tier.Valid() {
		return nil, apperr.Invalid("subscription_tier", "Unknown subscription tier.")
	}

	now := s.now()
	a := &Agency{
		ID:        id.NewUUIDv7(),
		Name:      name,
		Slug:      agencySlug,
		Email:     email,
		Phone:     strings.TrimSpace(in.Phone),
		Address:   strings.TrimSpace(in.Address),
		Status:    StatusActive,
		MaxUsers:  maxUsers,
		Tier:      tier,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			return nil, apperr.Wrap(apperr.KindConflict, "create agency", err).
				WithUserMessage("An agency with this name already exists.")
		}
		return nil, apperr.Classify("create agency", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAgencyCreated,
		AgencyID: a.ID,
		ActorID:  actor.ID,
		Resource: audit.ResourceAgency,
		Metadata: map[string]any{"slug": a.Slug},
	})

	return a, nil
}

// GetAgency returns an agency the actor can access. Agencies outside the
// actor's scope are reported as not found.
func (s *Service) GetAgency(ctx context.Context, actor *authz.Principal, agencyID string) (*Agency, error) {
	if !authz.CanAccessAgency(actor, agencyID) {
		return nil, apperr.New(apperr.KindNotFound, "get agency")
	}
	return s.lookup(ctx, agencyID)
}

// ListAgencies lists every agency for super admins and only the caller's
// own agency for everyone else.
func (s *Service) ListAgencies(ctx context.Context, actor *authz.Principal, limit, offset int) ([]*Agency, error) {
	if authz.HasCapability(actor, authz.CapViewAllAgencies) {
		if limit <= 0 || limit > maxListLimit {
			limit = maxListLimit
		}
		if offset < 0 {
			offset = 0
		}
		list, err := s.repo.List(ctx, limit, offset)
		if err != nil {
			return nil, apperr.Classify("list agencies", err)
		}
		return list, nil
	}

	own := actor.Agency()
	if own == "" || !authz.CanAccessAgency(actor, own) {
		return []*Agency{}, nil
	}
	a, err := s.lookup(ctx, own)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return []*Agency{}, nil
		}
		return nil, err
	}
	return []*Agency{a}, nil
}

// UpdateAgency applies in to an agency the actor administers.
func (s *Service) UpdateAgency(ctx context.Context, actor *authz.Principal, agencyID string, in UpdateInput) (*Agency, error) {
	if !authz.CanAccessAgency(actor, agencyID) {
		return nil, apperr.New(apperr.KindNotFound, "update agency")
	}
	if !authz.HasCapability(actor, authz.CapManageAgencySettings) {
		return nil, apperr.New(apperr.KindPermissionDenied, "update agency")
	}
	if (in.Status != nil || in.MaxUsers != nil || in.Tier != nil) && !actor.IsSuperAdmin() {
		return nil, apperr.New(apperr.KindPermissionDenied, "update agency plan").
			WithUserMessage("Only platform administrators can change status, plan or seat limit.")
	}

	a, err := s.lookup(ctx, agencyID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Invalid("name", "Agency name is required.")
		}
		if len(name) > maxNameLength {
			return nil, apperr.Invalid("name", "Agency name is too long.")
		}
		a.Name = name
	}
	if in.Email != nil {
		email, err := optionalEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		a.Email = email
	}
	if in.Phone != nil {
		a.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Address != nil {
		a.Address = strings.TrimSpace(*in.Address)
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, apperr.Invalid("status", "Unknown agency status.")
		}
		a.Status = *in.Status
	}
	if in.MaxUsers != nil {
		if *in.MaxUsers < 1 {
			return nil, apperr.Invalid("max_users", "Seat limit must be at least 1.")
		}
		a.MaxUsers = *in.MaxUsers
	}
	if in.Tier != nil {
		if !in.Tier.Valid() {
			return nil, apperr.Invalid("subscription_tier", "Unknown subscription tier.")
		}
		a.Tier = *in.Tier
	}
	a.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, a); err != nil {
		if errors.Is(err, ErrAgencyNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "update agency", err)
		}
		return nil, apperr.Classify("update agency", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAgencyUpdated,
		AgencyID: a.ID,
		ActorID:  actor.ID,
		Resource: audit.ResourceAgency,
		Metadata: map[string]any{"status": string(a.Status)},
	})

	return a, nil
}

// Suspend sets the agency status to suspended. Members keep read access but
// no invitations can be issued.
func (s *Service) Suspend(ctx context.Context, actor *authz.Principal, agencyID string) (*Agency, error) {
	st := StatusSuspended
	return s.UpdateAgency(ctx, actor, agencyID, UpdateInput{Status: &st})
}

// Activate sets the agency status back to active.
func (s *Service) Activate(ctx context.Context, actor *authz.Principal, agencyID string) (*Agency, error) {
	st := StatusActive
	return s.UpdateAgency(ctx, actor, agencyID, UpdateInput{Status: &st})
}

// DeleteAgency removes an agency. Without cascade it refuses while anything
// references the agency; with cascade, members, properties and invitations
// are removed as well.
func (s *Service) DeleteAgency(ctx context.Context, actor *authz.Principal, agencyID string, cascade bool) error {
	if !authz.HasCapability(actor, authz.CapDeleteAgencies) {
		if authz.CanAccessAgency(actor, agencyID) {
			return apperr.New(apperr.KindPermissionDenied, "delete agency")
		}
		return apperr.New(apperr.KindNotFound, "delete agency")
	}

	if err := s.repo.Delete(ctx, agencyID, cascade); err != nil {
		switch {
		case errors.Is(err, ErrAgencyNotFound):
			return apperr.Wrap(apperr.KindNotFound, "delete agency", err)
		case errors.Is(err, ErrAgencyInUse):
			return apperr.Wrap(apperr.KindConflict, "delete agency", err).
				WithUserMessage("The agency still has members or properties.")
		default:
			return apperr.Classify("delete agency", err)
		}
	}

	if cascade && s.cache != nil {
		if err := s.cache.Clear(ctx); err != nil {
			slog.WarnContext(ctx, "failed to clear principal cache", logger.AgencyID(agencyID), logger.Error(err))
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAgencyDeleted,
		AgencyID: agencyID,
		ActorID:  actor.ID,
		Resource: audit.ResourceAgency,
		Metadata: map[string]any{audit.AttrCascade: cascade},
	})
	return nil
}

// AgencyStats returns counts for one agency.
func (s *Service) AgencyStats(ctx context.Context, actor *authz.Principal, agencyID string) (*Stats, error) {
	if !authz.CanAccessAgency(actor, agencyID) {
		return nil, apperr.New(apperr.KindNotFound, "agency stats")
	}
	if !authz.HasCapability(actor, authz.CapViewAgencyStats) {
		return nil, apperr.New(apperr.KindPermissionDenied, "agency stats")
	}
	if _, err := s.lookup(ctx, agencyID); err != nil {
		return nil, err
	}
	st, err := s.repo.Stats(ctx, agencyID, s.now())
	if err != nil {
		return nil, apperr.Classify("agency stats", err)
	}
	return st, nil
}

// SystemStats returns counts across all agencies.
func (s *Service) SystemStats(ctx context.Context, actor *authz.Principal) (*Stats, error) {
	if !authz.HasCapability(actor, authz.CapViewSystemStats) {
		return nil, apperr.New(apperr.KindPermissionDenied, "system stats")
	}
	st, err := s.repo.Stats(ctx, "", s.now())
	if err != nil {
		return nil, apperr.Classify("system stats", err)
	}
	return st, nil
}

func (s *Service) lookup(ctx context.Context, agencyID string) (*Agency, error) {
	a, err := s.repo.GetByID(ctx, agencyID)
	if err != nil {
		if errors.Is(err, ErrAgencyNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "lookup agency", err)
		}
		return nil, apperr.Classify("lookup agency", err)
	}
	return a, nil
}

func optionalEmail(email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", nil
	}
	e, err := identity.NormalizeEmail(email)
	if err != nil {
		return "", apperr.Invalid("email", "Enter a valid email address.")
	}
	return e, nil
}
