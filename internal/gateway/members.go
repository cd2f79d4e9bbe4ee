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

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
)

const (
	defaultMemberLimit = 100
	maxMemberLimit     = 500
	maxDisplayName     = 100
)

// MemberFilter narrows a member listing. AgencyID is set by the gateway.
type MemberFilter struct {
	AgencyID string
	Role     authz.Role
	Active   *bool
	Search   string
	Limit    int
	Offset   int
}

func (f *MemberFilter) clamp() {
	if f.Limit <= 0 {
		f.Limit = defaultMemberLimit
	}
	if f.Limit > maxMemberLimit {
		f.Limit = maxMemberLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// MemberRepository stores user profiles as agency members.
type MemberRepository interface {
	// List returns profiles matching f. An empty f.AgencyID lists every
	// profile; callers must scope it first.
	List(ctx context.Context, f MemberFilter) ([]*identity.Profile, error)

	// Get returns identity.ErrProfileNotFound for unknown ids.
	Get(ctx context.Context, userID string) (*identity.Profile, error)

	// Update writes display name, role and active flag. agency_id is never
	// written.
	Update(ctx context.Context, p *identity.Profile) error

	// Delete removes the identity, its credentials, profile and sessions.
	Delete(ctx context.Context, userID string) error
}

// MemberInput creates a member directly, without an invitation.
type MemberInput struct {
	AgencyID    string     `json:"agency_id"`
	Email       string     `json:"email"`
	Password    string     `json:"password"`
	DisplayName string     `json:"display_name"`
	Role        authz.Role `json:"role"`
}

// MemberUpdate holds optional changes to a member. Any agency reference sent
// by a client is dropped before it reaches this type.
type MemberUpdate struct {
	DisplayName *string     `json:"display_name"`
	Role        *authz.Role `json:"role"`
	Active      *bool       `json:"active"`
}

// ListMembers returns the members visible to caller.
func (g *Gateway) ListMembers(ctx context.Context, caller *authz.Principal, f MemberFilter) (_ []*identity.Profile, err error) {
	ctx, span := g.start(ctx, caller, KindUser, "list")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapViewUsers) {
		return nil, g.deny(ctx, caller, KindUser, "list", apperr.New(apperr.KindPermissionDenied, "list members"))
	}
	agencyID, ok := listScope(caller, f.AgencyID)
	if !ok {
		return []*identity.Profile{}, nil
	}
	f.AgencyID = agencyID
	f.Search = strings.TrimSpace(f.Search)
	f.clamp()

	members, err := g.members.List(ctx, f)
	if err != nil {
		return nil, apperr.Classify("list members", err)
	}
	return members, nil
}

// GetMember returns one member of the caller's agency.
func (g *Gateway) GetMember(ctx context.Context, caller *authz.Principal, userID string) (_ *identity.Profile, err error) {
	ctx, span := g.start(ctx, caller, KindUser, "get")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapViewUsers) {
		return nil, g.deny(ctx, caller, KindUser, "get", apperr.New(apperr.KindPermissionDenied, "get member"))
	}
	return g.scopedMember(ctx, caller, userID, "get")
}

// CreateMember provisions an account inside an agency. The role must be
// assignable by the caller.
func (g *Gateway) CreateMember(ctx context.Context, caller *authz.Principal, in MemberInput) (_ *identity.Profile, err error) {
	ctx, span := g.start(ctx, caller, KindUser, "create")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapInviteUsers) {
		return nil, g.deny(ctx, caller, KindUser, "create", apperr.New(apperr.KindPermissionDenied, "create member"))
	}
	if !in.Role.AgencyScoped() {
		return nil, apperr.Invalid("role", "Role must be agency_admin, agent or viewer.")
	}
	if !authz.CanAssignRole(caller.Role, in.Role) {
		return nil, g.deny(ctx, caller, KindUser, "create", apperr.New(apperr.KindPermissionDenied, "create member: role not assignable").
			WithUserMessage("You cannot assign this role."))
	}
	agencyID, err := g.createScope(ctx, caller, strings.TrimSpace(in.AgencyID))
	if err != nil {
		return nil, err
	}
	if err := g.admitMember(ctx, agencyID, "create", true); err != nil {
		return nil, err
	}

	p, err := g.provisioner.ProvisionMember(ctx, in.Email, in.Password, in.DisplayName, in.Role, agencyID)
	if err != nil {
		return nil, apperr.Classify("create member", err)
	}

	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMemberCreated,
		AgencyID: agencyID,
		ActorID:  caller.ID,
		Resource: audit.ResourceUser,
		Metadata: map[string]any{
			audit.AttrTargetID: p.ID,
			audit.AttrRole:     string(p.Role),
		},
	})
	return p, nil
}

// UpdateMember changes a member's display name, role or active flag. The
// caller must be able to manage the target and to assign any new role.
func (g *Gateway) UpdateMember(ctx context.Context, caller *authz.Principal, userID string, in MemberUpdate) (_ *identity.Profile, err error) {
	ctx, span := g.start(ctx, caller, KindUser, "update")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapEditUsers) {
		return nil, g.deny(ctx, caller, KindUser, "update", apperr.New(apperr.KindPermissionDenied, "update member"))
	}
	target, err := g.scopedMember(ctx, caller, userID, "update")
	if err != nil {
		return nil, err
	}
	if !authz.CanManage(caller, target.Principal()) {
		return nil, g.deny(ctx, caller, KindUser, "update", apperr.New(apperr.KindPermissionDenied, "update member: cannot manage target"))
	}

	oldRole := target.Role
	roleChanged := in.Role != nil && *in.Role != target.Role
	deactivated := in.Active != nil && !*in.Active && target.Active
	reactivated := in.Active != nil && *in.Active && !target.Active
	activeChanged := deactivated || reactivated

	if (roleChanged || activeChanged) && target.ID == caller.ID {
		return nil, apperr.New(apperr.KindPermissionDenied, "update member: self").
			WithUserMessage("You cannot change your own role or status.")
	}
	if roleChanged {
		if target.Role == authz.RoleSuperAdmin {
			return nil, g.deny(ctx, caller, KindUser, "update", apperr.New(apperr.KindPermissionDenied, "update member: super admin role"))
		}
		if !in.Role.AgencyScoped() {
			return nil, apperr.Invalid("role", "Role must be agency_admin, agent or viewer.")
		}
		if !authz.CanAssignRole(caller.Role, *in.Role) {
			return nil, g.deny(ctx, caller, KindUser, "update", apperr.New(apperr.KindPermissionDenied, "update member: role not assignable").
				WithUserMessage("You cannot assign this role."))
		}
		target.Role = *in.Role
	}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, apperr.Invalid("display_name", "Display name is required.")
		}
		if utf8.RuneCountInString(name) > maxDisplayName {
			return nil, apperr.Invalid("display_name", "Display name is too long.")
		}
		target.DisplayName = name
	}
	if reactivated {
		if err := g.admitMember(ctx, stringValue(target.AgencyID), "update", false); err != nil {
			return nil, err
		}
	}
	if in.Active != nil {
		target.Active = *in.Active
	}
	target.UpdatedAt = g.now()

	if err := g.members.Update(ctx, target); err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "update member", err)
		}
		return nil, apperr.Classify("update member", err)
	}

	switch {
	case deactivated:
		g.revokeSessions(ctx, target.ID)
	case roleChanged || activeChanged:
		if err := g.sessions.Invalidate(ctx, target.ID); err != nil {
			slog.WarnContext(ctx, "failed to invalidate principal cache", logger.UserID(target.ID), logger.Error(err))
		}
	}

	metadata := map[string]any{audit.AttrTargetID: target.ID}
	if roleChanged {
		metadata[audit.AttrOldRole] = string(oldRole)
		metadata[audit.AttrRole] = string(target.Role)
	}
	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMemberUpdated,
		AgencyID: stringValue(target.AgencyID),
		ActorID:  caller.ID,
		Resource: audit.ResourceUser,
		Metadata: metadata,
	})
	return target, nil
}

// DeleteMember removes a member. Callers cannot delete themselves.
func (g *Gateway) DeleteMember(ctx context.Context, caller *authz.Principal, userID string) (err error) {
	ctx, span := g.start(ctx, caller, KindUser, "delete")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapDeleteUsers) {
		return g.deny(ctx, caller, KindUser, "delete", apperr.New(apperr.KindPermissionDenied, "delete member"))
	}
	target, err := g.scopedMember(ctx, caller, userID, "delete")
	if err != nil {
		return err
	}
	if target.ID == caller.ID {
		return apperr.New(apperr.KindPermissionDenied, "delete member: self").
			WithUserMessage("You cannot delete your own account here.")
	}
	if !authz.CanManage(caller, target.Principal()) {
		return g.deny(ctx, caller, KindUser, "delete", apperr.New(apperr.KindPermissionDenied, "delete member: cannot manage target"))
	}

	if err := g.members.Delete(ctx, target.ID); err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			return apperr.Wrap(apperr.KindNotFound, "delete member", err)
		}
		return apperr.Classify("delete member", err)
	}
	g.revokeSessions(ctx, target.ID)

	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMemberDeleted,
		AgencyID: stringValue(target.AgencyID),
		ActorID:  caller.ID,
		Resource: audit.ResourceUser,
		Metadata: map[string]any{
			audit.AttrTargetID: target.ID,
			audit.AttrRole:     string(target.Role),
		},
	})
	return nil
}

// admitMember checks that agencyID has a free seat for one more active
// member. New members additionally require an active agency.
func (g *Gateway) admitMember(ctx context.Context, agencyID, op string, requireActive bool) error {
	ag, err := g.agencies.GetByID(ctx, agencyID)
	if err != nil {
		if errors.Is(err, agency.ErrAgencyNotFound) {
			return apperr.Wrap(apperr.KindNotFound, op+" member: agency", err)
		}
		return apperr.Classify("load agency", err)
	}
	if requireActive && !ag.IsActive() {
		return apperr.Invalid("agency_id", "Members cannot be added to a suspended or inactive agency.")
	}
	seats, err := g.seats.SeatsInUse(ctx, agencyID, g.now())
	if err != nil {
		return apperr.Classify("count seats", err)
	}
	if seats >= ag.MaxUsers {
		slog.InfoContext(ctx, "agency seat limit reached",
			logger.AgencyID(agencyID), logger.EntityKind(KindUser), logger.Operation(op))
		return apperr.New(apperr.KindConflict, op+" member: seat limit reached").
			WithUserMessage("This agency has reached its user limit.")
	}
	return nil
}

func (g *Gateway) scopedMember(ctx context.Context, caller *authz.Principal, userID, op string) (*identity.Profile, error) {
	p, err := g.members.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, op+" member", err)
		}
		return nil, apperr.Classify(op+" member", err)
	}
	if !authz.CanAccessAgency(caller, stringValue(p.AgencyID)) {
		return nil, g.deny(ctx, caller, KindUser, op, apperr.New(apperr.KindNotFound, op+" member: agency outside scope"),
			logger.EntityID(userID))
	}
	return p, nil
}

func (g *Gateway) revokeSessions(ctx context.Context, userID string) {
	if err := g.sessions.DestroyAllForUser(ctx, userID); err != nil {
		slog.WarnContext(ctx, "failed to revoke sessions", logger.UserID(userID), logger.Error(err))
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
