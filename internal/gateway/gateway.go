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

// Package gateway is the tenant-scoped entry point to property and member
// data. Every read and write is parameterized by the caller's agency before
// it reaches storage; only super admins see more than one agency.
//
// Rows outside the caller's agency are reported as not found, never as
// forbidden.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
	"github.com/agencydesk/agencydesk/internal/observability/metrics"
	"github.com/agencydesk/agencydesk/internal/property"
)

// Entity kinds
const (
	KindProperty = "property"
	KindUser     = "user"
)

const tracerName = "github.com/agencydesk/agencydesk/internal/gateway"

// AgencyLookup reads agencies by id.
type AgencyLookup interface {
	GetByID(ctx context.Context, id string) (*agency.Agency, error)
}

// SeatCounter reports how many of an agency's seats are taken: active
// members plus pending, unexpired invitations.
type SeatCounter interface {
	SeatsInUse(ctx context.Context, agencyID string, now time.Time) (int, error)
}

// MemberProvisioner creates accounts directly inside an agency.
type MemberProvisioner interface {
	ProvisionMember(ctx context.Context, email, password, displayName string, role authz.Role, agencyID string) (*identity.Profile, error)
}

// SessionRevoker drops cached principals and live sessions after membership
// changes.
type SessionRevoker interface {
	Invalidate(ctx context.Context, userID string) error
	DestroyAllForUser(ctx context.Context, userID string) error
}

// Gateway enforces agency scoping on property and member operations.
type Gateway struct {
	properties  property.Repository
	members     MemberRepository
	agencies    AgencyLookup
	seats       SeatCounter
	provisioner MemberProvisioner
	sessions    SessionRevoker
	auditLogger audit.Logger
	metrics     *metrics.Instruments
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures a Gateway
type Option func(*Gateway)

// WithMetrics records denied operations.
func WithMetrics(m *metrics.Instruments) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway
func New(
	properties property.Repository,
	members MemberRepository,
	agencies AgencyLookup,
	seats SeatCounter,
	provisioner MemberProvisioner,
	sessions SessionRevoker,
	auditLogger audit.Logger,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		properties:  properties,
		members:     members,
		agencies:    agencies,
		seats:       seats,
		provisioner: provisioner,
		sessions:    sessions,
		auditLogger: auditLogger,
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type scopeKey struct{}

// Scope is the agency and role a storage call runs under. Postgres
// repositories copy it into app.agency_id and app.actor_role so row-level
// security mirrors the gateway checks.
type Scope struct {
	AgencyID string
	Role     authz.Role
	UserID   string
}

// WithScope attaches the caller's scope to ctx.
func WithScope(ctx context.Context, caller *authz.Principal) context.Context {
	if caller == nil {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, Scope{
		AgencyID: caller.Agency(),
		Role:     caller.Role,
		UserID:   caller.ID,
	})
}

// ScopeFromContext returns the scope set by WithScope.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// listScope resolves the agency a listing is restricted to. ok is false when
// the caller has no agency and must see nothing.
func listScope(caller *authz.Principal, requested string) (agencyID string, ok bool) {
	if caller.IsSuperAdmin() {
		return requested, true
	}
	own := caller.Agency()
	if own == "" || !caller.Role.AgencyScoped() {
		return "", false
	}
	return own, true
}

// createScope resolves the agency a new row belongs to.
func (g *Gateway) createScope(ctx context.Context, caller *authz.Principal, requested string) (string, error) {
	if !caller.IsSuperAdmin() {
		own := caller.Agency()
		if own == "" {
			return "", apperr.New(apperr.KindPermissionDenied, "create without agency").
				WithUserMessage("Your account is not assigned to an agency yet.")
		}
		return own, nil
	}

	if requested == "" {
		return "", apperr.Invalid("agency_id", "Select an agency.")
	}
	if _, err := g.agencies.GetByID(ctx, requested); err != nil {
		if errors.Is(err, agency.ErrAgencyNotFound) {
			return "", apperr.Wrap(apperr.KindNotFound, "create: agency", err)
		}
		return "", apperr.Classify("load agency", err)
	}
	return requested, nil
}

func (g *Gateway) start(ctx context.Context, caller *authz.Principal, kind, op string) (context.Context, trace.Span) {
	ctx, span := g.tracer.Start(ctx, "gateway."+kind+"."+op,
		trace.WithAttributes(
			attribute.String("entity_kind", kind),
			attribute.String("caller.role", string(roleOf(caller))),
			attribute.String("caller.agency_id", caller.Agency()),
		))
	return WithScope(ctx, caller), span
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}

// deny records a rejected operation and returns err.
func (g *Gateway) deny(ctx context.Context, caller *authz.Principal, kind, op string, err *apperr.Error, attrs ...slog.Attr) error {
	g.metrics.AccessDenied(ctx, kind, op)
	attrs = append(attrs,
		logger.EntityKind(kind),
		logger.Operation(op),
		logger.Role(string(roleOf(caller))),
		logger.AgencyID(caller.Agency()),
		logger.ErrorKind(string(err.Kind)),
	)
	slog.LogAttrs(ctx, slog.LevelInfo, "access denied", attrs...)
	actorID := audit.ActorSystem
	if caller != nil {
		actorID = caller.ID
	}
	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAccessDenied,
		AgencyID: caller.Agency(),
		ActorID:  actorID,
		Resource: kind,
		Metadata: map[string]any{
			audit.AttrReason: string(err.Kind),
			"operation":      op,
		},
	})
	return err
}

func roleOf(p *authz.Principal) authz.Role {
	if p == nil {
		return ""
	}
	return p.Role
}
