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

package http

import (
	"context"
	"net/http"
	"time"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/gateway"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/invitation"
	"github.com/agencydesk/agencydesk/internal/observability/metrics"
	"github.com/agencydesk/agencydesk/internal/property"
	"github.com/agencydesk/agencydesk/internal/session"
)

// IdentityService is the account API used by the auth handlers
type IdentityService interface {
	Signup(ctx context.Context, in identity.SignupInput) (*identity.Profile, error)
	Authenticate(ctx context.Context, email, password string) (*identity.Profile, error)
	GetProfile(ctx context.Context, userID string) (*identity.Profile, error)
	UpdateDisplayName(ctx context.Context, userID, displayName string) (*identity.Profile, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	PromoteToSuperAdmin(ctx context.Context, actor *authz.Principal, targetID string) (*identity.Profile, error)
}

// SessionService resolves cookies to principals
type SessionService interface {
	Create(ctx context.Context, userID, ipAddress, userAgent string) (*session.Session, string, error)
	Resolve(ctx context.Context, token string) (*session.Session, error)
	Principal(ctx context.Context, userID string) (*authz.Principal, error)
	Destroy(ctx context.Context, sess *session.Session) error
}

// InvitationService is the invitation lifecycle API
type InvitationService interface {
	Issue(ctx context.Context, actor *authz.Principal, agencyID, email string, role authz.Role) (*invitation.Invitation, error)
	ResolveToken(ctx context.Context, token string) (*invitation.Resolved, error)
	Check(ctx context.Context, token, email string) (*invitation.Resolved, error)
	Redeem(ctx context.Context, token string, invitee invitation.Invitee) (*identity.Profile, error)
	Cancel(ctx context.Context, actor *authz.Principal, agencyID, invitationID string) error
	Regenerate(ctx context.Context, actor *authz.Principal, agencyID, invitationID string) (*invitation.Invitation, error)
	List(ctx context.Context, actor *authz.Principal, agencyID string) ([]*invitation.Invitation, error)
	RedemptionURL(token string) string
}

// AgencyService is the agency management API
type AgencyService interface {
	CreateAgency(ctx context.Context, actor *authz.Principal, in agency.CreateInput) (*agency.Agency, error)
	GetAgency(ctx context.Context, actor *authz.Principal, agencyID string) (*agency.Agency, error)
	ListAgencies(ctx context.Context, actor *authz.Principal, limit, offset int) ([]*agency.Agency, error)
	UpdateAgency(ctx context.Context, actor *authz.Principal, agencyID string, in agency.UpdateInput) (*agency.Agency, error)
	Suspend(ctx context.Context, actor *authz.Principal, agencyID string) (*agency.Agency, error)
	Activate(ctx context.Context, actor *authz.Principal, agencyID string) (*agency.Agency, error)
	DeleteAgency(ctx context.Context, actor *authz.Principal, agencyID string, cascade bool) error
	AgencyStats(ctx context.Context, actor *authz.Principal, agencyID string) (*agency.Stats, error)
	SystemStats(ctx context.Context, actor *authz.Principal) (*agency.Stats, error)
}

// DataGateway is the tenant-scoped property and member API
type DataGateway interface {
	ListProperties(ctx context.Context, caller *authz.Principal, f property.Filter) ([]*property.Property, error)
	ExportProperties(ctx context.Context, caller *authz.Principal, f property.Filter) ([]*property.Property, error)
	GetProperty(ctx context.Context, caller *authz.Principal, propertyID string) (*property.Property, error)
	CreateProperty(ctx context.Context, caller *authz.Principal, in property.Input) (*property.Property, error)
	UpdateProperty(ctx context.Context, caller *authz.Principal, propertyID string, in property.Input) (*property.Property, error)
	DeleteProperty(ctx context.Context, caller *authz.Principal, propertyID string) error

	ListMembers(ctx context.Context, caller *authz.Principal, f gateway.MemberFilter) ([]*identity.Profile, error)
	GetMember(ctx context.Context, caller *authz.Principal, userID string) (*identity.Profile, error)
	CreateMember(ctx context.Context, caller *authz.Principal, in gateway.MemberInput) (*identity.Profile, error)
	UpdateMember(ctx context.Context, caller *authz.Principal, userID string, in gateway.MemberUpdate) (*identity.Profile, error)
	DeleteMember(ctx context.Context, caller *authz.Principal, userID string) error
}

// Pinger reports backend health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService   IdentityService
	sessionService    SessionService
	invitationService InvitationService
	agencyService     AgencyService
	gateway           DataGateway
	health            Pinger
	auditLogger       audit.Logger
	metrics           *metrics.Instruments
	sessionConfig     SessionConfig
	now               func() time.Time
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite
	Lifetime       time.Duration
}

// Services groups the handler dependencies
type Services struct {
	Identity    IdentityService
	Sessions    SessionService
	Invitations InvitationService
	Agencies    AgencyService
	Gateway     DataGateway
	Health      Pinger
	AuditLogger audit.Logger
	Metrics     *metrics.Instruments
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, sessionConfig SessionConfig) *Handler {
	if sessionConfig.CookieName == "" {
		sessionConfig.CookieName = "agencydesk_session"
	}
	if sessionConfig.CookiePath == "" {
		sessionConfig.CookiePath = "/"
	}
	if sessionConfig.CookieSameSite == 0 {
		sessionConfig.CookieSameSite = http.SameSiteLaxMode
	}
	auditLogger := svc.AuditLogger
	if auditLogger == nil {
		auditLogger = audit.NewSlogLogger()
	}
	return &Handler{
		identityService:   svc.Identity,
		sessionService:    svc.Sessions,
		invitationService: svc.Invitations,
		agencyService:     svc.Agencies,
		gateway:           svc.Gateway,
		health:            svc.Health,
		auditLogger:       auditLogger,
		metrics:           svc.Metrics,
		sessionConfig:     sessionConfig,
		now:               time.Now,
	}
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Reports whether the service and its database are reachable
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} ErrorResponse
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			respondError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "agencydesk",
	})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    token,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: true,
		SameSite: h.sessionConfig.CookieSameSite,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    "",
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: true,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
