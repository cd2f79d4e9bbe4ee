package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/gateway"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/invitation"
	"github.com/agencydesk/agencydesk/internal/property"
	"github.com/agencydesk/agencydesk/internal/session"
)

const (
	testCookie   = "agencydesk_session"
	testToken    = "session-token"
	testUserID   = "0190a1b2-0000-7000-8000-000000000001"
	testAgencyID = "0190a1b2-0000-7000-8000-0000000000aa"
)

type testServer struct {
	identity    *mockIdentity
	sessions    *mockSessions
	invitations *mockInvitations
	agencies    *mockAgencies
	gateway     *mockGateway
	audit       *mockAudit
	handler     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		identity:    &mockIdentity{},
		sessions:    &mockSessions{},
		invitations: &mockInvitations{},
		agencies:    &mockAgencies{},
		gateway:     &mockGateway{},
		audit:       &mockAudit{},
	}
	h := NewHandler(Services{
		Identity:    ts.identity,
		Sessions:    ts.sessions,
		Invitations: ts.invitations,
		Agencies:    ts.agencies,
		Gateway:     ts.gateway,
		AuditLogger: ts.audit,
	}, SessionConfig{CookieName: testCookie})
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ts.handler = NewRouter(h, nil, RouterConfig{})
	return ts
}

// signIn makes the test cookie resolve to p.
func (ts *testServer) signIn(p *authz.Principal) *session.Session {
	sess := &session.Session{ID: "sess-1", UserID: p.ID, ExpiresAt: time.Now().Add(time.Hour)}
	ts.sessions.On("Resolve", mock.Anything, testToken).Return(sess, nil)
	ts.sessions.On("Principal", mock.Anything, p.ID).Return(p, nil)
	return sess
}

func agent() *authz.Principal {
	agencyID := testAgencyID
	return &authz.Principal{ID: testUserID, AgencyID: &agencyID, Role: authz.RoleAgent, Active: true}
}

func (ts *testServer) do(method, path string, body any, authed bool) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			raw, _ := json.Marshal(b)
			r = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", "1")
	if authed {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: testToken})
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	return nil
}

// TestPurpose: Validates that every error kind maps to a fixed HTTP status.
// Scope: Unit Test
// Expected: Rejections of invitations and scoping get distinct statuses; unknown kinds are 500.
// Test Case ID: HTTP-01
func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindPermissionDenied: http.StatusForbidden,
		apperr.KindNotFound:         http.StatusNotFound,
		apperr.KindAlreadyUsed:      http.StatusGone,
		apperr.KindExpired:          http.StatusGone,
		apperr.KindEmailMismatch:    http.StatusForbidden,
		apperr.KindValidation:       http.StatusBadRequest,
		apperr.KindConflict:         http.StatusConflict,
		apperr.KindUnavailable:      http.StatusServiceUnavailable,
		apperr.KindUnauthenticated:  http.StatusUnauthorized,
		apperr.Kind("bogus"):        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), string(kind))
	}
}

// TestPurpose: Validates that protected routes reject anonymous callers.
// Scope: Unit Test
// Security: Authentication enforcement
// Expected: 401 with code unauthenticated; the gateway is never reached.
// Test Case ID: HTTP-02
func TestRouter_AnonymousRejected(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/properties", nil, false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperr.KindUnauthenticated, decodeError(t, w).Code)
	ts.gateway.AssertNotCalled(t, "ListProperties", mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates that an invalid session cookie is cleared and the request treated as anonymous.
// Scope: Unit Test
// Security: Session handling
// Expected: 401 and a Set-Cookie that expires the session cookie.
// Test Case ID: HTTP-03
func TestAuthMiddleware_InvalidSessionClearsCookie(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.On("Resolve", mock.Anything, testToken).
		Return(nil, apperr.New(apperr.KindUnauthenticated, "expired"))

	w := ts.do(http.MethodGet, "/api/v1/auth/me", nil, true)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	c := sessionCookie(w)
	require.NotNil(t, c)
	assert.Negative(t, c.MaxAge)
}

// TestPurpose: Validates that a deactivated user's live session no longer authenticates.
// Scope: Unit Test
// Security: Account deactivation
// Expected: 401 even though the session itself resolves.
// Test Case ID: HTTP-04
func TestAuthMiddleware_InactivePrincipalRejected(t *testing.T) {
	ts := newTestServer(t)
	p := agent()
	p.Active = false
	ts.signIn(p)

	w := ts.do(http.MethodGet, "/api/v1/properties", nil, true)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestPurpose: Validates that a database outage while resolving a session is reported as unavailable.
// Scope: Unit Test
// Expected: 503 with Retry-After.
// Test Case ID: HTTP-05
func TestAuthMiddleware_BackendUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.On("Resolve", mock.Anything, testToken).
		Return(nil, apperr.Wrap(apperr.KindUnavailable, "resolve session", errors.New("dial tcp: refused")))

	w := ts.do(http.MethodGet, "/api/v1/properties", nil, true)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.NotContains(t, w.Body.String(), "refused")
}

// TestPurpose: Validates that state-changing requests without the CSRF header are rejected.
// Scope: Unit Test
// Security: Cross-Site Request Forgery (CWE-352)
// Expected: 403 before any service call.
// Test Case ID: HTTP-06
func TestCSRFMiddleware_RequiresHeader(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	ts.identity.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates that malformed and empty login bodies are rejected.
// Scope: Unit Test
// Security: Input validation
// Expected: 400 validation_error.
// Test Case ID: HTTP-07
func TestLogin_BadBody(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{"", "{invalid_json}"} {
		w := ts.do(http.MethodPost, "/api/v1/auth/login", body, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apperr.KindValidation, decodeError(t, w).Code)
	}
}

// TestPurpose: Validates that a successful login sets an HttpOnly session cookie and returns capabilities.
// Scope: Unit Test
// Security: Session cookie hardening
// Expected: 200, HttpOnly cookie, capability set derived from the role.
// Test Case ID: HTTP-08
func TestLogin_SetsCookie(t *testing.T) {
	ts := newTestServer(t)
	profile := &identity.Profile{ID: testUserID, Email: "a@example.com", Role: authz.RoleViewer, Active: true}
	ts.identity.On("Authenticate", mock.Anything, "a@example.com", "secret123").Return(profile, nil)
	ts.sessions.On("Create", mock.Anything, testUserID, mock.Anything, mock.Anything).
		Return(&session.Session{ID: "s", UserID: testUserID, ExpiresAt: time.Now().Add(time.Hour)}, "signed", nil)

	w := ts.do(http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: "a@example.com", Password: "secret123"}, false)

	require.Equal(t, http.StatusOK, w.Code)
	c := sessionCookie(w)
	require.NotNil(t, c)
	assert.Equal(t, "signed", c.Value)
	assert.True(t, c.HttpOnly)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Capabilities, len(authz.AllCapabilities))
	assert.True(t, resp.Capabilities[authz.CapViewProperties])
	assert.False(t, resp.Capabilities[authz.CapCreateProperties])
	assert.Nil(t, resp.Agency)
}

// TestPurpose: Validates that plain signups may bootstrap the first super admin.
// Scope: Unit Test
// Expected: AllowBootstrap is true and no invitation call happens.
// Test Case ID: HTTP-09
func TestSignup_WithoutToken(t *testing.T) {
	ts := newTestServer(t)
	profile := &identity.Profile{ID: testUserID, Email: "a@example.com", Role: authz.RoleSuperAdmin, Active: true}
	ts.identity.On("Signup", mock.Anything, mock.MatchedBy(func(in identity.SignupInput) bool {
		return in.AllowBootstrap && in.Email == "a@example.com"
	})).Return(profile, nil)
	ts.sessions.On("Create", mock.Anything, testUserID, mock.Anything, mock.Anything).
		Return(&session.Session{ExpiresAt: time.Now().Add(time.Hour)}, "signed", nil)

	w := ts.do(http.MethodPost, "/api/v1/auth/signup", SignupRequest{Email: "a@example.com", Password: "secret123"}, false)

	assert.Equal(t, http.StatusCreated, w.Code)
	ts.identity.AssertExpectations(t)
	ts.invitations.AssertNotCalled(t, "Check", mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates that an unusable invitation token stops signup before an account is created.
// Scope: Unit Test
// Security: Invitation integrity
// Expected: 410 with code expired; Signup is never called.
// Test Case ID: HTTP-10
func TestSignup_ExpiredTokenRejectedFirst(t *testing.T) {
	ts := newTestServer(t)
	ts.invitations.On("Check", mock.Anything, "inv-token", "a@example.com").
		Return(nil, apperr.New(apperr.KindExpired, "invitation expired"))

	w := ts.do(http.MethodPost, "/api/v1/auth/signup",
		SignupRequest{Email: "a@example.com", Password: "secret123", InviteToken: "inv-token"}, false)

	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, apperr.KindExpired, decodeError(t, w).Code)
	ts.identity.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that an invitation signup binds the new account to the agency.
// Scope: Unit Test
// Expected: Bootstrap is disabled; the redeemed profile is returned with its agency.
// Test Case ID: HTTP-11
func TestSignup_RedeemsInvitation(t *testing.T) {
	ts := newTestServer(t)
	agencyID := testAgencyID
	fresh := &identity.Profile{ID: testUserID, Email: "a@example.com", DisplayName: "A", Role: authz.RoleViewer, Active: true}
	bound := &identity.Profile{ID: testUserID, AgencyID: &agencyID, Email: "a@example.com", Role: authz.RoleAgent, Active: true}

	ts.invitations.On("Check", mock.Anything, "inv-token", "a@example.com").Return(&invitation.Resolved{}, nil)
	ts.identity.On("Signup", mock.Anything, mock.MatchedBy(func(in identity.SignupInput) bool {
		return !in.AllowBootstrap
	})).Return(fresh, nil)
	ts.invitations.On("Redeem", mock.Anything, "inv-token", invitation.Invitee{
		UserID: testUserID, Email: "a@example.com", DisplayName: "A",
	}).Return(bound, nil)
	ts.sessions.On("Create", mock.Anything, testUserID, mock.Anything, mock.Anything).
		Return(&session.Session{ExpiresAt: time.Now().Add(time.Hour)}, "signed", nil)
	ts.agencies.On("GetAgency", mock.Anything, mock.Anything, testAgencyID).
		Return(&agency.Agency{ID: testAgencyID, Name: "Harbor Homes"}, nil)

	w := ts.do(http.MethodPost, "/api/v1/auth/signup",
		SignupRequest{Email: "a@example.com", Password: "secret123", InviteToken: "inv-token"}, false)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, authz.RoleAgent, resp.User.Role)
	require.NotNil(t, resp.Agency)
	assert.Equal(t, "Harbor Homes", resp.Agency.Name)
	assert.Nil(t, resp.InvitationError)
}

// TestPurpose: Validates that a redemption lost to a concurrent redeemer still leaves the user signed in.
// Scope: Unit Test
// Expected: 201 with a session cookie and invitation_error carrying already_used.
// Test Case ID: HTTP-12
func TestSignup_RedeemFailureReported(t *testing.T) {
	ts := newTestServer(t)
	fresh := &identity.Profile{ID: testUserID, Email: "a@example.com", Role: authz.RoleViewer, Active: true}

	ts.invitations.On("Check", mock.Anything, "inv-token", "a@example.com").Return(&invitation.Resolved{}, nil)
	ts.identity.On("Signup", mock.Anything, mock.Anything).Return(fresh, nil)
	ts.invitations.On("Redeem", mock.Anything, "inv-token", mock.Anything).
		Return(nil, apperr.New(apperr.KindAlreadyUsed, "invitation redeemed concurrently"))
	ts.sessions.On("Create", mock.Anything, testUserID, mock.Anything, mock.Anything).
		Return(&session.Session{ExpiresAt: time.Now().Add(time.Hour)}, "signed", nil)

	w := ts.do(http.MethodPost, "/api/v1/auth/signup",
		SignupRequest{Email: "a@example.com", Password: "secret123", InviteToken: "inv-token"}, false)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotNil(t, sessionCookie(w))
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.InvitationError)
	assert.Equal(t, apperr.KindAlreadyUsed, resp.InvitationError.Code)
	assert.Equal(t, authz.RoleViewer, resp.User.Role)
}

// TestPurpose: Validates that logout destroys the session, audits and clears the cookie.
// Scope: Unit Test
// Expected: 200; Destroy called with the resolved session.
// Test Case ID: HTTP-13
func TestLogout(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.signIn(agent())
	ts.sessions.On("Destroy", mock.Anything, sess).Return(nil)
	ts.audit.On("Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeLogout && e.AgencyID == testAgencyID
	})).Return()

	w := ts.do(http.MethodPost, "/api/v1/auth/logout", nil, true)

	assert.Equal(t, http.StatusOK, w.Code)
	ts.sessions.AssertExpectations(t)
	ts.audit.AssertExpectations(t)
	c := sessionCookie(w)
	require.NotNil(t, c)
	assert.Negative(t, c.MaxAge)
}

// TestPurpose: Validates that list query parameters are parsed into a property filter.
// Scope: Unit Test
// Expected: Filter fields reflect the query; prices parse as decimals.
// Test Case ID: HTTP-14
func TestListProperties_ParsesFilter(t *testing.T) {
	ts := newTestServer(t)
	p := agent()
	ts.signIn(p)
	ts.gateway.On("ListProperties", mock.Anything, p, mock.MatchedBy(func(f property.Filter) bool {
		return f.City == "Lisbon" &&
			f.Status == property.StatusOffMarket &&
			f.ListingType == property.ListingRent &&
			f.MinPrice != nil && f.MinPrice.Equal(decimal.RequireFromString("1000.50")) &&
			f.MaxPrice == nil &&
			f.Search == "sea view" &&
			f.Limit == 20 && f.Offset == 40
	})).Return([]*property.Property{}, nil)

	w := ts.do(http.MethodGet,
		"/api/v1/properties?city=Lisbon&status=Off+Market&listing_type=Rent&min_price=1000.50&q=sea+view&limit=20&offset=40",
		nil, true)

	assert.Equal(t, http.StatusOK, w.Code)
	ts.gateway.AssertExpectations(t)
}

// TestPurpose: Validates that invalid filter values are rejected with per-field messages.
// Scope: Unit Test
// Security: Input validation
// Expected: 400 with fields for status, min_price and limit.
// Test Case ID: HTTP-15
func TestListProperties_InvalidFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.signIn(agent())

	w := ts.do(http.MethodGet, "/api/v1/properties?status=Haunted&min_price=abc&limit=-1", nil, true)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Contains(t, resp.Fields, "status")
	assert.Contains(t, resp.Fields, "min_price")
	assert.Contains(t, resp.Fields, "limit")
}

// TestPurpose: Validates that the export endpoint streams CSV as a dated attachment.
// Scope: Unit Test
// Expected: text/csv content type, attachment filename, header row first.
// Test Case ID: HTTP-16
func TestExportProperties_CSV(t *testing.T) {
	ts := newTestServer(t)
	p := agent()
	ts.signIn(p)
	ts.gateway.On("ExportProperties", mock.Anything, p, mock.Anything).Return([]*property.Property{{
		ID: "p1", AgencyID: testAgencyID, Address: "1 Main St, Apt 2", City: "Porto",
		Price: decimal.RequireFromString("250000"), ListingType: property.ListingSale,
		PropertyType: property.TypeApartment, Status: property.StatusAvailable,
	}}, nil)

	w := ts.do(http.MethodGet, "/api/v1/properties/export", nil, true)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "properties_2026-03-01.csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(property.ExportHeader, ","), strings.TrimSpace(lines[0]))
	assert.Contains(t, lines[1], `"1 Main St, Apt 2"`)
}

// TestPurpose: Validates that an agency reference in an update body never reaches the gateway.
// Scope: Unit Test
// Security: Tenant isolation
// Expected: The gateway receives an empty AgencyID.
// Test Case ID: HTTP-17
func TestUpdateProperty_DropsAgency(t *testing.T) {
	ts := newTestServer(t)
	p := agent()
	ts.signIn(p)
	ts.gateway.On("UpdateProperty", mock.Anything, p, "p1", mock.MatchedBy(func(in property.Input) bool {
		return in.AgencyID == "" && in.City == "Faro"
	})).Return(&property.Property{ID: "p1", AgencyID: testAgencyID, City: "Faro"}, nil)

	w := ts.do(http.MethodPut, "/api/v1/properties/p1",
		`{"agency_id":"0190a1b2-0000-7000-8000-0000000000bb","city":"Faro"}`, true)

	assert.Equal(t, http.StatusOK, w.Code)
	ts.gateway.AssertExpectations(t)
}

// TestPurpose: Validates that out-of-scope rows surface as not found.
// Scope: Unit Test
// Security: Tenant isolation (no existence oracle)
// Expected: 404 with code not_found.
// Test Case ID: HTTP-18
func TestGetProperty_OutOfScopeIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	p := agent()
	ts.signIn(p)
	ts.gateway.On("GetProperty", mock.Anything, p, "foreign").
		Return(nil, apperr.New(apperr.KindNotFound, "property outside scope"))

	w := ts.do(http.MethodGet, "/api/v1/properties/foreign", nil, true)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperr.KindNotFound, decodeError(t, w).Code)
}

// TestPurpose: Validates that issuing an invitation returns the shareable link.
// Scope: Unit Test
// Expected: 201 with state PENDING and invite_url containing the token; the raw token field is not serialized.
// Test Case ID: HTTP-19
func TestIssueInvitation(t *testing.T) {
	ts := newTestServer(t)
	p := agent()
	p.Role = authz.RoleAgencyAdmin
	ts.signIn(p)
	inv := &invitation.Invitation{
		ID: "inv-1", AgencyID: testAgencyID, Email: "new@example.com", Role: authz.RoleAgent,
		Token: "tok123", ExpiresAt: time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC),
	}
	ts.invitations.On("Issue", mock.Anything, p, testAgencyID, "new@example.com", authz.RoleAgent).Return(inv, nil)

	w := ts.do(http.MethodPost, "/api/v1/agencies/"+testAgencyID+"/invitations",
		IssueInvitationRequest{Email: "new@example.com", Role: authz.RoleAgent}, true)

	require.Equal(t, http.StatusCreated, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "PENDING", body["state"])
	assert.Contains(t, body["invite_url"], "invite=tok123")
	assert.NotContains(t, body, "token")
}

// TestPurpose: Validates that the public token lookup distinguishes used tokens.
// Scope: Unit Test
// Expected: 410 with code already_used.
// Test Case ID: HTTP-20
func TestResolveInvitation_Used(t *testing.T) {
	ts := newTestServer(t)
	used := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	ts.invitations.On("ResolveToken", mock.Anything, "tok").Return(&invitation.Resolved{
		Invitation: invitation.Invitation{ExpiresAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), UsedAt: &used},
		AgencyName: "Harbor Homes",
	}, nil)

	w := ts.do(http.MethodGet, "/api/v1/invitations/tok", nil, false)

	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, apperr.KindAlreadyUsed, decodeError(t, w).Code)
}

// TestPurpose: Validates that a pending token resolves publicly with the agency name.
// Scope: Unit Test
// Expected: 200 with agency_name and state PENDING.
// Test Case ID: HTTP-21
func TestResolveInvitation_Pending(t *testing.T) {
	ts := newTestServer(t)
	ts.invitations.On("ResolveToken", mock.Anything, "tok").Return(&invitation.Resolved{
		Invitation: invitation.Invitation{Email: "x@example.com", Role: authz.RoleViewer, ExpiresAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		AgencyName: "Harbor Homes",
	}, nil)

	w := ts.do(http.MethodGet, "/api/v1/invitations/tok", nil, false)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ResolvedInvitationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Harbor Homes", resp.AgencyName)
	assert.Equal(t, invitation.StatePending, resp.State)
}

// TestPurpose: Validates that super admins cannot join an agency by accepting an invitation.
// Scope: Unit Test
// Security: Privilege separation
// Expected: 409 and no redemption attempt.
// Test Case ID: HTTP-22
func TestAcceptInvitation_SuperAdminRefused(t *testing.T) {
	ts := newTestServer(t)
	p := &authz.Principal{ID: testUserID, Role: authz.RoleSuperAdmin, Active: true}
	ts.signIn(p)
	ts.identity.On("GetProfile", mock.Anything, testUserID).
		Return(&identity.Profile{ID: testUserID, Role: authz.RoleSuperAdmin, Active: true}, nil)

	w := ts.do(http.MethodPost, "/api/v1/invitations/tok/accept", nil, true)

	assert.Equal(t, http.StatusConflict, w.Code)
	ts.invitations.AssertNotCalled(t, "Redeem", mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates cascade flag parsing on agency deletion.
// Scope: Unit Test
// Expected: cascade=true reaches the service; a malformed flag is a validation error.
// Test Case ID: HTTP-23
func TestDeleteAgency_Cascade(t *testing.T) {
	ts := newTestServer(t)
	p := &authz.Principal{ID: testUserID, Role: authz.RoleSuperAdmin, Active: true}
	ts.signIn(p)
	ts.agencies.On("DeleteAgency", mock.Anything, p, testAgencyID, true).Return(nil)

	w := ts.do(http.MethodDelete, "/api/v1/agencies/"+testAgencyID+"?cascade=true", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodDelete, "/api/v1/agencies/"+testAgencyID+"?cascade=maybe", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.agencies.AssertNumberOfCalls(t, "DeleteAgency", 1)
}

// TestPurpose: Validates member filter parsing.
// Scope: Unit Test
// Expected: role and active parse; an unknown role is rejected.
// Test Case ID: HTTP-24
func TestListMembers_Filter(t *testing.T) {
	ts := newTestServer(t)
	p := agent()
	ts.signIn(p)
	ts.gateway.On("ListMembers", mock.Anything, p, mock.MatchedBy(func(f gateway.MemberFilter) bool {
		return f.Role == authz.RoleAgent && f.Active != nil && !*f.Active
	})).Return([]*identity.Profile{}, nil)

	w := ts.do(http.MethodGet, "/api/v1/members?role=agent&active=false", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/members?role=owner", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Fields, "role")
}

// TestPurpose: Validates client IP extraction and per-IP budgets.
// Scope: Unit Test
// Security: Abuse prevention
// Expected: The first forwarded hop is used; the burst is enforced per IP.
// Test Case ID: HTTP-25
func TestRateLimiter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	assert.Equal(t, "10.0.0.9", getClientIP(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(req))

	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	rl.evict(time.Now().Add(time.Hour))
	assert.True(t, rl.Allow("a"))
}

// TestPurpose: Validates that invitation management routes pass the agency from the path to the service.
// Scope: Unit Test
// Security: An invitation of one agency is not reachable under another agency's path
// Expected: Cancel and regenerate receive the path agency; a NotFound from the service is a 404.
// Test Case ID: HTTP-26
func TestInvitationRoutes_UsePathAgency(t *testing.T) {
	ts := newTestServer(t)
	p := agent()
	p.Role = authz.RoleAgencyAdmin
	ts.signIn(p)
	const otherAgency = "0190a1b2-0000-7000-8000-0000000000bb"

	ts.invitations.On("Cancel", mock.Anything, p, otherAgency, "inv-1").
		Return(apperr.New(apperr.KindNotFound, "cancel invitation: agency mismatch"))
	ts.invitations.On("Regenerate", mock.Anything, p, testAgencyID, "inv-1").
		Return(&invitation.Invitation{ID: "inv-1", AgencyID: testAgencyID, Token: "fresh", Role: authz.RoleAgent,
			ExpiresAt: time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)}, nil)

	w := ts.do(http.MethodDelete, "/api/v1/agencies/"+otherAgency+"/invitations/inv-1", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/agencies/"+testAgencyID+"/invitations/inv-1/regenerate", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "invite=fresh")
	ts.invitations.AssertExpectations(t)
}
