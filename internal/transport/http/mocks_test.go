package http

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/gateway"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/invitation"
	"github.com/agencydesk/agencydesk/internal/property"
	"github.com/agencydesk/agencydesk/internal/session"
)

func profileArg(args mock.Arguments) *identity.Profile {
	p, _ := args.Get(0).(*identity.Profile)
	return p
}

type mockIdentity struct {
	mock.Mock
}

func (m *mockIdentity) Signup(ctx context.Context, in identity.SignupInput) (*identity.Profile, error) {
	args := m.Called(ctx, in)
	return profileArg(args), args.Error(1)
}

func (m *mockIdentity) Authenticate(ctx context.Context, email, password string) (*identity.Profile, error) {
	args := m.Called(ctx, email, password)
	return profileArg(args), args.Error(1)
}

func (m *mockIdentity) GetProfile(ctx context.Context, userID string) (*identity.Profile, error) {
	args := m.Called(ctx, userID)
	return profileArg(args), args.Error(1)
}

func (m *mockIdentity) UpdateDisplayName(ctx context.Context, userID, displayName string) (*identity.Profile, error) {
	args := m.Called(ctx, userID, displayName)
	return profileArg(args), args.Error(1)
}

func (m *mockIdentity) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	return m.Called(ctx, userID, oldPassword, newPassword).Error(0)
}

func (m *mockIdentity) PromoteToSuperAdmin(ctx context.Context, actor *authz.Principal, targetID string) (*identity.Profile, error) {
	args := m.Called(ctx, actor, targetID)
	return profileArg(args), args.Error(1)
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Create(ctx context.Context, userID, ipAddress, userAgent string) (*session.Session, string, error) {
	args := m.Called(ctx, userID, ipAddress, userAgent)
	sess, _ := args.Get(0).(*session.Session)
	return sess, args.String(1), args.Error(2)
}

func (m *mockSessions) Resolve(ctx context.Context, token string) (*session.Session, error) {
	args := m.Called(ctx, token)
	sess, _ := args.Get(0).(*session.Session)
	return sess, args.Error(1)
}

func (m *mockSessions) Principal(ctx context.Context, userID string) (*authz.Principal, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*authz.Principal)
	return p, args.Error(1)
}

func (m *mockSessions) Destroy(ctx context.Context, sess *session.Session) error {
	return m.Called(ctx, sess).Error(0)
}

type mockInvitations struct {
	mock.Mock
}

func (m *mockInvitations) Issue(ctx context.Context, actor *authz.Principal, agencyID, email string, role authz.Role) (*invitation.Invitation, error) {
	args := m.Called(ctx, actor, agencyID, email, role)
	inv, _ := args.Get(0).(*invitation.Invitation)
	return inv, args.Error(1)
}

func (m *mockInvitations) ResolveToken(ctx context.Context, token string) (*invitation.Resolved, error) {
	args := m.Called(ctx, token)
	res, _ := args.Get(0).(*invitation.Resolved)
	return res, args.Error(1)
}

func (m *mockInvitations) Check(ctx context.Context, token, email string) (*invitation.Resolved, error) {
	args := m.Called(ctx, token, email)
	res, _ := args.Get(0).(*invitation.Resolved)
	return res, args.Error(1)
}

func (m *mockInvitations) Redeem(ctx context.Context, token string, invitee invitation.Invitee) (*identity.Profile, error) {
	args := m.Called(ctx, token, invitee)
	return profileArg(args), args.Error(1)
}

func (m *mockInvitations) Cancel(ctx context.Context, actor *authz.Principal, agencyID, invitationID string) error {
	return m.Called(ctx, actor, agencyID, invitationID).Error(0)
}

func (m *mockInvitations) Regenerate(ctx context.Context, actor *authz.Principal, agencyID, invitationID string) (*invitation.Invitation, error) {
	args := m.Called(ctx, actor, agencyID, invitationID)
	inv, _ := args.Get(0).(*invitation.Invitation)
	return inv, args.Error(1)
}

func (m *mockInvitations) List(ctx context.Context, actor *authz.Principal, agencyID string) ([]*invitation.Invitation, error) {
	args := m.Called(ctx, actor, agencyID)
	list, _ := args.Get(0).([]*invitation.Invitation)
	return list, args.Error(1)
}

func (m *mockInvitations) RedemptionURL(token string) string {
	return "https://app.example.com/signup?invite=" + token
}

type mockAgencies struct {
	mock.Mock
}

func agencyArg(args mock.Arguments) *agency.Agency {
	a, _ := args.Get(0).(*agency.Agency)
	return a
}

func (m *mockAgencies) CreateAgency(ctx context.Context, actor *authz.Principal, in agency.CreateInput) (*agency.Agency, error) {
	args := m.Called(ctx, actor, in)
	return agencyArg(args), args.Error(1)
}

func (m *mockAgencies) GetAgency(ctx context.Context, actor *authz.Principal, agencyID string) (*agency.Agency, error) {
	args := m.Called(ctx, actor, agencyID)
	return agencyArg(args), args.Error(1)
}

func (m *mockAgencies) ListAgencies(ctx context.Context, actor *authz.Principal, limit, offset int) ([]*agency.Agency, error) {
	args := m.Called(ctx, actor, limit, offset)
	list, _ := args.Get(0).([]*agency.Agency)
	return list, args.Error(1)
}

func (m *mockAgencies) UpdateAgency(ctx context.Context, actor *authz.Principal, agencyID string, in agency.UpdateInput) (*agency.Agency, error) {
	args := m.Called(ctx, actor, agencyID, in)
	return agencyArg(args), args.Error(1)
}

func (m *mockAgencies) Suspend(ctx context.Context, actor *authz.Principal, agencyID string) (*agency.Agency, error) {
	args := m.Called(ctx, actor, agencyID)
	return agencyArg(args), args.Error(1)
}

func (m *mockAgencies) Activate(ctx context.Context, actor *authz.Principal, agencyID string) (*agency.Agency, error) {
	args := m.Called(ctx, actor, agencyID)
	return agencyArg(args), args.Error(1)
}

func (m *mockAgencies) DeleteAgency(ctx context.Context, actor *authz.Principal, agencyID string, cascade bool) error {
	return m.Called(ctx, actor, agencyID, cascade).Error(0)
}

func (m *mockAgencies) AgencyStats(ctx context.Context, actor *authz.Principal, agencyID string) (*agency.Stats, error) {
	args := m.Called(ctx, actor, agencyID)
	s, _ := args.Get(0).(*agency.Stats)
	return s, args.Error(1)
}

func (m *mockAgencies) SystemStats(ctx context.Context, actor *authz.Principal) (*agency.Stats, error) {
	args := m.Called(ctx, actor)
	s, _ := args.Get(0).(*agency.Stats)
	return s, args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func propertiesArg(args mock.Arguments) []*property.Property {
	list, _ := args.Get(0).([]*property.Property)
	return list
}

func propertyArg(args mock.Arguments) *property.Property {
	p, _ := args.Get(0).(*property.Property)
	return p
}

func (m *mockGateway) ListProperties(ctx context.Context, caller *authz.Principal, f property.Filter) ([]*property.Property, error) {
	args := m.Called(ctx, caller, f)
	return propertiesArg(args), args.Error(1)
}

func (m *mockGateway) ExportProperties(ctx context.Context, caller *authz.Principal, f property.Filter) ([]*property.Property, error) {
	args := m.Called(ctx, caller, f)
	return propertiesArg(args), args.Error(1)
}

func (m *mockGateway) GetProperty(ctx context.Context, caller *authz.Principal, propertyID string) (*property.Property, error) {
	args := m.Called(ctx, caller, propertyID)
	return propertyArg(args), args.Error(1)
}

func (m *mockGateway) CreateProperty(ctx context.Context, caller *authz.Principal, in property.Input) (*property.Property, error) {
	args := m.Called(ctx, caller, in)
	return propertyArg(args), args.Error(1)
}

func (m *mockGateway) UpdateProperty(ctx context.Context, caller *authz.Principal, propertyID string, in property.Input) (*property.Property, error) {
	args := m.Called(ctx, caller, propertyID, in)
	return propertyArg(args), args.Error(1)
}

func (m *mockGateway) DeleteProperty(ctx context.Context, caller *authz.Principal, propertyID string) error {
	return m.Called(ctx, caller, propertyID).Error(0)
}

func (m *mockGateway) ListMembers(ctx context.Context, caller *authz.Principal, f gateway.MemberFilter) ([]*identity.Profile, error) {
	args := m.Called(ctx, caller, f)
	list, _ := args.Get(0).([]*identity.Profile)
	return list, args.Error(1)
}

func (m *mockGateway) GetMember(ctx context.Context, caller *authz.Principal, userID string) (*identity.Profile, error) {
	args := m.Called(ctx, caller, userID)
	return profileArg(args), args.Error(1)
}

func (m *mockGateway) CreateMember(ctx context.Context, caller *authz.Principal, in gateway.MemberInput) (*identity.Profile, error) {
	args := m.Called(ctx, caller, in)
	return profileArg(args), args.Error(1)
}

func (m *mockGateway) UpdateMember(ctx context.Context, caller *authz.Principal, userID string, in gateway.MemberUpdate) (*identity.Profile, error) {
	args := m.Called(ctx, caller, userID, in)
	return profileArg(args), args.Error(1)
}

func (m *mockGateway) DeleteMember(ctx context.Context, caller *authz.Principal, userID string) error {
	return m.Called(ctx, caller, userID).Error(0)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}
