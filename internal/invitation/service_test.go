package invitation

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/identity"
)

// fakeRepo is an in-memory Repository whose Redeem is a compare-and-swap
// under a mutex, like the SQL implementation.
type fakeRepo struct {
	mu          sync.Mutex
	invitations map[string]*Invitation
	profiles    map[string]*identity.Profile
	agencyNames map[string]string
	members     map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		invitations: make(map[string]*Invitation),
		profiles:    make(map[string]*identity.Profile),
		agencyNames: map[string]string{"agency-a": "Acme Realty", "agency-b": "Beta Homes"},
		members:     make(map[string]int),
	}
}

func (r *fakeRepo) Create(ctx context.Context, inv *Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.invitations {
		if existing.AgencyID != inv.AgencyID || existing.Email != inv.Email || existing.UsedAt != nil {
			continue
		}
		if !existing.ExpiresAt.After(inv.CreatedAt) {
			delete(r.invitations, id)
			continue
		}
		return ErrDuplicatePending
	}
	c := *inv
	r.invitations[inv.ID] = &c
	return nil
}

func (r *fakeRepo) byToken(token string) *Invitation {
	for _, inv := range r.invitations {
		if inv.Token == token {
			return inv
		}
	}
	return nil
}

func (r *fakeRepo) GetByToken(ctx context.Context, token string) (*Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := r.byToken(token)
	if inv == nil {
		return nil, ErrInvitationNotFound
	}
	return &Resolved{Invitation: *inv, AgencyName: r.agencyNames[inv.AgencyID]}, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	c := *inv
	return &c, nil
}

func (r *fakeRepo) Redeem(ctx context.Context, red Redemption) (*identity.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := r.byToken(red.Token)
	if inv == nil || inv.UsedAt != nil || !red.Now.Before(inv.ExpiresAt) {
		return nil, ErrNotRedeemable
	}
	if p, ok := r.profiles[red.UserID]; ok && (p.AgencyID != nil || p.Role == authz.RoleSuperAdmin) {
		return nil, ErrAlreadyMember
	}
	usedAt := red.Now
	inv.UsedAt = &usedAt
	agencyID := inv.AgencyID
	p := &identity.Profile{
		ID:          red.UserID,
		AgencyID:    &agencyID,
		Email:       red.Email,
		DisplayName: red.DisplayName,
		Role:        inv.Role,
		Active:      true,
	}
	r.profiles[red.UserID] = p
	r.members[inv.AgencyID]++
	return p, nil
}

func (r *fakeRepo) DeletePending(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok || inv.UsedAt != nil {
		return ErrInvitationNotFound
	}
	delete(r.invitations, id)
	return nil
}

func (r *fakeRepo) ReplaceToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok || inv.UsedAt != nil {
		return ErrInvitationNotFound
	}
	inv.Token = token
	inv.ExpiresAt = expiresAt
	return nil
}

func (r *fakeRepo) ListByAgency(ctx context.Context, agencyID string) ([]*Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Invitation
	for _, inv := range r.invitations {
		if inv.AgencyID == agencyID {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) SeatsInUse(ctx context.Context, agencyID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.members[agencyID]
	for _, inv := range r.invitations {
		if inv.AgencyID == agencyID && inv.State(now) == StatePending {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, inv := range r.invitations {
		if inv.UsedAt == nil && inv.ExpiresAt.Before(cutoff) {
			delete(r.invitations, id)
			n++
		}
	}
	return n, nil
}

type fakeAgencies map[string]*agency.Agency

func (f fakeAgencies) GetByID(ctx context.Context, id string) (*agency.Agency, error) {
	a, ok := f[id]
	if !ok {
		return nil, agency.ErrAgencyNotFound
	}
	return a, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Log(ctx context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	agencies fakeAgencies
	audit    *recordingAudit
	cache    *recordingCache
	now      time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newFakeRepo(),
		agencies: fakeAgencies{
			"agency-a": {ID: "agency-a", Name: "Acme Realty", Status: agency.StatusActive, MaxUsers: 5},
			"agency-b": {ID: "agency-b", Name: "Beta Homes", Status: agency.StatusActive, MaxUsers: 5},
		},
		audit: &recordingAudit{},
		cache: &recordingCache{},
		now:   time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.agencies, f.cache, f.audit, "https://app.example.com/", WithClock(f.clock))
	return f
}

func ptr(s string) *string { return &s }

func admin(agencyID string) *authz.Principal {
	return &authz.Principal{ID: "admin-" + agencyID, AgencyID: ptr(agencyID), Role: authz.RoleAgencyAdmin, Active: true}
}

func superAdmin() *authz.Principal {
	return &authz.Principal{ID: "root", Role: authz.RoleSuperAdmin, Active: true}
}

// TestPurpose: Validates the issue, resolve and redeem round trip.
// Scope: Unit Test
// Security: Invitations grant exactly the invited role in exactly the invited agency
// Expected: Resolve shows the agency name; redemption yields a profile bound to the agency with the invited role and the invitation becomes USED.
// Test Case ID: INV-01
func TestService_IssueResolveRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", " New.Agent@Example.com ", authz.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, "new.agent@example.com", inv.Email)
	assert.Equal(t, f.now.Add(DefaultTTL), inv.ExpiresAt)
	assert.Equal(t, StatePending, inv.State(f.now))
	assert.Equal(t, "https://app.example.com/signup?invite="+inv.Token, f.svc.RedemptionURL(inv.Token))

	res, err := f.svc.ResolveToken(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, "Acme Realty", res.AgencyName)

	profile, err := f.svc.Redeem(ctx, inv.Token, Invitee{UserID: "user-1", Email: "NEW.AGENT@example.com"})
	require.NoError(t, err)
	require.NotNil(t, profile.AgencyID)
	assert.Equal(t, "agency-a", *profile.AgencyID)
	assert.Equal(t, authz.RoleAgent, profile.Role)

	stored, err := f.repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StateUsed, stored.State(f.now))
	assert.Equal(t, []string{"user-1"}, f.cache.invalidated)
	assert.Equal(t, []string{audit.TypeInvitationIssued, audit.TypeInvitationRedeemed}, f.audit.types())

	_, err = f.svc.Redeem(ctx, inv.Token, Invitee{UserID: "user-2", Email: "new.agent@example.com"})
	assert.True(t, apperr.Is(err, apperr.KindAlreadyUsed))
}

// TestPurpose: Validates that concurrent redemptions of one token succeed at most once.
// Scope: Unit Test
// Security: Single-use invitation tokens
// Expected: Exactly one redeemer succeeds; every other redeemer gets AlreadyUsed.
// Test Case ID: INV-02
func TestService_Redeem_AtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "race@example.com", authz.RoleViewer)
	require.NoError(t, err)

	const redeemers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Redeem(ctx, inv.Token, Invitee{
				UserID: "user-" + string(rune('a'+i)),
				Email:  "race@example.com",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			errs = append(errs, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, errs, redeemers-1)
	for _, err := range errs {
		assert.True(t, apperr.Is(err, apperr.KindAlreadyUsed), "got %v", err)
	}
}

// TestPurpose: Validates the expiry boundary of the half-open validity interval.
// Scope: Unit Test
// Expected: Redeemable one second before expires_at; Expired at and one second after it.
// Test Case ID: INV-03
func TestService_Redeem_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		offset  time.Duration
		wantErr bool
	}{
		{"one second before", -time.Second, false},
		{"exactly at expiry", 0, true},
		{"one second after", time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			inv, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "edge@example.com", authz.RoleViewer)
			require.NoError(t, err)

			f.now = inv.ExpiresAt.Add(tt.offset)
			_, err = f.svc.Redeem(ctx, inv.Token, Invitee{UserID: "user-1", Email: "edge@example.com"})
			if tt.wantErr {
				assert.True(t, apperr.Is(err, apperr.KindExpired), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestPurpose: Validates that a redeemer with a different email is rejected.
// Scope: Unit Test
// Security: Invitation tokens are bound to the invited address
// Expected: EmailMismatch; the invitation stays pending.
// Test Case ID: INV-04
func TestService_Redeem_EmailMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "invited@example.com", authz.RoleAgent)
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, inv.Token, Invitee{UserID: "user-1", Email: "someone.else@example.com"})
	assert.True(t, apperr.Is(err, apperr.KindEmailMismatch))

	stored, err := f.repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, stored.State(f.now))
}

func TestService_Redeem_UnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Redeem(context.Background(), "does-not-exist", Invitee{UserID: "u", Email: "a@example.com"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.ResolveToken(context.Background(), "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestService_Redeem_AlreadyMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.profiles["user-1"] = &identity.Profile{ID: "user-1", AgencyID: ptr("agency-b"), Role: authz.RoleAgent, Active: true}

	inv, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "member@example.com", authz.RoleAgent)
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, inv.Token, Invitee{UserID: "user-1", Email: "member@example.com"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

// TestPurpose: Validates the issuance rules for capability, scope, role and seats.
// Scope: Unit Test
// Security: Invitations cannot escalate privileges or cross tenants
// Expected: Each violation maps to its error kind.
// Test Case ID: INV-05
func TestService_Issue_Rules(t *testing.T) {
	agent := &authz.Principal{ID: "agent-1", AgencyID: ptr("agency-a"), Role: authz.RoleAgent, Active: true}

	tests := []struct {
		name     string
		setup    func(f *fixture)
		actor    *authz.Principal
		agencyID string
		email    string
		role     authz.Role
		want     apperr.Kind
	}{
		{name: "agent lacks capability", actor: agent, agencyID: "agency-a", email: "x@example.com", role: authz.RoleViewer, want: apperr.KindPermissionDenied},
		{name: "guest", actor: nil, agencyID: "agency-a", email: "x@example.com", role: authz.RoleViewer, want: apperr.KindPermissionDenied},
		{name: "other tenant", actor: admin("agency-b"), agencyID: "agency-a", email: "x@example.com", role: authz.RoleViewer, want: apperr.KindNotFound},
		{name: "peer admin", actor: admin("agency-a"), agencyID: "agency-a", email: "x@example.com", role: authz.RoleAgencyAdmin, want: apperr.KindPermissionDenied},
		{name: "super admin role", actor: superAdmin(), agencyID: "agency-a", email: "x@example.com", role: authz.RoleSuperAdmin, want: apperr.KindValidation},
		{name: "bad email", actor: admin("agency-a"), agencyID: "agency-a", email: "not-an-email", role: authz.RoleViewer, want: apperr.KindValidation},
		{name: "missing agency", actor: superAdmin(), agencyID: "agency-z", email: "x@example.com", role: authz.RoleViewer, want: apperr.KindNotFound},
		{
			name:     "suspended agency",
			setup:    func(f *fixture) { f.agencies["agency-a"].Status = agency.StatusSuspended },
			actor:    admin("agency-a"),
			agencyID: "agency-a", email: "x@example.com", role: authz.RoleViewer,
			want: apperr.KindValidation,
		},
		{
			name:     "seat limit",
			setup:    func(f *fixture) { f.repo.members["agency-a"] = 5 },
			actor:    admin("agency-a"),
			agencyID: "agency-a", email: "x@example.com", role: authz.RoleViewer,
			want: apperr.KindConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.svc.Issue(context.Background(), tt.actor, tt.agencyID, tt.email, tt.role)
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.KindOf(err))
		})
	}
}

func TestService_Issue_SuperAdminGrantsAgencyAdmin(t *testing.T) {
	f := newFixture(t)

	inv, err := f.svc.Issue(context.Background(), superAdmin(), "agency-b", "boss@example.com", authz.RoleAgencyAdmin)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAgencyAdmin, inv.Role)
	assert.Equal(t, "root", inv.InvitedBy)
}

func TestService_Issue_DuplicatePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "dup@example.com", authz.RoleViewer)
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, admin("agency-a"), "agency-a", "DUP@example.com", authz.RoleAgent)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

// TestPurpose: Validates that an expired invitation does not block inviting the same address again.
// Scope: Unit Test
// Security: The replaced invitation's token stops resolving once a new one is issued
// Expected: Conflict while the first invitation is still pending; from its expiry instant a new invitation succeeds and the old token is NotFound.
// Test Case ID: INV-08
func TestService_Issue_ReplacesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "again@example.com", authz.RoleViewer)
	require.NoError(t, err)

	f.now = first.ExpiresAt.Add(-time.Second)
	_, err = f.svc.Issue(ctx, admin("agency-a"), "agency-a", "again@example.com", authz.RoleViewer)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	f.now = first.ExpiresAt
	second, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "again@example.com", authz.RoleAgent)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, authz.RoleAgent, second.Role)

	_, err = f.svc.ResolveToken(ctx, first.Token)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.repo.GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, ErrInvitationNotFound)

	list, err := f.svc.List(ctx, admin("agency-a"), "agency-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)
}

// TestPurpose: Validates regeneration of an expired invitation.
// Scope: Unit Test
// Expected: New token and a fresh seven-day window; the old token no longer resolves; email, role and agency unchanged.
// Test Case ID: INV-06
func TestService_Regenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "late@example.com", authz.RoleAgent)
	require.NoError(t, err)
	oldToken := inv.Token

	f.now = inv.ExpiresAt.Add(time.Hour)
	regen, err := f.svc.Regenerate(ctx, admin("agency-a"), "agency-a", inv.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, regen.Token)
	assert.Equal(t, f.now.Add(DefaultTTL), regen.ExpiresAt)
	assert.Equal(t, inv.Email, regen.Email)
	assert.Equal(t, inv.Role, regen.Role)
	assert.Equal(t, inv.AgencyID, regen.AgencyID)

	_, err = f.svc.ResolveToken(ctx, oldToken)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.Redeem(ctx, regen.Token, Invitee{UserID: "user-1", Email: "late@example.com"})
	assert.NoError(t, err)

	_, err = f.svc.Regenerate(ctx, admin("agency-a"), "agency-a", inv.ID)
	assert.True(t, apperr.Is(err, apperr.KindAlreadyUsed))
}

func TestService_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "gone@example.com", authz.RoleViewer)
	require.NoError(t, err)

	err = f.svc.Cancel(ctx, admin("agency-b"), "agency-b", inv.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, f.svc.Cancel(ctx, admin("agency-a"), "agency-a", inv.ID))
	_, err = f.svc.ResolveToken(ctx, inv.Token)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	used, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "used@example.com", authz.RoleViewer)
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, used.Token, Invitee{UserID: "user-9", Email: "used@example.com"})
	require.NoError(t, err)

	err = f.svc.Cancel(ctx, admin("agency-a"), "agency-a", used.ID)
	assert.True(t, apperr.Is(err, apperr.KindAlreadyUsed))
}

// TestPurpose: Validates that invitations are managed only under their own agency.
// Scope: Unit Test
// Security: Resource path consistency; an invitation id is not addressable through another agency
// Expected: NotFound for a super admin using the wrong agency; the invitation is left untouched.
// Test Case ID: INV-07
func TestService_ManageUnderWrongAgency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "path@example.com", authz.RoleViewer)
	require.NoError(t, err)

	err = f.svc.Cancel(ctx, superAdmin(), "agency-b", inv.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.Regenerate(ctx, superAdmin(), "agency-b", inv.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	res, err := f.svc.ResolveToken(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, res.ID)

	require.NoError(t, f.svc.Cancel(ctx, superAdmin(), "agency-a", inv.ID))
}

func TestService_ListAndPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, admin("agency-a"), "agency-a", "one@example.com", authz.RoleViewer)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, admin("agency-b"), "agency-b", "two@example.com", authz.RoleViewer)
	require.NoError(t, err)

	list, err := f.svc.List(ctx, admin("agency-a"), "agency-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.List(ctx, admin("agency-a"), "agency-b")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	f.now = f.now.Add(DefaultTTL + 31*24*time.Hour)
	n, err := f.svc.PurgeExpired(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestValidate_Precedence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	used := now.Add(-time.Hour)

	assert.True(t, apperr.Is(Validate(nil, now), apperr.KindNotFound))
	assert.True(t, apperr.Is(Validate(&Invitation{UsedAt: &used, ExpiresAt: now.Add(-time.Minute)}, now), apperr.KindAlreadyUsed))
	assert.True(t, apperr.Is(Validate(&Invitation{ExpiresAt: now}, now), apperr.KindExpired))
	assert.NoError(t, Validate(&Invitation{ExpiresAt: now.Add(time.Second)}, now))
}
