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

package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/retry"
)

// MockRepository is a simple in-memory implementation of Repository
type MockRepository struct {
	mu          sync.Mutex
	identities  map[string]*Identity
	credentials map[string]*Credentials
	profiles    map[string]*Profile

	// hiddenReads makes GetProfile report not found this many times.
	hiddenReads int
	profileGets int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		identities:  make(map[string]*Identity),
		credentials: make(map[string]*Credentials),
		profiles:    make(map[string]*Profile),
	}
}

func (m *MockRepository) CreateAccount(ctx context.Context, ident *Identity, creds *Credentials, profile *Profile, bootstrap bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.identities {
		if existing.Email == ident.Email {
			return false, ErrUserAlreadyExists
		}
	}
	promoted := false
	if bootstrap && len(m.profiles) == 0 {
		profile.Role = authz.RoleSuperAdmin
		profile.AgencyID = nil
		promoted = true
	}
	i, c, p := *ident, *creds, *profile
	m.identities[ident.ID] = &i
	m.credentials[ident.ID] = &c
	m.profiles[ident.ID] = &p
	return promoted, nil
}

func (m *MockRepository) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.Email == email {
			cp := *i
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockRepository) GetCredentials(ctx context.Context, userID string) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return ErrUserNotFound
	}
	c.PasswordHash = passwordHash
	return nil
}

func (m *MockRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.identities[userID]
	if !ok {
		return ErrUserNotFound
	}
	i.FailedLoginAttempts = failedAttempts
	i.LockedUntil = lockedUntil
	return nil
}

func (m *MockRepository) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileGets++
	if m.hiddenReads > 0 {
		m.hiddenReads--
		return nil, ErrProfileNotFound
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) UpdateDisplayName(ctx context.Context, userID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.DisplayName = displayName
	return nil
}

func (m *MockRepository) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.LastLoginAt = &at
	return nil
}

func (m *MockRepository) PromoteToSuperAdmin(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.Role = authz.RoleSuperAdmin
	p.AgencyID = nil
	return nil
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

func newTestService(repo *MockRepository, opts ...Option) *Service {
	hasher := NewPasswordHasher(1024, 1, 1, 16, 32)
	opts = append([]Option{WithLoadPolicy(retry.Default().NoDelay())}, opts...)
	return NewService(repo, hasher, audit.NewSlogLogger(), 3, 5*time.Minute, opts...)
}

// TestPurpose: Validates the user authentication flow, including success, failure, and account lockout after multiple failed attempts.
// Scope: Unit Test
// Security: Authentication mechanisms and Brute-force protection (lockout)
// Expected: Successful login for correct credentials, error for wrong credentials, and account lockout after the threshold.
// Test Case ID: IDN-01
func TestIdentity_Service_Authenticate(t *testing.T) {
	repo := NewMockRepository()
	s := newTestService(repo)
	ctx := context.Background()

	email := "test@example.com"
	password := "SecurePassword123"

	profile, err := s.Signup(ctx, SignupInput{Email: email, Password: password, DisplayName: "Test User"})
	require.NoError(t, err)

	got, err := s.Authenticate(ctx, "Test@Example.com", password)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, got.ID)
	assert.NotNil(t, got.LastLoginAt)

	_, err = s.Authenticate(ctx, email, "WrongPassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	_, _ = s.Authenticate(ctx, email, "WrongPassword")
	_, err = s.Authenticate(ctx, email, "WrongPassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, email, password)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

// TestPurpose: Validates that signing up fails if an identity with the same email already exists.
// Scope: Unit Test
// Security: Data Integrity and Unique Constraint Enforcement
// Expected: Conflict when the email is already registered, regardless of case.
// Test Case ID: IDN-02
func TestIdentity_Service_Signup_Conflict(t *testing.T) {
	s := newTestService(NewMockRepository())
	ctx := context.Background()

	_, err := s.Signup(ctx, SignupInput{Email: "conflict@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = s.Signup(ctx, SignupInput{Email: "Conflict@Example.com", Password: "password123"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

// TestPurpose: Validates the first-signup bootstrap: the first account becomes super admin and later ones become unassigned viewers.
// Scope: Unit Test
// Security: Privilege bootstrap (only one platform administrator is created implicitly)
// Expected: First profile is super_admin with nil agency; second is viewer with nil agency.
// Test Case ID: IDN-03
func TestIdentity_Service_Signup_Bootstrap(t *testing.T) {
	s := newTestService(NewMockRepository())
	ctx := context.Background()

	first, err := s.Signup(ctx, SignupInput{Email: "first@example.com", Password: "password123", AllowBootstrap: true})
	require.NoError(t, err)
	assert.Equal(t, authz.RoleSuperAdmin, first.Role)
	assert.Nil(t, first.AgencyID)

	second, err := s.Signup(ctx, SignupInput{Email: "second@example.com", Password: "password123", AllowBootstrap: true})
	require.NoError(t, err)
	assert.Equal(t, authz.RoleViewer, second.Role)
	assert.Nil(t, second.AgencyID)

	caps := authz.Derive(second.Principal())
	assert.True(t, caps[authz.CapViewProperties])
	assert.False(t, authz.CanAccessAgency(second.Principal(), "any-agency"))
}

// TestPurpose: Validates that concurrent first signups produce exactly one super admin.
// Scope: Unit Test
// Security: Privilege bootstrap race
// Expected: Exactly one of the concurrent signups is promoted.
// Test Case ID: IDN-04
func TestIdentity_Service_Signup_BootstrapConcurrent(t *testing.T) {
	s := newTestService(NewMockRepository())
	ctx := context.Background()

	const n = 8
	roles := make(chan authz.Role, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.Signup(ctx, SignupInput{
				Email:          string(rune('a'+i)) + "@example.com",
				Password:       "password123",
				AllowBootstrap: true,
			})
			if err == nil {
				roles <- p.Role
			}
		}(i)
	}
	wg.Wait()
	close(roles)

	supers := 0
	total := 0
	for r := range roles {
		total++
		if r == authz.RoleSuperAdmin {
			supers++
		}
	}
	assert.Equal(t, n, total)
	assert.Equal(t, 1, supers)
}

// TestPurpose: Validates bounded retry when a just-created profile is not yet visible.
// Scope: Unit Test
// Expected: Succeeds once visible within the attempt budget; NotFound after exhaustion.
// Test Case ID: IDN-05
func TestIdentity_Service_LoadProfile_Retry(t *testing.T) {
	repo := NewMockRepository()
	s := newTestService(repo)
	ctx := context.Background()

	p, err := s.Signup(ctx, SignupInput{Email: "lag@example.com", Password: "password123"})
	require.NoError(t, err)

	repo.hiddenReads = 2
	repo.profileGets = 0
	got, err := s.LoadProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, 3, repo.profileGets)

	repo.hiddenReads = 10
	repo.profileGets = 0
	_, err = s.LoadProfile(ctx, p.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, 3, repo.profileGets)
}

// TestPurpose: Validates that deactivated users cannot sign in.
// Scope: Unit Test
// Security: Access revocation
// Expected: Unauthenticated with ErrAccountInactive.
// Test Case ID: IDN-06
func TestIdentity_Service_Authenticate_Inactive(t *testing.T) {
	repo := NewMockRepository()
	s := newTestService(repo)
	ctx := context.Background()

	p, err := s.Signup(ctx, SignupInput{Email: "gone@example.com", Password: "password123"})
	require.NoError(t, err)
	repo.profiles[p.ID].Active = false

	_, err = s.Authenticate(ctx, "gone@example.com", "password123")
	assert.ErrorIs(t, err, ErrAccountInactive)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}

// TestPurpose: Validates that only super admins can create other super admins, and that promotion clears the agency.
// Scope: Unit Test
// Security: Vertical privilege escalation prevention
// Expected: Non-super-admin actor is denied; promotion clears agency and invalidates the cached principal.
// Test Case ID: IDN-07
func TestIdentity_Service_PromoteToSuperAdmin(t *testing.T) {
	repo := NewMockRepository()
	cache := &recordingCache{}
	s := newTestService(repo, WithPrincipalCache(cache))
	ctx := context.Background()

	root, err := s.Signup(ctx, SignupInput{Email: "root@example.com", Password: "password123", AllowBootstrap: true})
	require.NoError(t, err)
	target, err := s.Signup(ctx, SignupInput{Email: "admin@example.com", Password: "password123"})
	require.NoError(t, err)
	agency := "agency-1"
	repo.profiles[target.ID].AgencyID = &agency
	repo.profiles[target.ID].Role = authz.RoleAgencyAdmin

	_, err = s.PromoteToSuperAdmin(ctx, repo.profiles[target.ID].Principal(), target.ID)
	assert.True(t, apperr.Is(err, apperr.KindPermissionDenied))

	promoted, err := s.PromoteToSuperAdmin(ctx, root.Principal(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleSuperAdmin, promoted.Role)
	assert.Nil(t, promoted.AgencyID)
	assert.Equal(t, []string{target.ID}, cache.invalidated)
}

func TestIdentity_Service_UpdateDisplayName(t *testing.T) {
	s := newTestService(NewMockRepository())
	ctx := context.Background()

	p, err := s.Signup(ctx, SignupInput{Email: "name@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "name", p.DisplayName)

	updated, err := s.UpdateDisplayName(ctx, p.ID, "  Jane Agent ")
	require.NoError(t, err)
	assert.Equal(t, "Jane Agent", updated.DisplayName)
	assert.Equal(t, p.Role, updated.Role)

	_, err = s.UpdateDisplayName(ctx, p.ID, "   ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestIdentity_Service_ChangePassword(t *testing.T) {
	s := newTestService(NewMockRepository())
	ctx := context.Background()

	p, err := s.Signup(ctx, SignupInput{Email: "pw@example.com", Password: "password123"})
	require.NoError(t, err)

	err = s.ChangePassword(ctx, p.ID, "wrong-password", "newpassword1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	require.NoError(t, s.ChangePassword(ctx, p.ID, "password123", "newpassword1"))
	_, err = s.Authenticate(ctx, "pw@example.com", "newpassword1")
	assert.NoError(t, err)
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"User@Example.COM", "user@example.com", false},
		{"  a.b+tag@example.co.uk ", "a.b+tag@example.co.uk", false},
		{"not-an-email", "", true},
		{"Jane <jane@example.com>", "", true},
		{"jane@localhost", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeEmail(tt.in)
			if tt.err {
				assert.True(t, errors.Is(err, ErrInvalidEmail))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := NewPasswordHasher(1024, 1, 1, 16, 32)
	hash, err := h.Hash("correct-horse")
	require.NoError(t, err)

	ok, err := h.Verify("correct-horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("x", "$bcrypt$nope")
	assert.Error(t, err)
}
