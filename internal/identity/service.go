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
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/id"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
	"github.com/agencydesk/agencydesk/internal/retry"
)

const maxDisplayNameLength = 100

type principalCache interface {
	Invalidate(ctx context.Context, userID string) error
}

// Service provides identity-related business logic
type Service struct {
	repo               Repository
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
	loadPolicy         retry.Policy
	cache              principalCache
	now                func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLoadPolicy sets the retry policy used by LoadProfile.
func WithLoadPolicy(p retry.Policy) Option {
	return func(s *Service) { s.loadPolicy = p }
}

// WithPrincipalCache sets the cache invalidated on role or agency changes.
func WithPrincipalCache(c principalCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new identity service
func NewService(
	repo Repository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
	opts ...Option,
) *Service {
	s := &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
		loadPolicy:         retry.Default(),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignupInput is the data accepted by Signup
type SignupInput struct {
	Email       string
	Password    string
	DisplayName string

	// AllowBootstrap lets the very first account become super admin.
	// Invitation signups pass false.
	AllowBootstrap bool

	IPAddress string
	UserAgent string
}

// Signup creates an identity with credentials and a profile. Ordinary
// signups get an agency-less viewer profile; the first profile ever created
// becomes super admin when AllowBootstrap is set.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Profile, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, apperr.Invalid("email", "Enter a valid email address.")
	}
	if !isStrongPassword(in.Password) {
		return nil, apperr.Invalid("password", "Password must be at least 8 characters.")
	}
	displayName, err := normalizeDisplayName(in.DisplayName, email)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, apperr.Wrap(apperr.KindConflict, "signup", ErrUserAlreadyExists).
			WithUserMessage("An account with this email already exists.")
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, apperr.Classify("lookup identity", err)
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "hash password", err)
	}

	now := s.now()
	userID := id.NewUUIDv7()
	ident := &Identity{ID: userID, Email: email, CreatedAt: now, UpdatedAt: now}
	creds := &Credentials{UserID: userID, PasswordHash: passwordHash, UpdatedAt: now}
	profile := &Profile{
		ID:          userID,
		Email:       email,
		DisplayName: displayName,
		Role:        authz.RoleViewer,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	bootstrapped, err := s.repo.CreateAccount(ctx, ident, creds, profile, in.AllowBootstrap)
	if err != nil {
		if errors.Is(err, ErrUserAlreadyExists) {
			return nil, apperr.Wrap(apperr.KindConflict, "signup", err).
				WithUserMessage("An account with this email already exists.")
		}
		return nil, apperr.Classify("create account", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeSignup,
		ActorID:   userID,
		Resource:  audit.ResourceUser,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		Metadata:  map[string]any{audit.AttrEmail: email},
	})
	if bootstrapped {
		slog.InfoContext(ctx, "first account bootstrapped as super admin", logger.UserID(userID))
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeSuperAdminBootstrap,
			ActorID:  audit.ActorSystem,
			Resource: audit.ResourcePlatform,
			Metadata: map[string]any{audit.AttrTargetID: userID, audit.AttrEmail: email},
		})
	}

	return s.LoadProfile(ctx, userID)
}

// Authenticate checks email and password and returns the caller's profile.
// Repeated failures lock the identity for the configured duration.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Profile, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))

	ident, err := s.repo.GetByEmail(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, apperr.Classify("lookup identity", err)
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: normalized,
			Metadata: map[string]any{audit.AttrReason: "user_not_found"},
		})
		return nil, invalidCredentials()
	}

	now := s.now()
	if ident.LockedUntil != nil && ident.LockedUntil.After(now) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  ident.ID,
			Resource: audit.ResourceSession,
			Metadata: map[string]any{audit.AttrReason: "locked_out"},
		})
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "authenticate", ErrAccountLocked).
			WithUserMessage("Too many failed attempts. Try again later.")
	}

	creds, err := s.repo.GetCredentials(ctx, ident.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, invalidCredentials()
		}
		return nil, apperr.Classify("load credentials", err)
	}

	valid, err := s.hasher.Verify(password, creds.PasswordHash)
	if err != nil || !valid {
		attempts := ident.FailedLoginAttempts + 1
		var lockedUntil *time.Time
		if s.lockoutMaxAttempts > 0 && attempts >= s.lockoutMaxAttempts {
			until := now.Add(s.lockoutDuration)
			lockedUntil = &until
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				ActorID:  ident.ID,
				Resource: audit.ResourceSession,
				Metadata: map[string]any{audit.AttrAttempts: attempts},
			})
		}
		if err := s.repo.UpdateLockout(ctx, ident.ID, attempts, lockedUntil); err != nil {
			slog.WarnContext(ctx, "failed to record failed login", logger.UserID(ident.ID), logger.Error(err))
		}

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  ident.ID,
			Resource: audit.ResourceSession,
			Metadata: map[string]any{
				audit.AttrReason:   "invalid_password",
				audit.AttrAttempts: attempts,
			},
		})
		return nil, invalidCredentials()
	}

	if ident.FailedLoginAttempts > 0 || ident.LockedUntil != nil {
		if err := s.repo.UpdateLockout(ctx, ident.ID, 0, nil); err != nil {
			slog.WarnContext(ctx, "failed to reset lockout", logger.UserID(ident.ID), logger.Error(err))
		}
	}

	profile, err := s.LoadProfile(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	if !profile.Active {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  ident.ID,
			Resource: audit.ResourceSession,
			Metadata: map[string]any{audit.AttrReason: "inactive"},
		})
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "authenticate", ErrAccountInactive).
			WithUserMessage("This account has been deactivated.")
	}

	if err := s.repo.RecordLogin(ctx, ident.ID, now); err != nil {
		slog.WarnContext(ctx, "failed to record login time", logger.UserID(ident.ID), logger.Error(err))
	} else {
		profile.LastLoginAt = &now
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		AgencyID: stringValue(profile.AgencyID),
		ActorID:  ident.ID,
		Resource: audit.ResourceSession,
	})

	return profile, nil
}

// LoadProfile reads a profile, retrying while it is not yet visible. After
// the attempts are exhausted it returns a NotFound error.
func (s *Service) LoadProfile(ctx context.Context, userID string) (*Profile, error) {
	var profile *Profile
	err := s.loadPolicy.Do(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetProfile(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrProfileNotFound) {
				return err
			}
			return retry.Permanent(err)
		}
		profile = p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("profile %s", userID), err).
				WithUserMessage("Your profile could not be loaded. Please try again.")
		}
		return nil, apperr.Classify("load profile", err)
	}
	return profile, nil
}

// GetProfile reads a profile once.
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "get profile", err)
		}
		return nil, apperr.Classify("get profile", err)
	}
	return p, nil
}

// LoadPrincipal returns the policy view of userID's current profile.
func (s *Service) LoadPrincipal(ctx context.Context, userID string) (*authz.Principal, error) {
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.Principal(), nil
}

// UpdateDisplayName lets a user change their own display name. Role, agency
// and active flag are never changed here.
func (s *Service) UpdateDisplayName(ctx context.Context, userID, displayName string) (*Profile, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, apperr.Invalid("display_name", "Display name is required.")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return nil, apperr.Invalid("display_name", "Display name is too long.")
	}

	if err := s.repo.UpdateDisplayName(ctx, userID, name); err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "update display name", err)
		}
		return nil, apperr.Classify("update display name", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeProfileUpdated,
		ActorID:  userID,
		Resource: audit.ResourceUser,
	})

	return s.GetProfile(ctx, userID)
}

// ChangePassword changes the caller's password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	creds, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperr.Wrap(apperr.KindNotFound, "change password", err)
		}
		return apperr.Classify("load credentials", err)
	}

	valid, err := s.hasher.Verify(oldPassword, creds.PasswordHash)
	if err != nil || !valid {
		return apperr.Invalid("old_password", "Current password is incorrect.")
	}
	if !isStrongPassword(newPassword) {
		return apperr.Invalid("new_password", "Password must be at least 8 characters.")
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "hash password", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, newHash); err != nil {
		return apperr.Classify("update password", err)
	}
	return nil
}

// PromoteToSuperAdmin grants super_admin to target and clears its agency.
// Only an existing super admin may do this.
func (s *Service) PromoteToSuperAdmin(ctx context.Context, actor *authz.Principal, targetID string) (*Profile, error) {
	if !actor.IsSuperAdmin() {
		return nil, apperr.New(apperr.KindPermissionDenied, "promote to super admin")
	}

	target, err := s.GetProfile(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == authz.RoleSuperAdmin {
		return target, nil
	}

	if err := s.repo.PromoteToSuperAdmin(ctx, targetID); err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "promote to super admin", err)
		}
		return nil, apperr.Classify("promote to super admin", err)
	}
	s.invalidate(ctx, targetID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSuperAdminPromoted,
		AgencyID: stringValue(target.AgencyID),
		ActorID:  actor.ID,
		Resource: audit.ResourceUser,
		Metadata: map[string]any{
			audit.AttrTargetID: targetID,
			audit.AttrOldRole:  string(target.Role),
		},
	})

	return s.GetProfile(ctx, targetID)
}

// ProvisionMember creates an account directly inside an agency. Used by the
// gateway when an administrator adds a member without an invitation.
func (s *Service) ProvisionMember(ctx context.Context, email, password, displayName string, role authz.Role, agencyID string) (*Profile, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, apperr.Invalid("email", "Enter a valid email address.")
	}
	if !isStrongPassword(password) {
		return nil, apperr.Invalid("password", "Password must be at least 8 characters.")
	}
	if !role.AgencyScoped() {
		return nil, apperr.Invalid("role", "Role must be agency_admin, agent or viewer.")
	}
	name, err := normalizeDisplayName(displayName, normalized)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByEmail(ctx, normalized); err == nil {
		return nil, apperr.Wrap(apperr.KindConflict, "provision member", ErrUserAlreadyExists).
			WithUserMessage("An account with this email already exists.")
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, apperr.Classify("lookup identity", err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "hash password", err)
	}

	now := s.now()
	userID := id.NewUUIDv7()
	agency := agencyID
	profile := &Profile{
		ID:          userID,
		AgencyID:    &agency,
		Email:       normalized,
		DisplayName: name,
		Role:        role,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = s.repo.CreateAccount(ctx,
		&Identity{ID: userID, Email: normalized, CreatedAt: now, UpdatedAt: now},
		&Credentials{UserID: userID, PasswordHash: passwordHash, UpdatedAt: now},
		profile, false)
	if err != nil {
		if errors.Is(err, ErrUserAlreadyExists) {
			return nil, apperr.Wrap(apperr.KindConflict, "provision member", err)
		}
		return nil, apperr.Classify("create account", err)
	}
	return profile, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		slog.WarnContext(ctx, "failed to invalidate principal cache", logger.UserID(userID), logger.Error(err))
	}
}

func invalidCredentials() error {
	return apperr.Wrap(apperr.KindUnauthenticated, "authenticate", ErrInvalidCredentials).
		WithUserMessage("Invalid email or password.")
}

func normalizeDisplayName(displayName, email string) (string, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return "", apperr.Invalid("display_name", "Display name is too long.")
	}
	return name, nil
}

func isStrongPassword(password string) bool {
	return utf8.RuneCountInString(password) >= 8
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
