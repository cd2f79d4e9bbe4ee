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
	"net/mail"
	"strings"
	"time"

	"github.com/agencydesk/agencydesk/internal/authz"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountInactive    = errors.New("account is inactive")
)

// Identity is the authentication record. Authorization data lives in Profile.
type Identity struct {
	ID                  string
	Email               string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Credentials represents user authentication credentials
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// Profile is the authorization-relevant view of a user.
//
// Only super admins have a nil AgencyID by design. An agency-scoped role with
// a nil AgencyID is a user that signed up without an invitation and has not
// been assigned to an agency yet.
type Profile struct {
	ID          string     `json:"id"`
	AgencyID    *string    `json:"agency_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        authz.Role `json:"role"`
	Active      bool       `json:"active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Principal returns the policy engine view of p.
func (p *Profile) Principal() *authz.Principal {
	if p == nil {
		return nil
	}
	var agencyID *string
	if p.AgencyID != nil {
		a := *p.AgencyID
		agencyID = &a
	}
	return &authz.Principal{
		ID:       p.ID,
		AgencyID: agencyID,
		Role:     p.Role,
		Active:   p.Active,
	}
}

// Repository defines the interface for identity and profile persistence
type Repository interface {
	// CreateAccount stores an identity, its credentials and its profile in one
	// transaction. When bootstrap is true and no profile exists yet, the
	// profile is stored as an agency-less super admin instead; the returned
	// flag reports whether that happened.
	CreateAccount(ctx context.Context, ident *Identity, creds *Credentials, profile *Profile, bootstrap bool) (bool, error)

	// GetByEmail retrieves an identity by lower-cased email
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// GetCredentials retrieves user credentials
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)

	// UpdatePassword updates user password
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// UpdateLockout updates user lockout status
	UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error

	// GetProfile retrieves a profile by user id
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// UpdateDisplayName changes only the display name
	UpdateDisplayName(ctx context.Context, userID, displayName string) error

	// RecordLogin sets last_login_at
	RecordLogin(ctx context.Context, userID string, at time.Time) error

	// PromoteToSuperAdmin sets role super_admin and clears the agency
	PromoteToSuperAdmin(ctx context.Context, userID string) error
}

// NormalizeEmail trims and lower-cases email and checks that it is a bare
// address.
func NormalizeEmail(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	if len(e) < 3 || len(e) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndex(e, "@")
	if at < 1 || !strings.Contains(e[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return e, nil
}

// EmailsMatch compares two addresses case-insensitively.
func EmailsMatch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
