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

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/id"
	"github.com/agencydesk/agencydesk/internal/identity"
)

// bootstrapLockKey serializes first-account checks across instances.
const bootstrapLockKey = 7_202_601

const profileColumns = `id, agency_id, email, display_name, role, active, last_login_at, created_at, updated_at`

// IdentityRepository implements identity.Repository
type IdentityRepository struct {
	db *DB
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func scanProfile(row pgx.Row) (*identity.Profile, error) {
	var p identity.Profile
	err := row.Scan(
		&p.ID, &p.AgencyID, &p.Email, &p.DisplayName, &p.Role, &p.Active,
		&p.LastLoginAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateAccount stores identity, credentials and profile in one transaction.
func (r *IdentityRepository) CreateAccount(ctx context.Context, ident *identity.Identity, creds *identity.Credentials, profile *identity.Profile, bootstrap bool) (bool, error) {
	bootstrapped := false
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if bootstrap {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapLockKey); err != nil {
				return dbError("acquire bootstrap lock", err)
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles)`).Scan(&exists); err != nil {
				return dbError("check existing profiles", err)
			}
			if !exists {
				bootstrapped = true
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO identities (id, email, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
		`, ident.ID, ident.Email, ident.CreatedAt, ident.UpdatedAt); err != nil {
			if isUniqueViolation(err, "identities_email_key") {
				return identity.ErrUserAlreadyExists
			}
			return dbError("insert identity", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO credentials (user_id, password_hash, updated_at)
			VALUES ($1, $2, $3)
		`, creds.UserID, creds.PasswordHash, creds.UpdatedAt); err != nil {
			return dbError("insert credentials", err)
		}

		role, agencyID := profile.Role, profile.AgencyID
		if bootstrapped {
			role, agencyID = authz.RoleSuperAdmin, nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO profiles (id, agency_id, email, display_name, role, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, profile.ID, agencyID, profile.Email, profile.DisplayName, role, profile.Active,
			profile.CreatedAt, profile.UpdatedAt); err != nil {
			return dbError("insert profile", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if bootstrapped {
		profile.Role = authz.RoleSuperAdmin
		profile.AgencyID = nil
	}
	return bootstrapped, nil
}

// GetByEmail retrieves an identity by lower-cased email
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	var ident identity.Identity
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, email, failed_login_attempts, locked_until, created_at, updated_at
		FROM identities
		WHERE email = $1
	`, email).Scan(
		&ident.ID, &ident.Email, &ident.FailedLoginAttempts, &ident.LockedUntil,
		&ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, dbError("get identity", err)
	}
	return &ident, nil
}

// GetCredentials retrieves user credentials
func (r *IdentityRepository) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	if !id.IsUUID(userID) {
		return nil, identity.ErrUserNotFound
	}
	var creds identity.Credentials
	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, password_hash, updated_at
		FROM credentials
		WHERE user_id = $1
	`, userID).Scan(&creds.UserID, &creds.PasswordHash, &creds.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, dbError("get credentials", err)
	}
	return &creds, nil
}

// UpdatePassword updates user password
func (r *IdentityRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	if !id.IsUUID(userID) {
		return identity.ErrUserNotFound
	}
	result, err := r.db.pool.Exec(ctx, `
		UPDATE credentials SET password_hash = $2, updated_at = now()
		WHERE user_id = $1
	`, userID, passwordHash)
	if err != nil {
		return dbError("update password", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// UpdateLockout updates user lockout status
func (r *IdentityRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	if !id.IsUUID(userID) {
		return identity.ErrUserNotFound
	}
	_, err := r.db.pool.Exec(ctx, `
		UPDATE identities
		SET failed_login_attempts = $2, locked_until = $3, updated_at = now()
		WHERE id = $1
	`, userID, failedAttempts, lockedUntil)
	if err != nil {
		return dbError("update lockout status", err)
	}
	return nil
}

// GetProfile retrieves a profile by user id
func (r *IdentityRepository) GetProfile(ctx context.Context, userID string) (*identity.Profile, error) {
	if !id.IsUUID(userID) {
		return nil, identity.ErrProfileNotFound
	}
	p, err := scanProfile(r.db.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrProfileNotFound
		}
		return nil, dbError("get profile", err)
	}
	return p, nil
}

// UpdateDisplayName changes only the display name
func (r *IdentityRepository) UpdateDisplayName(ctx context.Context, userID, displayName string) error {
	if !id.IsUUID(userID) {
		return identity.ErrProfileNotFound
	}
	result, err := r.db.pool.Exec(ctx, `
		UPDATE profiles SET display_name = $2, updated_at = now()
		WHERE id = $1
	`, userID, displayName)
	if err != nil {
		return dbError("update display name", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrProfileNotFound
	}
	return nil
}

// RecordLogin sets last_login_at
func (r *IdentityRepository) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	if !id.IsUUID(userID) {
		return identity.ErrProfileNotFound
	}
	_, err := r.db.pool.Exec(ctx, `UPDATE profiles SET last_login_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return dbError("record login", err)
	}
	return nil
}

// PromoteToSuperAdmin sets role super_admin and clears the agency
func (r *IdentityRepository) PromoteToSuperAdmin(ctx context.Context, userID string) error {
	if !id.IsUUID(userID) {
		return identity.ErrProfileNotFound
	}
	result, err := r.db.pool.Exec(ctx, `
		UPDATE profiles SET role = $2, agency_id = NULL, updated_at = now()
		WHERE id = $1
	`, userID, authz.RoleSuperAdmin)
	if err != nil {
		return dbError("promote to super admin", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrProfileNotFound
	}
	return nil
}
