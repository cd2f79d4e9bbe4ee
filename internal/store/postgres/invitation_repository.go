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
	"github.com/agencydesk/agencydesk/internal/invitation"
)

const invitationColumns = `i.id, i.agency_id, i.email, i.role, i.invited_by, i.token, i.expires_at, i.used_at, i.created_at`

// InvitationRepository implements invitation.Repository
type InvitationRepository struct {
	db *DB
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

func invitationDest(inv *invitation.Invitation) []any {
	return []any{
		&inv.ID, &inv.AgencyID, &inv.Email, &inv.Role, &inv.InvitedBy,
		&inv.Token, &inv.ExpiresAt, &inv.UsedAt, &inv.CreatedAt,
	}
}

// Create stores a new invitation. An unused invitation for the same agency
// and email that expired by inv.CreatedAt is deleted first, in the same
// transaction, so it does not hold the pending slot until the next purge.
func (r *InvitationRepository) Create(ctx context.Context, inv *invitation.Invitation) error {
	var invitedBy *string
	if inv.InvitedBy != "" {
		invitedBy = &inv.InvitedBy
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM agency_invitations
			WHERE agency_id = $1 AND email = $2 AND used_at IS NULL AND expires_at <= $3
		`, inv.AgencyID, inv.Email, inv.CreatedAt); err != nil {
			return dbError("replace expired invitation", err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO agency_invitations (id, agency_id, email, role, invited_by, token, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, inv.ID, inv.AgencyID, inv.Email, inv.Role, invitedBy, inv.Token, inv.ExpiresAt, inv.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, "agency_invitations_pending_key") {
				return invitation.ErrDuplicatePending
			}
			return dbError("insert invitation", err)
		}
		return nil
	})
}

// GetByToken looks an invitation up by token, joined with its agency name
func (r *InvitationRepository) GetByToken(ctx context.Context, token string) (*invitation.Resolved, error) {
	var res invitation.Resolved
	var invitedBy *string
	dest := invitationDest(&res.Invitation)
	dest[4] = &invitedBy
	err := r.db.pool.QueryRow(ctx, `
		SELECT `+invitationColumns+`, a.name
		FROM agency_invitations i
		JOIN agencies a ON a.id = i.agency_id
		WHERE i.token = $1
	`, token).Scan(append(dest, &res.AgencyName)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invitation.ErrInvitationNotFound
		}
		return nil, dbError("get invitation by token", err)
	}
	res.InvitedBy = stringOrEmpty(invitedBy)
	return &res, nil
}

// GetByID retrieves an invitation by ID
func (r *InvitationRepository) GetByID(ctx context.Context, invitationID string) (*invitation.Invitation, error) {
	if !id.IsUUID(invitationID) {
		return nil, invitation.ErrInvitationNotFound
	}
	var inv invitation.Invitation
	var invitedBy *string
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		dest := invitationDest(&inv)
		dest[4] = &invitedBy
		err := tx.QueryRow(ctx, `SELECT `+invitationColumns+` FROM agency_invitations i WHERE i.id = $1`, invitationID).Scan(dest...)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return invitation.ErrInvitationNotFound
			}
			return dbError("get invitation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	inv.InvitedBy = stringOrEmpty(invitedBy)
	return &inv, nil
}

// Redeem marks the invitation used and binds the profile in one
// transaction. The conditional UPDATE is the single point where concurrent
// redeemers race; only one of them gets a row back.
func (r *InvitationRepository) Redeem(ctx context.Context, red invitation.Redemption) (*identity.Profile, error) {
	var profile *identity.Profile
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		var invitationID, agencyID string
		var role authz.Role
		err := tx.QueryRow(ctx, `
			UPDATE agency_invitations SET used_at = $2
			WHERE token = $1 AND used_at IS NULL AND expires_at > $2
			RETURNING id, agency_id, role
		`, red.Token, red.Now).Scan(&invitationID, &agencyID, &role)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return invitation.ErrNotRedeemable
			}
			return dbError("claim invitation", err)
		}

		profile, err = scanProfile(tx.QueryRow(ctx, `
			INSERT INTO profiles AS p (id, agency_id, email, display_name, role, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
			ON CONFLICT (id) DO UPDATE
				SET agency_id = EXCLUDED.agency_id,
				    role = EXCLUDED.role,
				    updated_at = EXCLUDED.updated_at
				WHERE p.agency_id IS NULL AND p.role <> 'super_admin'
			RETURNING `+profileColumns, red.UserID, agencyID, red.Email, red.DisplayName, role, red.Now))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return invitation.ErrAlreadyMember
			}
			return dbError("bind profile", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// DeletePending removes an unused invitation
func (r *InvitationRepository) DeletePending(ctx context.Context, invitationID string) error {
	if !id.IsUUID(invitationID) {
		return invitation.ErrInvitationNotFound
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM agency_invitations WHERE id = $1 AND used_at IS NULL`, invitationID)
		if err != nil {
			return dbError("delete invitation", err)
		}
		if result.RowsAffected() == 0 {
			return invitation.ErrInvitationNotFound
		}
		return nil
	})
}

// ReplaceToken rotates the token and expiry of an unused invitation
func (r *InvitationRepository) ReplaceToken(ctx context.Context, invitationID, token string, expiresAt time.Time) error {
	if !id.IsUUID(invitationID) {
		return invitation.ErrInvitationNotFound
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE agency_invitations SET token = $2, expires_at = $3
			WHERE id = $1 AND used_at IS NULL
		`, invitationID, token, expiresAt)
		if err != nil {
			return dbError("replace invitation token", err)
		}
		if result.RowsAffected() == 0 {
			return invitation.ErrInvitationNotFound
		}
		return nil
	})
}

// ListByAgency returns an agency's invitations, newest first
func (r *InvitationRepository) ListByAgency(ctx context.Context, agencyID string) ([]*invitation.Invitation, error) {
	if !id.IsUUID(agencyID) {
		return []*invitation.Invitation{}, nil
	}
	invs := []*invitation.Invitation{}
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+invitationColumns+`
			FROM agency_invitations i
			WHERE i.agency_id = $1
			ORDER BY i.created_at DESC, i.id DESC
		`, agencyID)
		if err != nil {
			return dbError("list invitations", err)
		}
		defer rows.Close()
		for rows.Next() {
			var inv invitation.Invitation
			var invitedBy *string
			dest := invitationDest(&inv)
			dest[4] = &invitedBy
			if err := rows.Scan(dest...); err != nil {
				return dbError("scan invitation", err)
			}
			inv.InvitedBy = stringOrEmpty(invitedBy)
			invs = append(invs, &inv)
		}
		if err := rows.Err(); err != nil {
			return dbError("list invitations", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invs, nil
}

// SeatsInUse counts active members plus pending, unexpired invitations
func (r *InvitationRepository) SeatsInUse(ctx context.Context, agencyID string, now time.Time) (int, error) {
	if !id.IsUUID(agencyID) {
		return 0, nil
	}
	var seats int
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM profiles WHERE agency_id = $1 AND active)
			+ (SELECT count(*) FROM agency_invitations
				WHERE agency_id = $1 AND used_at IS NULL AND expires_at > $2)
	`, agencyID, now).Scan(&seats)
	if err != nil {
		return 0, dbError("count seats", err)
	}
	return seats, nil
}

// PurgeExpired deletes unused invitations that expired before cutoff
func (r *InvitationRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM agency_invitations
		WHERE used_at IS NULL AND expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, dbError("purge expired invitations", err)
	}
	return result.RowsAffected(), nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
