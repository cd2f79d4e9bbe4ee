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

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/id"
)

const agencyColumns = `id, name, slug, email, phone, address, status, max_users, subscription_tier, created_at, updated_at`

// AgencyRepository implements agency.Repository
type AgencyRepository struct {
	db *DB
}

// NewAgencyRepository creates a new agency repository
func NewAgencyRepository(db *DB) *AgencyRepository {
	return &AgencyRepository{db: db}
}

func scanAgency(row pgx.Row) (*agency.Agency, error) {
	var a agency.Agency
	err := row.Scan(
		&a.ID, &a.Name, &a.Slug, &a.Email, &a.Phone, &a.Address,
		&a.Status, &a.MaxUsers, &a.Tier, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create stores a new agency
func (r *AgencyRepository) Create(ctx context.Context, a *agency.Agency) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO agencies (
			id, name, slug, email, phone, address, status, max_users, subscription_tier,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		a.ID, a.Name, a.Slug, a.Email, a.Phone, a.Address, a.Status, a.MaxUsers, a.Tier,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "agencies_slug_key") {
			return agency.ErrSlugTaken
		}
		return dbError("insert agency", err)
	}
	return nil
}

// GetByID retrieves an agency by ID
func (r *AgencyRepository) GetByID(ctx context.Context, agencyID string) (*agency.Agency, error) {
	if !id.IsUUID(agencyID) {
		return nil, agency.ErrAgencyNotFound
	}
	a, err := scanAgency(r.db.pool.QueryRow(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE id = $1`, agencyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, agency.ErrAgencyNotFound
		}
		return nil, dbError("get agency", err)
	}
	return a, nil
}

// GetBySlug retrieves an agency by slug
func (r *AgencyRepository) GetBySlug(ctx context.Context, slug string) (*agency.Agency, error) {
	a, err := scanAgency(r.db.pool.QueryRow(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, agency.ErrAgencyNotFound
		}
		return nil, dbError("get agency by slug", err)
	}
	return a, nil
}

// Update writes every mutable column of a
func (r *AgencyRepository) Update(ctx context.Context, a *agency.Agency) error {
	if !id.IsUUID(a.ID) {
		return agency.ErrAgencyNotFound
	}
	result, err := r.db.pool.Exec(ctx, `
		UPDATE agencies SET
			name = $2,
			slug = $3,
			email = $4,
			phone = $5,
			address = $6,
			status = $7,
			max_users = $8,
			subscription_tier = $9,
			updated_at = $10
		WHERE id = $1
	`, a.ID, a.Name, a.Slug, a.Email, a.Phone, a.Address, a.Status, a.MaxUsers, a.Tier, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "agencies_slug_key") {
			return agency.ErrSlugTaken
		}
		return dbError("update agency", err)
	}
	if result.RowsAffected() == 0 {
		return agency.ErrAgencyNotFound
	}
	return nil
}

// Delete removes an agency. With cascade, members are detached and demoted
// to viewers, their sessions are revoked, and the agency's invitations and
// properties are deleted first.
func (r *AgencyRepository) Delete(ctx context.Context, agencyID string, cascade bool) error {
	if !id.IsUUID(agencyID) {
		return agency.ErrAgencyNotFound
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if cascade {
			if _, err := tx.Exec(ctx, `
				DELETE FROM sessions
				WHERE user_id IN (SELECT id FROM profiles WHERE agency_id = $1)
			`, agencyID); err != nil {
				return dbError("revoke member sessions", err)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE profiles SET agency_id = NULL, role = $2, updated_at = now()
				WHERE agency_id = $1
			`, agencyID, authz.RoleViewer); err != nil {
				return dbError("detach members", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM agency_invitations WHERE agency_id = $1`, agencyID); err != nil {
				return dbError("delete invitations", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM properties WHERE agency_id = $1`, agencyID); err != nil {
				return dbError("delete properties", err)
			}
		}

		result, err := tx.Exec(ctx, `DELETE FROM agencies WHERE id = $1`, agencyID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return agency.ErrAgencyInUse
			}
			return dbError("delete agency", err)
		}
		if result.RowsAffected() == 0 {
			return agency.ErrAgencyNotFound
		}
		return nil
	})
}

// List returns agencies ordered by name
func (r *AgencyRepository) List(ctx context.Context, limit, offset int) ([]*agency.Agency, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+agencyColumns+`
		FROM agencies
		ORDER BY name, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, dbError("list agencies", err)
	}
	defer rows.Close()

	agencies := []*agency.Agency{}
	for rows.Next() {
		a, err := scanAgency(rows)
		if err != nil {
			return nil, dbError("scan agency", err)
		}
		agencies = append(agencies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list agencies", err)
	}
	return agencies, nil
}

// Stats aggregates member, invitation and property counts. An empty
// agencyID covers every agency.
func (r *AgencyRepository) Stats(ctx context.Context, agencyID string, now time.Time) (*agency.Stats, error) {
	if agencyID != "" && !id.IsUUID(agencyID) {
		return nil, agency.ErrAgencyNotFound
	}
	// NULL matches every agency.
	var scope *string
	if agencyID != "" {
		scope = &agencyID
	}

	stats := &agency.Stats{AgencyID: agencyID, PropertiesByStatus: map[string]int{}}
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM agencies WHERE $1::uuid IS NULL OR id = $1),
			(SELECT count(*) FROM profiles WHERE agency_id IS NOT NULL AND ($1::uuid IS NULL OR agency_id = $1)),
			(SELECT count(*) FROM profiles WHERE active AND agency_id IS NOT NULL AND ($1::uuid IS NULL OR agency_id = $1)),
			(SELECT count(*) FROM agency_invitations
				WHERE used_at IS NULL AND expires_at > $2 AND ($1::uuid IS NULL OR agency_id = $1))
	`, scope, now).Scan(&stats.Agencies, &stats.Members, &stats.ActiveMembers, &stats.PendingInvitations)
	if err != nil {
		return nil, dbError("aggregate agency stats", err)
	}
	if agencyID != "" {
		if stats.Agencies == 0 {
			return nil, agency.ErrAgencyNotFound
		}
		stats.Agencies = 0
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT status, count(*)
		FROM properties
		WHERE $1::uuid IS NULL OR agency_id = $1
		GROUP BY status
	`, scope)
	if err != nil {
		return nil, dbError("aggregate property stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, dbError("scan property stats", err)
		}
		stats.PropertiesByStatus[status] = n
		stats.Properties += n
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("aggregate property stats", err)
	}
	return stats, nil
}
