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
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/agencydesk/agencydesk/internal/gateway"
	"github.com/agencydesk/agencydesk/internal/id"
	"github.com/agencydesk/agencydesk/internal/identity"
)

// MemberRepository implements gateway.MemberRepository over profiles.
type MemberRepository struct {
	db *DB
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(db *DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// List returns profiles matching f ordered by display name
func (r *MemberRepository) List(ctx context.Context, f gateway.MemberFilter) ([]*identity.Profile, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.AgencyID != "" {
		if !id.IsUUID(f.AgencyID) {
			return []*identity.Profile{}, nil
		}
		add("agency_id = $%d", f.AgencyID)
	}
	if f.Role != "" {
		add("role = $%d", f.Role)
	}
	if f.Active != nil {
		add("active = $%d", *f.Active)
	}
	if f.Search != "" {
		add("(email ILIKE $%[1]d OR display_name ILIKE $%[1]d)", "%"+likeEscaper.Replace(f.Search)+"%")
	}

	query := `SELECT ` + profileColumns + ` FROM profiles`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY lower(display_name), id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	members := []*identity.Profile{}
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return dbError("list members", err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return dbError("scan member", err)
			}
			members = append(members, p)
		}
		if err := rows.Err(); err != nil {
			return dbError("list members", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// Get retrieves a member profile
func (r *MemberRepository) Get(ctx context.Context, userID string) (*identity.Profile, error) {
	if !id.IsUUID(userID) {
		return nil, identity.ErrProfileNotFound
	}
	var p *identity.Profile
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return identity.ErrProfileNotFound
			}
			return dbError("get member", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update writes display name, role and active flag
func (r *MemberRepository) Update(ctx context.Context, p *identity.Profile) error {
	if !id.IsUUID(p.ID) {
		return identity.ErrProfileNotFound
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE profiles SET display_name = $2, role = $3, active = $4, updated_at = $5
			WHERE id = $1
		`, p.ID, p.DisplayName, p.Role, p.Active, p.UpdatedAt)
		if err != nil {
			return dbError("update member", err)
		}
		if result.RowsAffected() == 0 {
			return identity.ErrProfileNotFound
		}
		return nil
	})
}

// Delete removes the identity. Credentials, profile and sessions cascade.
func (r *MemberRepository) Delete(ctx context.Context, userID string) error {
	if !id.IsUUID(userID) {
		return identity.ErrProfileNotFound
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		// The profile check goes through row-level security.
		result, err := tx.Exec(ctx, `
			DELETE FROM identities
			WHERE id = $1 AND EXISTS (SELECT 1 FROM profiles WHERE id = $1)
		`, userID)
		if err != nil {
			return dbError("delete member", err)
		}
		if result.RowsAffected() == 0 {
			return identity.ErrProfileNotFound
		}
		return nil
	})
}
