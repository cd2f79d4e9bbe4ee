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

	"github.com/agencydesk/agencydesk/internal/id"
	"github.com/agencydesk/agencydesk/internal/property"
)

const propertyColumns = `id, agency_id, address, city, price, listing_type, property_type,
	bedrooms, bathrooms, area_sqft, status, agent_name, agent_contact, owner_name,
	owner_contact, comments, created_by, updated_by, created_at, updated_at`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PropertyRepository implements property.Repository. Every statement runs
// inside InTx so row-level security sees the caller's scope.
type PropertyRepository struct {
	db *DB
}

// NewPropertyRepository creates a new property repository
func NewPropertyRepository(db *DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

func scanProperty(row pgx.Row) (*property.Property, error) {
	var p property.Property
	err := row.Scan(
		&p.ID, &p.AgencyID, &p.Address, &p.City, &p.Price, &p.ListingType, &p.PropertyType,
		&p.Bedrooms, &p.Bathrooms, &p.AreaSqft, &p.Status, &p.AgentName, &p.AgentContact,
		&p.OwnerName, &p.OwnerContact, &p.Comments, &p.CreatedBy, &p.UpdatedBy,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns properties matching f, newest first
func (r *PropertyRepository) List(ctx context.Context, f property.Filter) ([]*property.Property, error) {
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
			return []*property.Property{}, nil
		}
		add("agency_id = $%d", f.AgencyID)
	}
	if f.City != "" {
		add("lower(city) = lower($%d)", f.City)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ListingType != "" {
		add("listing_type = $%d", f.ListingType)
	}
	if f.PropertyType != "" {
		add("property_type = $%d", f.PropertyType)
	}
	if f.MinPrice != nil {
		add("price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $%d", *f.MaxPrice)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add(`(address ILIKE $%[1]d OR city ILIKE $%[1]d OR agent_name ILIKE $%[1]d
			OR owner_name ILIKE $%[1]d OR comments ILIKE $%[1]d)`, "%"+likeEscaper.Replace(s)+"%")
	}

	query := `SELECT ` + propertyColumns + ` FROM properties`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	props := []*property.Property{}
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return dbError("list properties", err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProperty(rows)
			if err != nil {
				return dbError("scan property", err)
			}
			props = append(props, p)
		}
		if err := rows.Err(); err != nil {
			return dbError("list properties", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}

// Get retrieves a property by ID
func (r *PropertyRepository) Get(ctx context.Context, propertyID string) (*property.Property, error) {
	if !id.IsUUID(propertyID) {
		return nil, property.ErrPropertyNotFound
	}
	var p *property.Property
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = scanProperty(tx.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, propertyID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return property.ErrPropertyNotFound
			}
			return dbError("get property", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create stores a new property
func (r *PropertyRepository) Create(ctx context.Context, p *property.Property) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO properties (`+propertyColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`,
			p.ID, p.AgencyID, p.Address, p.City, p.Price, p.ListingType, p.PropertyType,
			p.Bedrooms, p.Bathrooms, p.AreaSqft, p.Status, p.AgentName, p.AgentContact,
			p.OwnerName, p.OwnerContact, p.Comments, p.CreatedBy, p.UpdatedBy,
			p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return dbError("insert property", err)
		}
		return nil
	})
}

// Update writes the editable fields. agency_id and created_* are not touched.
func (r *PropertyRepository) Update(ctx context.Context, p *property.Property) error {
	if !id.IsUUID(p.ID) {
		return property.ErrPropertyNotFound
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE properties SET
				address = $2,
				city = $3,
				price = $4,
				listing_type = $5,
				property_type = $6,
				bedrooms = $7,
				bathrooms = $8,
				area_sqft = $9,
				status = $10,
				agent_name = $11,
				agent_contact = $12,
				owner_name = $13,
				owner_contact = $14,
				comments = $15,
				updated_by = $16,
				updated_at = $17
			WHERE id = $1
		`,
			p.ID, p.Address, p.City, p.Price, p.ListingType, p.PropertyType,
			p.Bedrooms, p.Bathrooms, p.AreaSqft, p.Status, p.AgentName, p.AgentContact,
			p.OwnerName, p.OwnerContact, p.Comments, p.UpdatedBy, p.UpdatedAt,
		)
		if err != nil {
			return dbError("update property", err)
		}
		if result.RowsAffected() == 0 {
			return property.ErrPropertyNotFound
		}
		return nil
	})
}

// Delete removes a property
func (r *PropertyRepository) Delete(ctx context.Context, propertyID string) error {
	if !id.IsUUID(propertyID) {
		return property.ErrPropertyNotFound
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM properties WHERE id = $1`, propertyID)
		if err != nil {
			return dbError("delete property", err)
		}
		if result.RowsAffected() == 0 {
			return property.ErrPropertyNotFound
		}
		return nil
	})
}
