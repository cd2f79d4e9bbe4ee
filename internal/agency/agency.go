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

// Package agency manages agencies, the tenants of the system.
package agency

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAgencyNotFound = errors.New("agency not found")
	ErrSlugTaken      = errors.New("agency slug already exists")
	ErrAgencyInUse    = errors.New("agency still has members or properties")
)

// Status of an agency
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended || s == StatusInactive
}

// Tier is the subscription tier of an agency.
type Tier string

const (
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierBasic || t == TierProfessional || t == TierEnterprise
}

// DefaultMaxUsers is the seat limit of a new agency.
const DefaultMaxUsers = 5

// Agency is a real-estate agency (tenant).
type Agency struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Status    Status    `json:"status"`
	MaxUsers  int       `json:"max_users"`
	Tier      Tier      `json:"subscription_tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the agency accepts new members.
func (a *Agency) IsActive() bool {
	return a.Status == StatusActive
}

// Stats summarizes one agency, or the whole system when AgencyID is empty.
type Stats struct {
	AgencyID           string         `json:"agency_id,omitempty"`
	Agencies           int            `json:"agencies,omitempty"`
	Members            int            `json:"members"`
	ActiveMembers      int            `json:"active_members"`
	PendingInvitations int            `json:"pending_invitations"`
	Properties         int            `json:"properties"`
	PropertiesByStatus map[string]int `json:"properties_by_status"`
}

// Repository defines the interface for agency storage
type Repository interface {
	Create(ctx context.Context, a *Agency) error
	GetByID(ctx context.Context, id string) (*Agency, error)
	GetBySlug(ctx context.Context, slug string) (*Agency, error)
	Update(ctx context.Context, a *Agency) error

	// Delete removes an agency. Without cascade it fails with ErrAgencyInUse
	// while profiles, properties or invitations reference it; with cascade
	// those rows are removed in the same transaction.
	Delete(ctx context.Context, id string, cascade bool) error

	List(ctx context.Context, limit, offset int) ([]*Agency, error)

	// Stats aggregates counts for agencyID, or system-wide for "".
	Stats(ctx context.Context, agencyID string, now time.Time) (*Stats, error)
}
