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

// Package property holds the listing model, its validation and CSV export.
package property

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agencydesk/agencydesk/internal/apperr"
)

var ErrPropertyNotFound = errors.New("property not found")

// ListingType is Sale or Rent
type ListingType string

const (
	ListingSale ListingType = "Sale"
	ListingRent ListingType = "Rent"
)

// Type is the kind of building or lot
type Type string

const (
	TypeHouse      Type = "House"
	TypeApartment  Type = "Apartment"
	TypeCondo      Type = "Condo"
	TypeTownhouse  Type = "Townhouse"
	TypeLand       Type = "Land"
	TypeCommercial Type = "Commercial"
)

// Status of a listing
type Status string

const (
	StatusAvailable Status = "Available"
	StatusPending   Status = "Pending"
	StatusSold      Status = "Sold"
	StatusOffMarket Status = "Off Market"
)

var (
	listingTypes = map[ListingType]bool{ListingSale: true, ListingRent: true}
	types        = map[Type]bool{
		TypeHouse: true, TypeApartment: true, TypeCondo: true,
		TypeTownhouse: true, TypeLand: true, TypeCommercial: true,
	}
	statuses = map[Status]bool{
		StatusAvailable: true, StatusPending: true, StatusSold: true, StatusOffMarket: true,
	}
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool { return listingTypes[t] }

// Valid reports whether t is a known property type.
func (t Type) Valid() bool { return types[t] }

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return statuses[s] }

// Property is a listing owned by exactly one agency. AgencyID never changes
// after creation.
type Property struct {
	ID           string          `json:"id"`
	AgencyID     string          `json:"agency_id"`
	Address      string          `json:"address"`
	City         string          `json:"city"`
	Price        decimal.Decimal `json:"price"`
	ListingType  ListingType     `json:"listing_type"`
	PropertyType Type            `json:"property_type"`
	Bedrooms     int             `json:"bedrooms"`
	Bathrooms    decimal.Decimal `json:"bathrooms"`
	AreaSqft     int             `json:"area_sqft"`
	Status       Status          `json:"status"`
	AgentName    string          `json:"agent_name"`
	AgentContact string          `json:"agent_contact"`
	OwnerName    string          `json:"owner_name"`
	OwnerContact string          `json:"owner_contact"`
	Comments     string          `json:"comments"`
	CreatedBy    *string         `json:"created_by,omitempty"`
	UpdatedBy    *string         `json:"updated_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Input is the client payload for create and update. AgencyID is honoured
// only for super admins on create.
type Input struct {
	AgencyID     string          `json:"agency_id"`
	Address      string          `json:"address"`
	City         string          `json:"city"`
	Price        decimal.Decimal `json:"price"`
	ListingType  ListingType     `json:"listing_type"`
	PropertyType Type            `json:"property_type"`
	Bedrooms     int             `json:"bedrooms"`
	Bathrooms    decimal.Decimal `json:"bathrooms"`
	AreaSqft     int             `json:"area_sqft"`
	Status       Status          `json:"status"`
	AgentName    string          `json:"agent_name"`
	AgentContact string          `json:"agent_contact"`
	OwnerName    string          `json:"owner_name"`
	OwnerContact string          `json:"owner_contact"`
	Comments     string          `json:"comments"`
}

var halfStep = decimal.NewFromFloat(0.5)

// Normalize trims text fields and fills defaults.
func (in *Input) Normalize() {
	in.AgencyID = strings.TrimSpace(in.AgencyID)
	in.Address = strings.TrimSpace(in.Address)
	in.City = strings.TrimSpace(in.City)
	in.AgentName = strings.TrimSpace(in.AgentName)
	in.AgentContact = strings.TrimSpace(in.AgentContact)
	in.OwnerName = strings.TrimSpace(in.OwnerName)
	in.OwnerContact = strings.TrimSpace(in.OwnerContact)
	in.Comments = strings.TrimSpace(in.Comments)
	if in.Status == "" {
		in.Status = StatusAvailable
	}
}

// Validate checks field values and reports every invalid field at once.
func (in *Input) Validate() error {
	fields := map[string]string{}
	if in.Address == "" {
		fields["address"] = "Address is required."
	}
	if in.City == "" {
		fields["city"] = "City is required."
	}
	if in.Price.IsNegative() {
		fields["price"] = "Price cannot be negative."
	}
	if !listingTypes[in.ListingType] {
		fields["listing_type"] = "Listing type must be Sale or Rent."
	}
	if !types[in.PropertyType] {
		fields["property_type"] = "Unknown property type."
	}
	if !statuses[in.Status] {
		fields["status"] = "Unknown status."
	}
	if in.Bedrooms < 0 {
		fields["bedrooms"] = "Bedrooms cannot be negative."
	}
	if in.Bathrooms.IsNegative() || !in.Bathrooms.Mod(halfStep).IsZero() {
		fields["bathrooms"] = "Bathrooms must be a non-negative multiple of 0.5."
	}
	if in.AreaSqft < 0 {
		fields["area_sqft"] = "Area cannot be negative."
	}
	if err := apperr.Validation(fields); err != nil {
		return err
	}
	return nil
}

// Apply copies the editable fields of in onto p. AgencyID is left untouched.
func (p *Property) Apply(in Input) {
	p.Address = in.Address
	p.City = in.City
	p.Price = in.Price
	p.ListingType = in.ListingType
	p.PropertyType = in.PropertyType
	p.Bedrooms = in.Bedrooms
	p.Bathrooms = in.Bathrooms
	p.AreaSqft = in.AreaSqft
	p.Status = in.Status
	p.AgentName = in.AgentName
	p.AgentContact = in.AgentContact
	p.OwnerName = in.OwnerName
	p.OwnerContact = in.OwnerContact
	p.Comments = in.Comments
}

// Filter narrows a property listing. AgencyID is set by the gateway.
type Filter struct {
	AgencyID     string
	City         string
	Status       Status
	ListingType  ListingType
	PropertyType Type
	Search       string
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	Limit        int
	Offset       int
}

// DefaultLimit and MaxLimit bound list page sizes.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Clamp normalizes paging values.
func (f *Filter) Clamp() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Repository defines the interface for property storage
type Repository interface {
	// List returns properties matching f. An empty f.AgencyID lists every
	// agency; callers must scope it first.
	List(ctx context.Context, f Filter) ([]*Property, error)

	Get(ctx context.Context, id string) (*Property, error)
	Create(ctx context.Context, p *Property) error

	// Update writes the editable fields and audit columns. agency_id is never
	// written.
	Update(ctx context.Context, p *Property) error

	Delete(ctx context.Context, id string) error
}
