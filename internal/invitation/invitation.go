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

// Package invitation issues and redeems single-use agency invitations.
//
// An invitation is PENDING until it is redeemed (USED) or its expiry passes
// (EXPIRED). Both terminal states are final. Expiry is derived from
// expires_at and never stored; the validity interval is [created, expires_at).
package invitation

import (
	"context"
	"errors"
	"time"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/identity"
)

var (
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrDuplicatePending   = errors.New("pending invitation already exists for this email")

	// ErrNotRedeemable is returned by Repository.Redeem when the
	// compare-and-swap on used_at matched no row.
	ErrNotRedeemable = errors.New("invitation is no longer redeemable")

	// ErrAlreadyMember is returned by Repository.Redeem when the identity is
	// already bound to an agency or is a super admin.
	ErrAlreadyMember = errors.New("identity already belongs to an agency")
)

// DefaultTTL is how long an invitation stays redeemable.
const DefaultTTL = 7 * 24 * time.Hour

// State of an invitation
type State string

const (
	StatePending State = "PENDING"
	StateUsed    State = "USED"
	StateExpired State = "EXPIRED"
)

// Invitation is a pending membership grant.
type Invitation struct {
	ID        string     `json:"id"`
	AgencyID  string     `json:"agency_id"`
	Email     string     `json:"email"`
	Role      authz.Role `json:"role"`
	InvitedBy string     `json:"invited_by"`
	Token     string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsUsed reports whether the invitation has been redeemed.
func (i *Invitation) IsUsed() bool {
	return i.UsedAt != nil
}

// IsExpired reports whether an unused invitation is past its expiry at now.
func (i *Invitation) IsExpired(now time.Time) bool {
	return i.UsedAt == nil && !now.Before(i.ExpiresAt)
}

// State derives the lifecycle state at now.
func (i *Invitation) State(now time.Time) State {
	switch {
	case i.IsUsed():
		return StateUsed
	case i.IsExpired(now):
		return StateExpired
	default:
		return StatePending
	}
}

// Resolved is an invitation with the name of its agency, for display.
type Resolved struct {
	Invitation
	AgencyName string `json:"agency_name"`
}

// Invitee is the signed-in identity redeeming a token.
type Invitee struct {
	UserID      string
	Email       string
	DisplayName string
}

// Redemption is the input of Repository.Redeem.
type Redemption struct {
	Token       string
	UserID      string
	Email       string
	DisplayName string
	Now         time.Time
}

// Repository defines the interface for invitation storage
type Repository interface {
	// Create stores a new invitation, replacing an unused invitation for the
	// same agency and email that expired by inv.CreatedAt. It returns
	// ErrDuplicatePending when an unexpired one exists.
	Create(ctx context.Context, inv *Invitation) error

	// GetByToken looks an invitation up by token, with its agency name.
	GetByToken(ctx context.Context, token string) (*Resolved, error)

	GetByID(ctx context.Context, id string) (*Invitation, error)

	// Redeem atomically stamps used_at (only if unused and unexpired at
	// r.Now) and binds the identity's profile to the invitation's agency and
	// role, creating the profile if it does not exist.
	Redeem(ctx context.Context, r Redemption) (*identity.Profile, error)

	// DeletePending removes an unused invitation. It returns
	// ErrInvitationNotFound when no unused row matched.
	DeletePending(ctx context.Context, id string) error

	// ReplaceToken sets a new token and expiry on an unused invitation. It
	// returns ErrInvitationNotFound when no unused row matched.
	ReplaceToken(ctx context.Context, id, token string, expiresAt time.Time) error

	ListByAgency(ctx context.Context, agencyID string) ([]*Invitation, error)

	// SeatsInUse counts active members plus pending, unexpired invitations.
	SeatsInUse(ctx context.Context, agencyID string, now time.Time) (int, error)

	// PurgeExpired deletes unused invitations that expired before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Validate checks that inv can be redeemed at now. The checks run in a fixed
// order: not found, then used, then expired.
func Validate(inv *Invitation, now time.Time) error {
	switch {
	case inv == nil:
		return apperr.Wrap(apperr.KindNotFound, "validate invitation", ErrInvitationNotFound).
			WithUserMessage("This invitation link is not valid.")
	case inv.IsUsed():
		return apperr.New(apperr.KindAlreadyUsed, "invitation already used")
	case inv.IsExpired(now):
		return apperr.New(apperr.KindExpired, "invitation expired")
	}
	return nil
}
