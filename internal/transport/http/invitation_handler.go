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

package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/invitation"
)

// IssueInvitationRequest represents an invitation to create
type IssueInvitationRequest struct {
	Email string     `json:"email" example:"new.agent@example.com"`
	Role  authz.Role `json:"role" example:"agent"`
}

// InvitationResponse is an invitation as seen by agency admins
type InvitationResponse struct {
	*invitation.Invitation
	State invitation.State `json:"state"`

	// InviteURL is only returned when the token is freshly minted.
	InviteURL string `json:"invite_url,omitempty"`
}

// ResolvedInvitationResponse is the public view of a token
type ResolvedInvitationResponse struct {
	AgencyName string           `json:"agency_name"`
	Email      string           `json:"email"`
	Role       authz.Role       `json:"role"`
	ExpiresAt  time.Time        `json:"expires_at"`
	State      invitation.State `json:"state"`
}

func (h *Handler) invitationResponse(inv *invitation.Invitation, withURL bool) InvitationResponse {
	resp := InvitationResponse{Invitation: inv, State: inv.State(h.now())}
	if withURL {
		resp.InviteURL = h.invitationService.RedemptionURL(inv.Token)
	}
	return resp
}

// IssueInvitation creates an invitation
// @Summary Issue invitation
// @Description Invite an email address to join the agency with a role
// @Tags Invitations
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Param request body IssueInvitationRequest true "Invitation"
// @Success 201 {object} InvitationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agencies/{agencyID}/invitations [post]
func (h *Handler) IssueInvitation(w http.ResponseWriter, r *http.Request) {
	var req IssueInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	inv, err := h.invitationService.Issue(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"), req.Email, req.Role)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.invitationResponse(inv, true))
}

// ListInvitations lists an agency's invitations
// @Summary List invitations
// @Tags Invitations
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Success 200 {array} InvitationResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agencies/{agencyID}/invitations [get]
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	list, err := h.invitationService.List(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]InvitationResponse, 0, len(list))
	for _, inv := range list {
		out = append(out, h.invitationResponse(inv, false))
	}
	respondJSON(w, http.StatusOK, out)
}

// CancelInvitation deletes a pending invitation
// @Summary Cancel invitation
// @Tags Invitations
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Param invitationID path string true "Invitation ID"
// @Success 200 {object} MessageResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /agencies/{agencyID}/invitations/{invitationID} [delete]
func (h *Handler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	if err := h.invitationService.Cancel(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"), chi.URLParam(r, "invitationID")); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "invitation cancelled"})
}

// RegenerateInvitation replaces the token and expiry of an invitation
// @Summary Regenerate invitation
// @Tags Invitations
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Param invitationID path string true "Invitation ID"
// @Success 200 {object} InvitationResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /agencies/{agencyID}/invitations/{invitationID}/regenerate [post]
func (h *Handler) RegenerateInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invitationService.Regenerate(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"), chi.URLParam(r, "invitationID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.invitationResponse(inv, true))
}

// ResolveInvitation shows who a token invites and where
// @Summary Resolve invitation token
// @Description Public lookup used by the signup page. Used and expired tokens are rejected with distinct codes.
// @Tags Invitations
// @Produce json
// @Param token path string true "Invitation token"
// @Success 200 {object} ResolvedInvitationResponse
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /invitations/{token} [get]
func (h *Handler) ResolveInvitation(w http.ResponseWriter, r *http.Request) {
	res, err := h.invitationService.ResolveToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	now := h.now()
	if err := invitation.Validate(&res.Invitation, now); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ResolvedInvitationResponse{
		AgencyName: res.AgencyName,
		Email:      res.Email,
		Role:       res.Role,
		ExpiresAt:  res.ExpiresAt,
		State:      res.State(now),
	})
}

// AcceptInvitation redeems a token for the signed-in caller
// @Summary Accept invitation
// @Description Join the inviting agency with an existing account
// @Tags Invitations
// @Produce json
// @Security CookieAuth
// @Param token path string true "Invitation token"
// @Success 200 {object} SessionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /invitations/{token}/accept [post]
func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	caller, err := h.identityService.GetProfile(r.Context(), GetUserID(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if caller.Principal().IsSuperAdmin() {
		respondError(w, r, apperr.New(apperr.KindConflict, "super admin cannot join an agency").
			WithUserMessage("Super admins cannot join an agency."))
		return
	}

	profile, err := h.invitationService.Redeem(r.Context(), chi.URLParam(r, "token"), invitation.Invitee{
		UserID:      caller.ID,
		Email:       caller.Email,
		DisplayName: caller.DisplayName,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.sessionResponse(r, profile))
}
