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
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/gateway"
)

func parseMemberFilter(q url.Values) (gateway.MemberFilter, error) {
	fields := map[string]string{}
	f := gateway.MemberFilter{
		AgencyID: strings.TrimSpace(q.Get("agency_id")),
		Search:   strings.TrimSpace(q.Get("q")),
	}
	if v := q.Get("role"); v != "" {
		role, ok := authz.ParseRole(v)
		if !ok {
			fields["role"] = "Unknown role."
		}
		f.Role = role
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			fields["active"] = "Must be true or false."
		} else {
			f.Active = &active
		}
	}
	f.Limit, f.Offset = parsePaging(q, fields)
	if len(fields) > 0 {
		return f, apperr.Validation(fields)
	}
	return f, nil
}

// ListMembers lists users visible to the caller
// @Summary List members
// @Tags Members
// @Produce json
// @Security CookieAuth
// @Param role query string false "Role"
// @Param active query bool false "Active flag"
// @Param q query string false "Email or name search"
// @Success 200 {array} identity.Profile
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /members [get]
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	f, err := parseMemberFilter(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}
	members, err := h.gateway.ListMembers(r.Context(), GetPrincipal(r.Context()), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, members)
}

// GetMember returns one member
// @Summary Get member
// @Tags Members
// @Produce json
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Success 200 {object} identity.Profile
// @Failure 404 {object} ErrorResponse
// @Router /members/{userID} [get]
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.gateway.GetMember(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// CreateMember provisions an account inside an agency
// @Summary Create member
// @Tags Members
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body gateway.MemberInput true "Member"
// @Success 201 {object} identity.Profile
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /members [post]
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var in gateway.MemberInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	m, err := h.gateway.CreateMember(r.Context(), GetPrincipal(r.Context()), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// UpdateMember changes display name, role or active flag
// @Summary Update member
// @Description The member's agency cannot be changed; agency_id in the body is ignored.
// @Tags Members
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Param request body gateway.MemberUpdate true "Changes"
// @Success 200 {object} identity.Profile
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /members/{userID} [patch]
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	var in gateway.MemberUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	m, err := h.gateway.UpdateMember(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "userID"), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMember removes a member and their account
// @Summary Delete member
// @Tags Members
// @Produce json
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Success 200 {object} MessageResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /members/{userID} [delete]
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.DeleteMember(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "userID")); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "member deleted"})
}

// PromoteMember makes a user a super admin
// @Summary Promote to super admin
// @Description Super admins only. The user leaves their agency.
// @Tags Members
// @Produce json
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Success 200 {object} identity.Profile
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /members/{userID}/promote [post]
func (h *Handler) PromoteMember(w http.ResponseWriter, r *http.Request) {
	p, err := h.identityService.PromoteToSuperAdmin(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
