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
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/apperr"
)

// ListAgencies lists agencies visible to the caller
// @Summary List agencies
// @Description Super admins see every agency; everyone else only their own.
// @Tags Agencies
// @Produce json
// @Security CookieAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} agency.Agency
// @Router /agencies [get]
func (h *Handler) ListAgencies(w http.ResponseWriter, r *http.Request) {
	fields := map[string]string{}
	limit, offset := parsePaging(r.URL.Query(), fields)
	if len(fields) > 0 {
		respondError(w, r, apperr.Validation(fields))
		return
	}
	list, err := h.agencyService.ListAgencies(r.Context(), GetPrincipal(r.Context()), limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// CreateAgency creates an agency
// @Summary Create agency
// @Tags Agencies
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body agency.CreateInput true "Agency"
// @Success 201 {object} agency.Agency
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agencies [post]
func (h *Handler) CreateAgency(w http.ResponseWriter, r *http.Request) {
	var in agency.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	a, err := h.agencyService.CreateAgency(r.Context(), GetPrincipal(r.Context()), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

// GetAgency returns one agency
// @Summary Get agency
// @Tags Agencies
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Success 200 {object} agency.Agency
// @Failure 404 {object} ErrorResponse
// @Router /agencies/{agencyID} [get]
func (h *Handler) GetAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.agencyService.GetAgency(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// UpdateAgency changes agency settings
// @Summary Update agency
// @Description Status, max_users and subscription_tier are reserved for super admins.
// @Tags Agencies
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Param request body agency.UpdateInput true "Changes"
// @Success 200 {object} agency.Agency
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agencies/{agencyID} [patch]
func (h *Handler) UpdateAgency(w http.ResponseWriter, r *http.Request) {
	var in agency.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	a, err := h.agencyService.UpdateAgency(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// DeleteAgency removes an agency
// @Summary Delete agency
// @Description Without cascade=true an agency that still has members or properties is not deleted.
// @Tags Agencies
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Param cascade query bool false "Delete properties and invitations and detach members"
// @Success 200 {object} MessageResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agencies/{agencyID} [delete]
func (h *Handler) DeleteAgency(w http.ResponseWriter, r *http.Request) {
	cascade := false
	if v := r.URL.Query().Get("cascade"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, apperr.Invalid("cascade", "Must be true or false."))
			return
		}
		cascade = b
	}
	if err := h.agencyService.DeleteAgency(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"), cascade); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "agency deleted"})
}

// SuspendAgency blocks new members of an agency
// @Summary Suspend agency
// @Tags Agencies
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Success 200 {object} agency.Agency
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agencies/{agencyID}/suspend [post]
func (h *Handler) SuspendAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.agencyService.Suspend(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ActivateAgency reactivates an agency
// @Summary Activate agency
// @Tags Agencies
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Success 200 {object} agency.Agency
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agencies/{agencyID}/activate [post]
func (h *Handler) ActivateAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.agencyService.Activate(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// AgencyStats returns member, invitation and property counts of an agency
// @Summary Agency statistics
// @Tags Agencies
// @Produce json
// @Security CookieAuth
// @Param agencyID path string true "Agency ID"
// @Success 200 {object} agency.Stats
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agencies/{agencyID}/stats [get]
func (h *Handler) AgencyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.agencyService.AgencyStats(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "agencyID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// SystemStats returns platform-wide counts
// @Summary System statistics
// @Tags System
// @Produce json
// @Security CookieAuth
// @Success 200 {object} agency.Stats
// @Failure 403 {object} ErrorResponse
// @Router /stats [get]
func (h *Handler) SystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.agencyService.SystemStats(r.Context(), GetPrincipal(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
