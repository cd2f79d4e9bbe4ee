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
	"log/slog"
	"net/http"
	"strings"

	"github.com/agencydesk/agencydesk/internal/agency"
	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/invitation"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
)

// SignupRequest represents signup data
type SignupRequest struct {
	Email       string `json:"email" example:"agent@example.com"`
	Password    string `json:"password" example:"correct horse battery"`
	DisplayName string `json:"display_name" example:"Jane Agent"`

	// InviteToken redeems an invitation as part of signup.
	InviteToken string `json:"invite_token,omitempty"`
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" example:"agent@example.com"`
	Password string `json:"password" example:"correct horse battery"`
}

// UpdateProfileRequest holds self-service profile changes
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" example:"Jane Agent"`
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// SessionResponse describes the signed-in caller
type SessionResponse struct {
	User         *identity.Profile   `json:"user"`
	Capabilities authz.CapabilitySet `json:"capabilities"`
	Agency       *agency.Agency      `json:"agency,omitempty"`

	// InvitationError is set when signup succeeded but the invitation could
	// not be redeemed.
	InvitationError *ErrorResponse `json:"invitation_error,omitempty"`
}

// Signup handles account creation
// @Summary Sign up
// @Description Create an account and sign in. With invite_token the new account joins the inviting agency.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body SignupRequest true "Signup data"
// @Success 201 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /auth/signup [post]
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	token := strings.TrimSpace(req.InviteToken)

	// Reject a bad invitation before an account exists.
	if token != "" {
		if _, err := h.invitationService.Check(r.Context(), token, req.Email); err != nil {
			respondError(w, r, err)
			return
		}
	}

	profile, err := h.identityService.Signup(r.Context(), identity.SignupInput{
		Email:          req.Email,
		Password:       req.Password,
		DisplayName:    req.DisplayName,
		AllowBootstrap: token == "",
		IPAddress:      getIPAddress(r),
		UserAgent:      r.UserAgent(),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	var inviteErr *ErrorResponse
	if token != "" {
		redeemed, err := h.invitationService.Redeem(r.Context(), token, invitation.Invitee{
			UserID:      profile.ID,
			Email:       profile.Email,
			DisplayName: profile.DisplayName,
		})
		if err != nil {
			slog.WarnContext(r.Context(), "invitation redemption after signup failed",
				logger.UserID(profile.ID),
				logger.ErrorKind(string(apperr.KindOf(err))),
				logger.Error(err),
			)
			inviteErr = &ErrorResponse{
				Error:  apperr.UserMessage(err),
				Code:   apperr.KindOf(err),
				Fields: apperr.FieldsOf(err),
			}
		} else {
			profile = redeemed
		}
	}

	if err := h.startSession(w, r, profile.ID); err != nil {
		respondError(w, r, err)
		return
	}

	resp := h.sessionResponse(r, profile)
	resp.InvitationError = inviteErr
	respondJSON(w, http.StatusCreated, resp)
}

// Login handles user login
// @Summary Login
// @Description Authenticate with email and password and create a session
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	profile, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.Login(r.Context(), string(apperr.KindOf(err)))
		respondError(w, r, err)
		return
	}
	h.metrics.Login(r.Context(), "ok")

	if err := h.startSession(w, r, profile.ID); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.sessionResponse(r, profile))
}

// Logout handles user logout
// @Summary Logout
// @Description Destroy the current session
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess := GetSession(r.Context()); sess != nil {
		if err := h.sessionService.Destroy(r.Context(), sess); err != nil {
			slog.WarnContext(r.Context(), "failed to destroy session", logger.SessionID(sess.ID), logger.Error(err))
		}
		p := GetPrincipal(r.Context())
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLogout,
			AgencyID:  p.Agency(),
			ActorID:   sess.UserID,
			Resource:  audit.ResourceSession,
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
		})
	}

	h.clearSessionCookie(w)
	respondJSON(w, http.StatusOK, MessageResponse{Message: "logged out successfully"})
}

// GetCurrentUser returns the signed-in caller
// @Summary Current user
// @Description Profile, capability set and agency of the signed-in caller
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	profile, err := h.identityService.GetProfile(r.Context(), GetUserID(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.sessionResponse(r, profile))
}

// UpdateProfile changes the caller's display name
// @Summary Update profile
// @Description Change the caller's display name. Role, agency and status cannot be changed here.
// @Tags Auth
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body UpdateProfileRequest true "Profile changes"
// @Success 200 {object} identity.Profile
// @Failure 400 {object} ErrorResponse
// @Router /auth/me [patch]
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	profile, err := h.identityService.UpdateDisplayName(r.Context(), GetUserID(r.Context()), req.DisplayName)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// ChangePassword changes the user password
// @Summary Change Password
// @Description Update the password for the current user
// @Tags Auth
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body ChangePasswordRequest true "Password Change Data"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/change-password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.identityService.ChangePassword(r.Context(), GetUserID(r.Context()), req.OldPassword, req.NewPassword); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "password changed successfully"})
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, userID string) error {
	sess, token, err := h.sessionService.Create(r.Context(), userID, getIPAddress(r), r.UserAgent())
	if err != nil {
		return err
	}
	h.setSessionCookie(w, token, sess.ExpiresAt)
	return nil
}

// sessionResponse derives capabilities from profile. A missing agency is
// logged and omitted.
func (h *Handler) sessionResponse(r *http.Request, profile *identity.Profile) SessionResponse {
	p := profile.Principal()
	resp := SessionResponse{
		User:         profile,
		Capabilities: authz.Derive(p),
	}
	if agencyID := p.Agency(); agencyID != "" {
		a, err := h.agencyService.GetAgency(r.Context(), p, agencyID)
		if err != nil {
			slog.WarnContext(r.Context(), "failed to load caller agency", logger.AgencyID(agencyID), logger.Error(err))
		} else {
			resp.Agency = a
		}
	}
	return resp
}
