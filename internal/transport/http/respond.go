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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error  string            `json:"error" example:"The requested resource was not found."`
	Code   apperr.Kind       `json:"code" example:"not_found"`
	Fields map[string]string `json:"fields,omitempty"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindPermissionDenied: http.StatusForbidden,
	apperr.KindNotFound:         http.StatusNotFound,
	apperr.KindAlreadyUsed:      http.StatusGone,
	apperr.KindExpired:          http.StatusGone,
	apperr.KindEmailMismatch:    http.StatusForbidden,
	apperr.KindValidation:       http.StatusBadRequest,
	apperr.KindConflict:         http.StatusConflict,
	apperr.KindUnavailable:      http.StatusServiceUnavailable,
	apperr.KindUnauthenticated:  http.StatusUnauthorized,
	apperr.KindInternal:         http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind apperr.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes err as an ErrorResponse. Only the user message of a
// classified error leaves the process; causes are logged.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.ErrorKind(string(kind)),
			logger.Error(err),
		)
	} else {
		slog.DebugContext(r.Context(), "request rejected",
			logger.Path(r.URL.Path),
			logger.ErrorKind(string(kind)),
			logger.Error(err),
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}

	respondJSON(w, status, ErrorResponse{
		Error:  apperr.UserMessage(err),
		Code:   kind,
		Fields: apperr.FieldsOf(err),
	})
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are ignored
// so clients may send agency references that handlers then drop.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.New(apperr.KindValidation, "empty request body").
				WithUserMessage("Request body is required.")
		case errors.As(err, &maxErr):
			return apperr.New(apperr.KindValidation, "request body too large").
				WithUserMessage("Request body is too large.")
		default:
			return apperr.Wrap(apperr.KindValidation, "decode request body", err).
				WithUserMessage("Request body is not valid JSON.")
		}
	}
	return nil
}
