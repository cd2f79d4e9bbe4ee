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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/identity"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
)

// Tenant context is derived only from the session. Requests never name the
// caller's agency through headers, query parameters or bodies.

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				attrs := []any{
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				}
				if userID := GetUserID(r.Context()); userID != "" {
					attrs = append(attrs, logger.UserID(userID))
				}
				slog.InfoContext(r.Context(), "http_request", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// MetricsMiddleware records request counts and latency by route pattern.
func (h *Handler) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.HTTPRequest(r.Context(), route, status, float64(time.Since(start).Microseconds())/1000)
	})
}

// AuthMiddleware resolves the session cookie to a principal. Requests without
// a cookie pass through anonymously; an invalid cookie is cleared.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.getSessionFromCookie(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := h.sessionService.Resolve(r.Context(), token)
		if err != nil {
			if apperr.Is(err, apperr.KindUnauthenticated) {
				h.clearSessionCookie(w)
				next.ServeHTTP(w, r)
				return
			}
			respondError(w, r, err)
			return
		}

		p, err := h.sessionService.Principal(r.Context(), sess.UserID)
		if err != nil {
			if errors.Is(err, identity.ErrProfileNotFound) || apperr.Is(err, apperr.KindNotFound) {
				h.clearSessionCookie(w)
				next.ServeHTTP(w, r)
				return
			}
			respondError(w, r, err)
			return
		}
		if !p.Active {
			slog.InfoContext(r.Context(), "session of inactive user rejected", logger.UserID(p.ID))
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), sess, p)))
	})
}

// RequireAuth rejects anonymous requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r.Context()) == nil {
			respondError(w, r, apperr.New(apperr.KindUnauthenticated, "no session"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CSRFMiddleware requires the X-CSRF-Token header on state-changing requests.
// Browsers cannot attach custom headers cross-origin without a preflight.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("X-CSRF-Token") == "" {
			slog.WarnContext(r.Context(), "missing CSRF token header", logger.Method(r.Method), logger.Path(r.URL.Path))
			respondError(w, r, apperr.New(apperr.KindPermissionDenied, "missing csrf header").
				WithUserMessage("X-CSRF-Token header is required for state-changing operations."))
			return
		}

		next.ServeHTTP(w, r)
	})
}
