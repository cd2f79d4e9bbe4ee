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

// @title AgencyDesk API
// @version 1.0.0
// @description Multi-tenant real-estate portfolio access control

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name agencydesk_session

package http

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/swaggo/swag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/agencydesk/agencydesk/docs"
)

// RouterConfig holds optional router settings
type RouterConfig struct {
	RequestTimeout time.Duration

	// UI is served at / when set.
	UI fs.FS
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if rateLimiter != nil {
		r.Use(RateLimitMiddleware(rateLimiter))
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", h.HealthCheck)
	r.Get("/swagger/doc.json", serveSwagger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.MetricsMiddleware)
		r.Use(CSRFMiddleware)
		r.Use(h.AuthMiddleware)

		// Public
		r.Post("/auth/signup", h.Signup)
		r.Post("/auth/login", h.Login)
		r.Get("/invitations/{token}", h.ResolveInvitation)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth)

			r.Post("/auth/logout", h.Logout)
			r.Get("/auth/me", h.GetCurrentUser)
			r.Patch("/auth/me", h.UpdateProfile)
			r.Post("/auth/change-password", h.ChangePassword)

			r.Post("/invitations/{token}/accept", h.AcceptInvitation)

			r.Route("/properties", func(r chi.Router) {
				r.Get("/", h.ListProperties)
				r.Post("/", h.CreateProperty)
				r.Get("/export", h.ExportProperties)
				r.Route("/{propertyID}", func(r chi.Router) {
					r.Get("/", h.GetProperty)
					r.Put("/", h.UpdateProperty)
					r.Delete("/", h.DeleteProperty)
				})
			})

			r.Route("/members", func(r chi.Router) {
				r.Get("/", h.ListMembers)
				r.Post("/", h.CreateMember)
				r.Route("/{userID}", func(r chi.Router) {
					r.Get("/", h.GetMember)
					r.Patch("/", h.UpdateMember)
					r.Delete("/", h.DeleteMember)
					r.Post("/promote", h.PromoteMember)
				})
			})

			r.Route("/agencies", func(r chi.Router) {
				r.Get("/", h.ListAgencies)
				r.Post("/", h.CreateAgency)
				r.Route("/{agencyID}", func(r chi.Router) {
					r.Get("/", h.GetAgency)
					r.Patch("/", h.UpdateAgency)
					r.Delete("/", h.DeleteAgency)
					r.Post("/suspend", h.SuspendAgency)
					r.Post("/activate", h.ActivateAgency)
					r.Get("/stats", h.AgencyStats)

					r.Route("/invitations", func(r chi.Router) {
						r.Get("/", h.ListInvitations)
						r.Post("/", h.IssueInvitation)
						r.Delete("/{invitationID}", h.CancelInvitation)
						r.Post("/{invitationID}/regenerate", h.RegenerateInvitation)
					})
				})
			})

			r.Get("/stats", h.SystemStats)
		})
	})

	if cfg.UI != nil {
		r.Handle("/*", SPAHandler{StaticFS: cfg.UI})
	}

	return r
}

func serveSwagger(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(doc))
}

func getIPAddress(r *http.Request) string {
	return getClientIP(r)
}
