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
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/property"
)

// parsePaging reads limit and offset. Missing values are left at zero.
func parsePaging(q url.Values, fields map[string]string) (limit, offset int) {
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields["limit"] = "Must be a non-negative integer."
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields["offset"] = "Must be a non-negative integer."
		}
		offset = n
	}
	return limit, offset
}

func parsePrice(q url.Values, key string, fields map[string]string) *decimal.Decimal {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		fields[key] = "Must be a non-negative number."
		return nil
	}
	return &d
}

// parsePropertyFilter maps query parameters to a filter. agency_id is only
// honoured by the gateway for super admins.
func parsePropertyFilter(q url.Values) (property.Filter, error) {
	fields := map[string]string{}
	f := property.Filter{
		AgencyID:     strings.TrimSpace(q.Get("agency_id")),
		City:         strings.TrimSpace(q.Get("city")),
		Status:       property.Status(q.Get("status")),
		ListingType:  property.ListingType(q.Get("listing_type")),
		PropertyType: property.Type(q.Get("property_type")),
		Search:       strings.TrimSpace(q.Get("q")),
		MinPrice:     parsePrice(q, "min_price", fields),
		MaxPrice:     parsePrice(q, "max_price", fields),
	}
	f.Limit, f.Offset = parsePaging(q, fields)

	if f.Status != "" && !f.Status.Valid() {
		fields["status"] = "Unknown status."
	}
	if f.ListingType != "" && !f.ListingType.Valid() {
		fields["listing_type"] = "Must be Sale or Rent."
	}
	if f.PropertyType != "" && !f.PropertyType.Valid() {
		fields["property_type"] = "Unknown property type."
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		fields["min_price"] = "Must not exceed max_price."
	}
	if len(fields) > 0 {
		return f, apperr.Validation(fields)
	}
	return f, nil
}

// ListProperties lists properties visible to the caller
// @Summary List properties
// @Tags Properties
// @Produce json
// @Security CookieAuth
// @Param city query string false "City (case-insensitive)"
// @Param status query string false "Status"
// @Param listing_type query string false "Sale or Rent"
// @Param property_type query string false "Property type"
// @Param min_price query number false "Minimum price"
// @Param max_price query number false "Maximum price"
// @Param q query string false "Free-text search"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} property.Property
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /properties [get]
func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	f, err := parsePropertyFilter(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}
	props, err := h.gateway.ListProperties(r.Context(), GetPrincipal(r.Context()), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, props)
}

// ExportProperties downloads matching properties as CSV
// @Summary Export properties
// @Tags Properties
// @Produce text/csv
// @Security CookieAuth
// @Success 200 {string} string "CSV file"
// @Failure 403 {object} ErrorResponse
// @Router /properties/export [get]
func (h *Handler) ExportProperties(w http.ResponseWriter, r *http.Request) {
	f, err := parsePropertyFilter(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}
	props, err := h.gateway.ExportProperties(r.Context(), GetPrincipal(r.Context()), f)
	if err != nil {
		respondError(w, r, err)
		return
	}

	// Buffer so a write failure still yields a JSON error.
	var buf bytes.Buffer
	if err := property.WriteCSV(&buf, props); err != nil {
		respondError(w, r, apperr.Wrap(apperr.KindInternal, "write csv", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", property.ExportFilename(h.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// GetProperty returns one property
// @Summary Get property
// @Tags Properties
// @Produce json
// @Security CookieAuth
// @Param propertyID path string true "Property ID"
// @Success 200 {object} property.Property
// @Failure 404 {object} ErrorResponse
// @Router /properties/{propertyID} [get]
func (h *Handler) GetProperty(w http.ResponseWriter, r *http.Request) {
	p, err := h.gateway.GetProperty(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "propertyID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// CreateProperty stores a property in the caller's agency
// @Summary Create property
// @Tags Properties
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body property.Input true "Property"
// @Success 201 {object} property.Property
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /properties [post]
func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var in property.Input
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	p, err := h.gateway.CreateProperty(r.Context(), GetPrincipal(r.Context()), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// UpdateProperty replaces the editable fields of a property
// @Summary Update property
// @Description The owning agency cannot be changed; agency_id in the body is ignored.
// @Tags Properties
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param propertyID path string true "Property ID"
// @Param request body property.Input true "Property"
// @Success 200 {object} property.Property
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /properties/{propertyID} [put]
func (h *Handler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	var in property.Input
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	in.AgencyID = ""
	p, err := h.gateway.UpdateProperty(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "propertyID"), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// DeleteProperty removes a property
// @Summary Delete property
// @Tags Properties
// @Produce json
// @Security CookieAuth
// @Param propertyID path string true "Property ID"
// @Success 200 {object} MessageResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /properties/{propertyID} [delete]
func (h *Handler) DeleteProperty(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.DeleteProperty(r.Context(), GetPrincipal(r.Context()), chi.URLParam(r, "propertyID")); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "property deleted"})
}
