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

package gateway

import (
	"context"
	"errors"

	"github.com/agencydesk/agencydesk/internal/apperr"
	"github.com/agencydesk/agencydesk/internal/audit"
	"github.com/agencydesk/agencydesk/internal/authz"
	"github.com/agencydesk/agencydesk/internal/id"
	"github.com/agencydesk/agencydesk/internal/observability/logger"
	"github.com/agencydesk/agencydesk/internal/property"
)

// ListProperties returns the properties visible to caller. Non-super admins
// are silently limited to their own agency.
func (g *Gateway) ListProperties(ctx context.Context, caller *authz.Principal, f property.Filter) (_ []*property.Property, err error) {
	ctx, span := g.start(ctx, caller, KindProperty, "list")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapViewProperties) {
		return nil, g.deny(ctx, caller, KindProperty, "list", apperr.New(apperr.KindPermissionDenied, "list properties"))
	}
	agencyID, ok := listScope(caller, f.AgencyID)
	if !ok {
		return []*property.Property{}, nil
	}
	f.AgencyID = agencyID
	f.Clamp()

	props, err := g.properties.List(ctx, f)
	if err != nil {
		return nil, apperr.Classify("list properties", err)
	}
	return props, nil
}

// ExportProperties returns every property visible to caller matching f, for
// CSV export. Paging in f is ignored.
func (g *Gateway) ExportProperties(ctx context.Context, caller *authz.Principal, f property.Filter) (_ []*property.Property, err error) {
	ctx, span := g.start(ctx, caller, KindProperty, "export")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapExportProperties) {
		return nil, g.deny(ctx, caller, KindProperty, "export", apperr.New(apperr.KindPermissionDenied, "export properties"))
	}
	agencyID, ok := listScope(caller, f.AgencyID)
	if !ok {
		return []*property.Property{}, nil
	}
	f.AgencyID = agencyID
	f.Limit = property.MaxLimit
	f.Offset = 0

	var all []*property.Property
	for {
		page, err := g.properties.List(ctx, f)
		if err != nil {
			return nil, apperr.Classify("export properties", err)
		}
		all = append(all, page...)
		if len(page) < f.Limit {
			return all, nil
		}
		f.Offset += f.Limit
	}
}

// GetProperty returns one property. Properties of other agencies are not
// found.
func (g *Gateway) GetProperty(ctx context.Context, caller *authz.Principal, propertyID string) (_ *property.Property, err error) {
	ctx, span := g.start(ctx, caller, KindProperty, "get")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapViewProperties) {
		return nil, g.deny(ctx, caller, KindProperty, "get", apperr.New(apperr.KindPermissionDenied, "get property"))
	}
	return g.scopedProperty(ctx, caller, propertyID, "get")
}

// CreateProperty stores a new property. The agency is forced to the caller's
// own unless the caller is a super admin, who must name an existing agency.
func (g *Gateway) CreateProperty(ctx context.Context, caller *authz.Principal, in property.Input) (_ *property.Property, err error) {
	ctx, span := g.start(ctx, caller, KindProperty, "create")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapCreateProperties) {
		return nil, g.deny(ctx, caller, KindProperty, "create", apperr.New(apperr.KindPermissionDenied, "create property"))
	}

	in.Normalize()
	agencyID, err := g.createScope(ctx, caller, in.AgencyID)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := g.now()
	createdBy := caller.ID
	p := &property.Property{
		ID:        id.NewUUIDv7(),
		AgencyID:  agencyID,
		CreatedBy: &createdBy,
		UpdatedBy: &createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Apply(in)

	if err := g.properties.Create(ctx, p); err != nil {
		return nil, apperr.Classify("create property", err)
	}

	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePropertyCreated,
		AgencyID: agencyID,
		ActorID:  caller.ID,
		Resource: audit.ResourceProperty,
		Metadata: map[string]any{audit.AttrTargetID: p.ID},
	})
	return p, nil
}

// UpdateProperty changes the editable fields of a property. The agency
// reference in the payload is ignored.
func (g *Gateway) UpdateProperty(ctx context.Context, caller *authz.Principal, propertyID string, in property.Input) (_ *property.Property, err error) {
	ctx, span := g.start(ctx, caller, KindProperty, "update")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapEditProperties) {
		return nil, g.deny(ctx, caller, KindProperty, "update", apperr.New(apperr.KindPermissionDenied, "update property"))
	}
	p, err := g.scopedProperty(ctx, caller, propertyID, "update")
	if err != nil {
		return nil, err
	}

	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	p.Apply(in)
	updatedBy := caller.ID
	p.UpdatedBy = &updatedBy
	p.UpdatedAt = g.now()

	if err := g.properties.Update(ctx, p); err != nil {
		if errors.Is(err, property.ErrPropertyNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "update property", err)
		}
		return nil, apperr.Classify("update property", err)
	}

	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePropertyUpdated,
		AgencyID: p.AgencyID,
		ActorID:  caller.ID,
		Resource: audit.ResourceProperty,
		Metadata: map[string]any{audit.AttrTargetID: p.ID},
	})
	return p, nil
}

// DeleteProperty removes a property. The delete capability is required even
// inside the caller's own agency.
func (g *Gateway) DeleteProperty(ctx context.Context, caller *authz.Principal, propertyID string) (err error) {
	ctx, span := g.start(ctx, caller, KindProperty, "delete")
	defer func() { end(span, err) }()

	if !authz.HasCapability(caller, authz.CapDeleteProperties) {
		return g.deny(ctx, caller, KindProperty, "delete", apperr.New(apperr.KindPermissionDenied, "delete property"))
	}
	p, err := g.scopedProperty(ctx, caller, propertyID, "delete")
	if err != nil {
		return err
	}

	if err := g.properties.Delete(ctx, p.ID); err != nil {
		if errors.Is(err, property.ErrPropertyNotFound) {
			return apperr.Wrap(apperr.KindNotFound, "delete property", err)
		}
		return apperr.Classify("delete property", err)
	}

	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePropertyDeleted,
		AgencyID: p.AgencyID,
		ActorID:  caller.ID,
		Resource: audit.ResourceProperty,
		Metadata: map[string]any{audit.AttrTargetID: p.ID},
	})
	return nil
}

func (g *Gateway) scopedProperty(ctx context.Context, caller *authz.Principal, propertyID, op string) (*property.Property, error) {
	p, err := g.properties.Get(ctx, propertyID)
	if err != nil {
		if errors.Is(err, property.ErrPropertyNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, op+" property", err)
		}
		return nil, apperr.Classify(op+" property", err)
	}
	if !authz.CanAccessAgency(caller, p.AgencyID) {
		return nil, g.deny(ctx, caller, KindProperty, op, apperr.New(apperr.KindNotFound, op+" property: agency outside scope"),
			logger.EntityID(propertyID))
	}
	return p, nil
}
