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

package authz

// Capability names a boolean permission. The string values are part of the
// /auth/me response and must stay stable.
type Capability string

const (
	// Agency-scoped
	CapViewProperties       Capability = "canViewProperties"
	CapCreateProperties     Capability = "canCreateProperties"
	CapEditProperties       Capability = "canEditProperties"
	CapDeleteProperties     Capability = "canDeleteProperties"
	CapExportProperties     Capability = "canExportProperties"
	CapViewUsers            Capability = "canViewUsers"
	CapInviteUsers          Capability = "canInviteUsers"
	CapEditUsers            Capability = "canEditUsers"
	CapDeleteUsers          Capability = "canDeleteUsers"
	CapViewAgencySettings   Capability = "canViewAgencySettings"
	CapManageAgencySettings Capability = "canManageAgencySettings"
	CapViewAgencyStats      Capability = "canViewAgencyStats"

	// Cross-tenant
	CapViewAllAgencies      Capability = "canViewAllAgencies"
	CapCreateAgencies       Capability = "canCreateAgencies"
	CapDeleteAgencies       Capability = "canDeleteAgencies"
	CapViewAllUsers         Capability = "canViewAllUsers"
	CapViewAllProperties    Capability = "canViewAllProperties"
	CapManageSystemSettings Capability = "canManageSystemSettings"
	CapViewSystemStats      Capability = "canViewSystemStats"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	CapViewProperties,
	CapCreateProperties,
	CapEditProperties,
	CapDeleteProperties,
	CapExportProperties,
	CapViewUsers,
	CapInviteUsers,
	CapEditUsers,
	CapDeleteUsers,
	CapViewAgencySettings,
	CapManageAgencySettings,
	CapViewAgencyStats,
	CapViewAllAgencies,
	CapCreateAgencies,
	CapDeleteAgencies,
	CapViewAllUsers,
	CapViewAllProperties,
	CapManageSystemSettings,
	CapViewSystemStats,
}

// CapabilitySet maps every capability to a boolean. Sets returned by Derive
// contain an entry for every capability in AllCapabilities.
type CapabilitySet map[Capability]bool

// Has reports whether c is granted. Unknown capabilities are never granted.
func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

// Principal is the caller identity the engine evaluates.
type Principal struct {
	ID       string
	AgencyID *string // nil for super admins and users not yet assigned to an agency
	Role     Role
	Active   bool
}

// IsSuperAdmin reports whether p is an active super admin.
func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Active && p.Role == RoleSuperAdmin
}

// Agency returns the principal's agency id or "".
func (p *Principal) Agency() string {
	if p == nil || p.AgencyID == nil {
		return ""
	}
	return *p.AgencyID
}
