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

// Role is the canonical name of a role as stored in user_profiles.role.
type Role string

// -----------------------------------------------------------------------------
// Role Name Constants
// -----------------------------------------------------------------------------

const (
	// RoleSuperAdmin is the platform-wide administrator role.
	// Agency: always NULL
	// Capabilities: all
	RoleSuperAdmin Role = "super_admin"

	// RoleAgencyAdmin administers one agency: members, invitations, settings.
	RoleAgencyAdmin Role = "agency_admin"

	// RoleAgent manages the listings of one agency.
	RoleAgent Role = "agent"

	// RoleViewer has read-only access to one agency.
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	return RoleRank(r) > 0
}

// AgencyScoped reports whether r is bound to a single agency.
func (r Role) AgencyScoped() bool {
	return r == RoleAgencyAdmin || r == RoleAgent || r == RoleViewer
}

// ParseRole returns the Role for s and whether it is known.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// RoleRank orders roles by privilege. Unknown roles rank 0.
func RoleRank(r Role) int {
	switch r {
	case RoleViewer:
		return 1
	case RoleAgent:
		return 2
	case RoleAgencyAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}

// -----------------------------------------------------------------------------
// Role Capability Presets
// Each preset is a superset of the one before it.
// -----------------------------------------------------------------------------

// ViewerCapabilities defines capabilities for the viewer role.
var ViewerCapabilities = []Capability{
	CapViewProperties,
	CapViewAgencySettings,
}

// AgentCapabilities defines capabilities for the agent role.
var AgentCapabilities = append(append([]Capability{}, ViewerCapabilities...),
	CapCreateProperties,
	CapEditProperties,
	CapExportProperties,
	CapViewUsers,
)

// AgencyAdminCapabilities defines capabilities for the agency_admin role.
var AgencyAdminCapabilities = append(append([]Capability{}, AgentCapabilities...),
	CapDeleteProperties,
	CapInviteUsers,
	CapEditUsers,
	CapDeleteUsers,
	CapManageAgencySettings,
	CapViewAgencyStats,
)

// SuperAdminCapabilities defines capabilities for the super_admin role.
var SuperAdminCapabilities = AllCapabilities

var presets = map[Role][]Capability{
	RoleViewer:      ViewerCapabilities,
	RoleAgent:       AgentCapabilities,
	RoleAgencyAdmin: AgencyAdminCapabilities,
	RoleSuperAdmin:  SuperAdminCapabilities,
}
