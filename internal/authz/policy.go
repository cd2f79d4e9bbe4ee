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

// Package authz is the policy engine. Every function is pure: no I/O, no
// errors, and the same inputs always give the same answer. Absent or invalid
// input yields the least-privileged result.
package authz

// Derive returns the full capability set for p. A nil, inactive or
// unknown-role principal gets the all-false guest set.
func Derive(p *Principal) CapabilitySet {
	set := make(CapabilitySet, len(AllCapabilities))
	for _, c := range AllCapabilities {
		set[c] = false
	}
	if p == nil || !p.Active {
		return set
	}
	for _, c := range presets[p.Role] {
		set[c] = true
	}
	return set
}

// HasCapability reports whether p holds c.
func HasCapability(p *Principal, c Capability) bool {
	if p == nil || !p.Active {
		return false
	}
	for _, granted := range presets[p.Role] {
		if granted == c {
			return true
		}
	}
	return false
}

// CanAccessAgency reports whether p may touch rows of agencyID.
// Super admins reach every agency; everyone else only their own.
func CanAccessAgency(p *Principal, agencyID string) bool {
	if p == nil || !p.Active {
		return false
	}
	if p.Role == RoleSuperAdmin {
		return true
	}
	if !p.Role.AgencyScoped() || agencyID == "" || p.AgencyID == nil {
		return false
	}
	return *p.AgencyID == agencyID
}

// CanManage reports whether manager may edit or remove target.
// Agency admins manage agents and viewers of their own agency but not
// other admins.
func CanManage(manager, target *Principal) bool {
	if manager == nil || target == nil || !manager.Active {
		return false
	}
	if manager.Role == RoleSuperAdmin {
		return true
	}
	if manager.ID != "" && manager.ID == target.ID {
		return true
	}
	if manager.Role != RoleAgencyAdmin || manager.AgencyID == nil || target.AgencyID == nil {
		return false
	}
	if *manager.AgencyID != *target.AgencyID {
		return false
	}
	return target.Role != RoleAgencyAdmin && target.Role != RoleSuperAdmin
}

// CanAssignRole reports whether a user with role assigner may grant target.
// super_admin is never assignable through this path.
func CanAssignRole(assigner, target Role) bool {
	rank := RoleRank(target)
	if rank == 0 {
		return false
	}
	switch assigner {
	case RoleSuperAdmin:
		return rank < RoleRank(RoleSuperAdmin)
	case RoleAgencyAdmin:
		return rank < RoleRank(RoleAgencyAdmin)
	default:
		return false
	}
}

// InvitableRoles lists the roles assigner may put on an invitation, highest first.
func InvitableRoles(assigner Role) []Role {
	var roles []Role
	for _, r := range []Role{RoleAgencyAdmin, RoleAgent, RoleViewer} {
		if CanAssignRole(assigner, r) {
			roles = append(roles, r)
		}
	}
	return roles
}
