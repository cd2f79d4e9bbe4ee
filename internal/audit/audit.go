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

package audit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Event types
const (
	TypeSignup              = "signup"
	TypeLoginSuccess        = "login_success"
	TypeLoginFailed         = "login_failed"
	TypeLogout              = "logout"
	TypeUserLocked          = "user_locked"
	TypeSuperAdminBootstrap = "super_admin_bootstrap"
	TypeSuperAdminPromoted  = "super_admin_promoted"
	TypeProfileUpdated      = "profile_updated"

	TypeInvitationIssued      = "invitation_issued"
	TypeInvitationRedeemed    = "invitation_redeemed"
	TypeInvitationCancelled   = "invitation_cancelled"
	TypeInvitationRegenerated = "invitation_regenerated"

	TypePropertyCreated = "property_created"
	TypePropertyUpdated = "property_updated"
	TypePropertyDeleted = "property_deleted"

	TypeMemberCreated = "member_created"
	TypeMemberUpdated = "member_updated"
	TypeMemberDeleted = "member_deleted"

	TypeAgencyCreated = "agency_created"
	TypeAgencyUpdated = "agency_updated"
	TypeAgencyDeleted = "agency_deleted"

	TypeAccessDenied = "access_denied"
)

// Metadata keys
const (
	AttrReason   = "reason"
	AttrEmail    = "email"
	AttrAttempts = "attempts"
	AttrRole     = "role"
	AttrOldRole  = "old_role"
	AttrTargetID = "target_id"
	AttrCascade  = "cascade"
)

// Resources
const (
	ResourceSession    = "session"
	ResourceUser       = "user"
	ResourceInvitation = "invitation"
	ResourceProperty   = "property"
	ResourceAgency     = "agency"
	ResourcePlatform   = "platform"
)

// ActorSystem is used for events not caused by a signed-in user.
const ActorSystem = "system"

// Event represents an auditable action
type Event struct {
	Type      string
	AgencyID  string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a new audit logger writing to the default slog logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// NewSlogLoggerWith creates an audit logger writing to l
func NewSlogLoggerWith(l *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: l}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("agency_id", event.AgencyID),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		group := make([]any, 0, len(keys))
		for _, k := range keys {
			v := event.Metadata[k]
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
