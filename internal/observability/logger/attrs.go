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

package logger

import "log/slog"

// Attribute constructors shared by every package, so that a given field is
// always logged under the same key.

// Request and process attributes.

func RequestID(id string) slog.Attr { return slog.String("request_id", id) }
func Method(method string) slog.Attr { return slog.String("method", method) }
func Path(path string) slog.Attr { return slog.String("path", path) }
func RemoteAddr(addr string) slog.Attr { return slog.String("remote_addr", addr) }
func UserAgent(ua string) slog.Attr { return slog.String("user_agent", ua) }
func StatusCode(code int) slog.Attr { return slog.Int("status_code", code) }
func Duration(ms int64) slog.Attr { return slog.Int64("duration_ms", ms) }
func RowsAffected(rows int64) slog.Attr { return slog.Int64("rows_affected", rows) }
func Component(name string) slog.Attr { return slog.String("component", name) }
func String(key, value string) slog.Attr { return slog.String(key, value) }

// Caller attributes. Email addresses are deliberately absent: identify
// accounts by UserID.

func UserID(id string) slog.Attr { return slog.String("user_id", id) }
func SessionID(id string) slog.Attr { return slog.String("session_id", id) }
func Role(role string) slog.Attr { return slog.String("role", role) }

// Tenant-scoped access attributes, as logged by the data gateway and the
// invitation service.

func AgencyID(id string) slog.Attr { return slog.String("agency_id", id) }
func InvitationID(id string) slog.Attr { return slog.String("invitation_id", id) }
func EntityKind(kind string) slog.Attr { return slog.String("entity_kind", kind) }
func EntityID(id string) slog.Attr { return slog.String("entity_id", id) }
func Operation(op string) slog.Attr { return slog.String("operation", op) }

// Error attributes.

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func ErrorKind(kind string) slog.Attr { return slog.String("error_kind", kind) }
