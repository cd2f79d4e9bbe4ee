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

// Package apperr defines the typed failures raised by the gateway, the
// invitation manager and the identity service. Callers map a Kind to a
// transport status and show only UserMessage to end users.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindAlreadyUsed      Kind = "already_used"
	KindExpired          Kind = "expired"
	KindEmailMismatch    Kind = "email_mismatch"
	KindValidation       Kind = "validation_error"
	KindConflict         Kind = "conflict"
	KindUnavailable      Kind = "unavailable"
	KindUnauthenticated  Kind = "unauthenticated"
	KindInternal         Kind = "internal"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAlreadyUsed      = &Error{Kind: KindAlreadyUsed}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrEmailMismatch    = &Error{Kind: KindEmailMismatch}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrUnavailable      = &Error{Kind: KindUnavailable}
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated}
)

var defaultMessages = map[Kind]string{
	KindPermissionDenied: "You do not have permission to perform this action.",
	KindNotFound:         "The requested resource was not found.",
	KindAlreadyUsed:      "This invitation has already been used.",
	KindExpired:          "This invitation has expired. Ask your agency administrator for a new one.",
	KindEmailMismatch:    "This invitation was sent to a different email address.",
	KindValidation:       "Some of the submitted values are invalid.",
	KindConflict:         "The request conflicts with existing data.",
	KindUnavailable:      "The service is temporarily unavailable. Please try again.",
	KindUnauthenticated:  "You need to sign in to continue.",
	KindInternal:         "An unexpected error occurred.",
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string            // internal, for logs
	Fields  map[string]string // field-level validation messages
	Cause   error

	userMessage string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// UserMessage is the text safe to show to an end user.
func (e *Error) UserMessage() string {
	if e.userMessage != "" {
		return e.userMessage
	}
	if msg, ok := defaultMessages[e.Kind]; ok {
		return msg
	}
	return defaultMessages[KindInternal]
}

// WithUserMessage overrides the default user-facing text.
func (e *Error) WithUserMessage(msg string) *Error {
	e.userMessage = msg
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Invalid creates a validation error for a single field.
func Invalid(field, message string) *Error {
	return &Error{
		Kind:        KindValidation,
		Message:     fmt.Sprintf("invalid %s: %s", field, message),
		Fields:      map[string]string{field: message},
		userMessage: message,
	}
}

// Validation creates a validation error for several fields. It returns nil
// when fields is empty.
func Validation(fields map[string]string) *Error {
	if len(fields) == 0 {
		return nil
	}
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf("%d invalid field(s)", len(fields)),
		Fields:  fields,
	}
}

// KindOf classifies any error. Context deadlines and cancellations are
// reported as Unavailable; unclassified errors as Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	return KindInternal
}

// Classify returns err unchanged if it is already an *Error, and otherwise
// wraps it as Unavailable (context deadline or cancellation) or Internal.
func Classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(KindOf(err), message, err)
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the user-facing text for any error.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return defaultMessages[KindOf(err)]
}

// FieldsOf returns field-level validation messages, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
