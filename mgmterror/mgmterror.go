/*
 * Copyright 2026 The Confcore Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mgmterror implements the NETCONF error element described in
// spec.md §6: the structured payload every RPC failure in confcore is
// reported through.
package mgmterror

import "fmt"

// ErrorType is the NETCONF error-type enumeration.
type ErrorType string

const (
	TypeTransport  ErrorType = "transport"
	TypeRPC        ErrorType = "rpc"
	TypeProtocol   ErrorType = "protocol"
	TypeApplication ErrorType = "application"
)

// ErrorTag is restricted to the closed set named in spec.md §6.
type ErrorTag string

const (
	TagInUse          ErrorTag = "in-use"
	TagInvalidValue   ErrorTag = "invalid-value"
	TagMissingElement ErrorTag = "missing-element"
	TagUnknownElement ErrorTag = "unknown-element"
	TagBadAttribute   ErrorTag = "bad-attribute"
	TagOperationFailed ErrorTag = "operation-failed"
	TagDataMissing    ErrorTag = "data-missing"
	TagDataExists     ErrorTag = "data-exists"
	TagAccessDenied   ErrorTag = "access-denied"
	TagLockDenied     ErrorTag = "lock-denied"
)

// ErrorSeverity mirrors the NETCONF error-severity leaf.
type ErrorSeverity string

const (
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
)

// Error is a single NETCONF-style rpc-error element.
type Error struct {
	Type     ErrorType
	Tag      ErrorTag
	Severity ErrorSeverity
	Message  string
	Path     string
	AppTag   string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Tag, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// New builds an application-type error of severity "error" with the
// common fields filled in; it's the constructor most validators and the engine reach for.
func New(tag ErrorTag, path, message string) *Error {
	return &Error{
		Type:     TypeApplication,
		Tag:      tag,
		Severity: SeverityError,
		Message:  message,
		Path:     path,
	}
}

// Protocol builds a protocol-type error of severity "error", used for malformed requests
// rather than semantically invalid configuration.
func Protocol(tag ErrorTag, message string) *Error {
	return &Error{
		Type:     TypeProtocol,
		Tag:      tag,
		Severity: SeverityError,
		Message:  message,
	}
}

// List accumulates errors from a validation pass. The caller may stop on
// the first one (spec.md §4.B) or collect them all; List supports both.
type List []*Error

func (l List) Error() string {
	if len(l) == 0 {
		return "no errors"
	}
	if len(l) == 1 {
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", l[0].Error(), len(l)-1)
}

func (l List) HasErrors() bool {
	return len(l) > 0
}
