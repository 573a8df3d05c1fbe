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

// Package txerr implements the tagged-variant result type spec.md §9
// asks for in place of exceptions: every engine entry point returns a
// Result instead of relying on panics to signal the three error kinds
// distinguished in spec.md §7.
package txerr

import "github.com/confcore/confcore/mgmterror"

// Kind distinguishes the three outcomes spec.md §7 names.
type Kind int

const (
	// Ok: the operation completed with no observable side effect beyond
	// what was requested.
	Ok Kind = iota
	// ValidationFail: the input was parseable but semantically invalid.
	// running is untouched; the client may retry with a different
	// candidate (spec.md §7.1).
	ValidationFail
	// TransactionError: a plugin callback failed, or running is locked by
	// another client (Reason "in-use"). When the failure comes before
	// commit_done, running has not been written; a commit_done or end
	// failure is returned after running was written and is not undone.
	TransactionError
	// Fatal: a datastore could not be loaded or persisted, a transaction
	// id could not be generated, or a startup upgrade or failsafe step
	// failed. Not self-healing; recovery is left to confirmed-commit or
	// failsafe (spec.md §7.3).
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case ValidationFail:
		return "validation-fail"
	case TransactionError:
		return "transaction-error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the sum type every engine operation returns.
type Result struct {
	Kind   Kind
	Errors mgmterror.List
	Reason string
}

// OkResult is the success singleton.
func OkResult() Result { return Result{Kind: Ok} }

// Validation wraps accumulated structured errors from the validator.
func Validation(errs mgmterror.List) Result {
	return Result{Kind: ValidationFail, Errors: errs}
}

// Transaction wraps a single operational failure (a plugin callback
// failure or a lock conflict) in an otherwise well-formed commit.
func Transaction(reason string) Result {
	return Result{Kind: TransactionError, Reason: reason}
}

// FatalResult wraps a failure of the kind listed under Fatal: a datastore
// load or persist failure, an id-generation failure, or a failed startup
// upgrade or failsafe step.
func FatalResult(reason string) Result {
	return Result{Kind: Fatal, Reason: reason}
}

// IsOk reports whether the result represents success.
func (r Result) IsOk() bool { return r.Kind == Ok }

// Error implements the error interface so a Result can be returned
// wherever Go idiom expects one, while callers that want the full
// structure can still type-assert or inspect Kind directly.
func (r Result) Error() string {
	switch r.Kind {
	case Ok:
		return ""
	case ValidationFail:
		return r.Errors.Error()
	default:
		return r.Kind.String() + ": " + r.Reason
	}
}
