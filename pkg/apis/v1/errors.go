/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

import (
	"errors"
)

// ErrorKind classifies scheduler failures for API consumers.
type ErrorKind string

const (
	// ErrorKindInvalidArgument marks malformed or missing caller input.
	ErrorKindInvalidArgument ErrorKind = "INVALID_ARGUMENT"
	// ErrorKindNotFound marks references to messages that do not exist.
	ErrorKindNotFound ErrorKind = "NOT_FOUND"
	// ErrorKindInvalidState marks operations the state machine forbids.
	ErrorKindInvalidState ErrorKind = "INVALID_STATE"
	// ErrorKindContention marks transaction conflicts that may succeed on retry.
	ErrorKindContention ErrorKind = "CONTENTION"
	// ErrorKindStoreError marks persistence failures.
	ErrorKindStoreError ErrorKind = "STORE_ERROR"
)

// Error pairs an underlying error with its kind. Construct through the kind-specific
// helpers and match with the Is helpers or errors.As.
type Error struct {
	error
	kind ErrorKind
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{error: err, kind: kind}
}

// NewInvalidArgumentError wraps err as caller-input rejection.
func NewInvalidArgumentError(err error) *Error { return newError(ErrorKindInvalidArgument, err) }

// NewNotFoundError wraps err as a missing-message failure.
func NewNotFoundError(err error) *Error { return newError(ErrorKindNotFound, err) }

// NewInvalidStateError wraps err as a state-machine rejection.
func NewInvalidStateError(err error) *Error { return newError(ErrorKindInvalidState, err) }

// NewContentionError wraps err as a retryable transaction conflict.
func NewContentionError(err error) *Error { return newError(ErrorKindContention, err) }

// NewStoreError wraps err as a persistence failure.
func NewStoreError(err error) *Error { return newError(ErrorKindStoreError, err) }

func (e *Error) Kind() ErrorKind {
	return e.kind
}

func (e *Error) Unwrap() error {
	return e.error
}

// KindOf extracts the kind from an error chain. Unclassified errors report as
// STORE_ERROR since only the persistence layer surfaces raw errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ErrorKindStoreError
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.kind == kind
}

// IsInvalidArgument reports whether the error is an INVALID_ARGUMENT rejection.
func IsInvalidArgument(err error) bool { return IsKind(err, ErrorKindInvalidArgument) }

// IsNotFound reports whether the error is a NOT_FOUND failure.
func IsNotFound(err error) bool { return IsKind(err, ErrorKindNotFound) }

// IsInvalidState reports whether the error is an INVALID_STATE rejection.
func IsInvalidState(err error) bool { return IsKind(err, ErrorKindInvalidState) }

// IsContention reports whether the error is a retryable conflict.
func IsContention(err error) bool { return IsKind(err, ErrorKindContention) }
