// Package common defines shared constants and sentinel errors used across
// the filevault components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Validation errors are caller-correctable and never retried.
	ErrorValidation = errors.New("validation error")

	// ErrIntegrityViolation means an authentication-tag check failed on
	// decrypt or a stored digest did not match. The content must be treated
	// as corrupted and never served.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrThreatDetected means the scanner flagged the content; the file is
	// quarantined and the upload is terminal.
	ErrThreatDetected = errors.New("threat detected")

	// ErrScanUnavailable means the scanner could not produce a verdict
	// within the retry budget; the file stays pending (fail-closed).
	ErrScanUnavailable = errors.New("scanner unavailable")

	// ErrShareUnavailable is the only message anonymous share callers see,
	// whatever the underlying denial reason was.
	ErrShareUnavailable = errors.New("link unavailable")

	// ErrGrantNotConsumable is returned by the conditional consume update
	// when no usable row matched; the service re-reads to find the exact
	// denial reason.
	ErrGrantNotConsumable = errors.New("grant not consumable")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidTransition guards the StoredFile status machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStorageFailure wraps blob/database infrastructure failures that
	// survived their retry budget.
	ErrStorageFailure = errors.New("storage failure")
)
