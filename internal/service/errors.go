package service

import "errors"

// ErrServiceUnavailable is returned by Request when no worker of the
// target service is known to be alive.
var ErrServiceUnavailable = errors.New("service: target unavailable")

// ErrServiceError is raised when a peer's handler faulted and replied
// with an `error` response.
var ErrServiceError = errors.New("service: peer returned an error response")

// RejectionError is raised when a peer rejects a request with a kind
// that has no locally registered typed exception.
type RejectionError struct {
	Kind   string
	Args   []any
	Kwargs map[string]any
}

func (e *RejectionError) Error() string {
	return "service: unknown rejection " + e.Kind
}

// Rejection kinds application handlers may use (spec.md §7). This
// repo never raises these itself; they are named here so handlers
// outside this module and the rejection registry share one
// vocabulary.
const (
	RejectNotFound          = "NotFound"
	RejectMissingPrivileges = "MissingPrivileges"
	RejectInvalidCredentials = "InvalidCredentials"
	RejectExpiredToken      = "ExpiredToken"
	RejectAlreadyCancelled  = "AlreadyCancelled"
	RejectInvalidState      = "InvalidState"
	RejectWrongMethod       = "WrongMethod"
	RejectBadRequest        = "BadRequest"
	RejectUnknownField      = "UnknownField"
	RejectForbidden         = "Forbidden"
	RejectNotImplemented    = "NotImplemented"
	RejectUnavailable       = "Unavailable"
)
