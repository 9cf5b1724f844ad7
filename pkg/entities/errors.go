package entities

import (
	"errors"
	"fmt"
)

// ErrIdentityNotFound is the definite negative of the identity resolver.
// Callers must not retry; the template stage treats it as a silent no-op.
var ErrIdentityNotFound = errors.New("identity not found")

// ErrPermissionDenied marks an operation the actor's role does not allow.
// It produces a user-visible rejection and is never fatal.
var ErrPermissionDenied = errors.New("permission denied")

// TransportErrorKind classifies outbound platform failures.
type TransportErrorKind string

const (
	TransportNotFound         TransportErrorKind = "not_found"
	TransportPermissionDenied TransportErrorKind = "permission_denied"
	TransportRateLimited      TransportErrorKind = "rate_limited"
	TransportNetwork          TransportErrorKind = "network"
)

// TransportError is returned by the messaging client. The pipeline's policy
// is log-and-continue for every kind; the kind exists so callers never have
// to string-match platform responses.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
