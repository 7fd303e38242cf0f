// Package schederr enumerates the finite set of error kinds the scheduler
// returns. Only the HTTP boundary maps a Kind to a status code; internal
// callers switch on Kind directly.
package schederr

import "fmt"

// Kind is one of the recognized scheduler error categories.
type Kind string

const (
	InvalidArguments   Kind = "invalid_arguments"
	IdempotencyConflict Kind = "idempotency_conflict"
	NoCapacity         Kind = "no_capacity"
	NoEligibleJobs      Kind = "no_eligible_jobs"
	LeaseNotFound      Kind = "lease_not_found"
	WorkerMismatch     Kind = "worker_mismatch"
	LeaseInactive      Kind = "lease_inactive"
	StorageError       Kind = "storage_error"
)

// Error is the value every scheduler operation returns on failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a scheduler error of the given kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == kind
}
