package wims

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentification matches errors where the server rejected ident/passwd.
	ErrIdentification = errors.New("wims identification failure")
	// ErrUnreachable matches errors where the server could not be talked to.
	ErrUnreachable = errors.New("wims server unreachable")
)

// IdentificationError carries the server's rejection message verbatim.
type IdentificationError struct {
	Message string
}

func (e *IdentificationError) Error() string { return e.Message }

func (e *IdentificationError) Is(target error) bool { return target == ErrIdentification }

// UnreachableError covers transport failures and responses that are not adm/raw JSON.
type UnreachableError struct {
	URL   string
	Cause error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("could not join the WIMS server '%s': %v", e.URL, e.Cause)
}

func (e *UnreachableError) Is(target error) bool { return target == ErrUnreachable }

func (e *UnreachableError) Unwrap() error { return e.Cause }

// APIError is an ERROR status for any other job.
type APIError struct {
	Job     string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wims %s: %s", e.Job, e.Message)
}
