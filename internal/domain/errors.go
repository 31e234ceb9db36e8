package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned when the user backs out of a prompt
var ErrCancelled = errors.New("operation cancelled")

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// PreconditionError reports a selection or state that does not satisfy an
// operation's requirements. Nothing has been changed when it is returned.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// DesyncError reports that the GIS layer and the database disagree
type DesyncError struct {
	Incid  string
	Detail string
}

func (e *DesyncError) Error() string {
	if e.Incid == "" {
		return "GIS layer and database are out of sync: " + e.Detail
	}
	return fmt.Sprintf("GIS layer and database are out of sync for incid %s: %s", e.Incid, e.Detail)
}

// LookupError reports a reason, process or operation that could not be resolved to a code
type LookupError struct {
	Table   string
	Value   string
	Matches []string
}

func (e *LookupError) Error() string {
	if len(e.Matches) > 1 {
		return fmt.Sprintf("ambiguous %s value %q: matches %s", e.Table, e.Value, strings.Join(e.Matches, ", "))
	}
	return fmt.Sprintf("no %s code found for %q", e.Table, e.Value)
}

// OperationError is the single consolidated failure of a core operation.
// CompensationErr carries the failure of a best-effort compensating action;
// it is reported alongside Err and never replaces it.
type OperationError struct {
	Op              string
	Err             error
	CompensationErr error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	if e.CompensationErr != nil {
		msg += fmt.Sprintf(" (compensation also failed: %v)", e.CompensationErr)
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err is a precondition violation
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
