// Package opserr classifies failures of the operations commands so that every
// command reports them the same way and exits with the same codes.
package opserr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an operation.
type Kind int

const (
	// Precondition failures need the operator to fix the environment first
	// (missing repository, missing remote, missing source file).
	Precondition Kind = iota + 1
	// Operational failures happened while doing the work (server did not come
	// up, copy failed). Re-invoking may succeed.
	Operational
	// Query failures belong to a single inspector request.
	Query
)

func (k Kind) String() string {
	switch k {
	case Precondition:
		return "precondition"
	case Operational:
		return "operational"
	case Query:
		return "query"
	default:
		return "unknown"
	}
}

// Error wraps a cause with its kind, the failing operation and remediation text.
type Error struct {
	Kind Kind
	Op   string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err; it returns nil when err is nil.
func New(kind Kind, op string, err error, hint string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Hint: hint, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Operational
// for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Operational
}

// HintOf returns the remediation text attached to err, if any.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// ExitCode maps an error to the process exit code: 0 on success, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
