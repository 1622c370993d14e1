package formula

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownComponent is returned when Evaluate is asked for a code that is
	// neither in the formula table nor in the context.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrUnknownReference is returned when a formula references a variable that
	// is neither a component code nor a context variable.
	ErrUnknownReference = errors.New("unknown reference")

	// ErrMalformed is returned when a formula cannot be parsed or uses
	// syntax other than arithmetic, parentheses and min/max.
	ErrMalformed = errors.New("malformed formula")

	// ErrNotNumeric is returned when a formula evaluates to a non-number.
	ErrNotNumeric = errors.New("formula did not produce a number")

	// ErrNotFinite is returned for NaN or infinite results (division by zero).
	ErrNotFinite = errors.New("formula produced a non-finite number")

	// ErrCycle is returned when a formula depends on itself.
	ErrCycle = errors.New("cyclic formula dependency")
)

// Error identifies the code whose formula failed.
type Error struct {
	Code    string
	Formula string
	Ref     string // offending reference, for ErrUnknownReference
	Err     error
}

func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s: %v %q", e.Code, e.Err, e.Ref)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CycleError lists the resolution chain that closed on itself, e.g.
// [A B A] for A = B + 1, B = A + 1.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycle, strings.Join(e.Chain, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// Code returns the code at which the cycle was detected.
func (e *CycleError) Code() string {
	if len(e.Chain) == 0 {
		return ""
	}
	return e.Chain[0]
}
