/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with component / employee context.

ERROR CATEGORIES:
  1. Validation errors - Malformed input, reported before any work is done
  2. Resolution errors - A formula or an employee's proration cannot be computed
  3. Integrity errors  - Resolved components do not add up to the target CTC
  4. Store errors      - Not found, conflicts on uniqueness keys, locked periods

USAGE:
  Callers classify with errors.Is on the category sentinels:

    if errors.Is(err, generic.ErrIntegrity) {
        // template formulas do not exhaust the CTC
    }

  Nothing in the engine retries. Every failure is recoverable by calling
  again with corrected input.

SEE ALSO:
  - formula/errors.go: Evaluator failures (unknown reference, cycle)
  - salary/resolver.go: IntegrityError
  - api/handlers.go: Maps categories to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the category for malformed input (bad period, missing
	// identifiers, non-positive CTC, empty item list).
	ErrValidation = errors.New("validation failed")

	// ErrResolution is the category for failures computing a single unit of
	// work: an unresolvable formula or an employee that cannot be prorated.
	ErrResolution = errors.New("resolution failed")

	// ErrIntegrity is the category for resolved salaries that do not add up.
	ErrIntegrity = errors.New("salary integrity error")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with a uniqueness key.
	ErrConflict = errors.New("conflict")

	// ErrInvalidPeriod is returned for period strings not in YYYY-MM form.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrPeriodLocked is returned when a period already has a locked payroll
	// run and the requested operation would change its inputs or outputs.
	ErrPeriodLocked = fmt.Errorf("%w: period is locked by a payroll run", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes an input rejected before any work was done.
type ValidationError struct {
	Field   string
	Message string
	Err     error // optional specific cause, e.g. ErrInvalidPeriod
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// Invalid builds a ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ResolutionError identifies the component or employee whose computation
// failed. Only that unit of work is aborted.
type ResolutionError struct {
	Component  string
	EmployeeID EmployeeID
	Err        error
}

func (e *ResolutionError) Error() string {
	switch {
	case e.EmployeeID != "" && e.Component != "":
		return fmt.Sprintf("resolution failed for employee %s component %s: %v", e.EmployeeID, e.Component, e.Err)
	case e.EmployeeID != "":
		return fmt.Sprintf("resolution failed for employee %s: %v", e.EmployeeID, e.Err)
	default:
		return fmt.Sprintf("formula resolution failed for %s: %v", e.Component, e.Err)
	}
}

func (e *ResolutionError) Unwrap() []error {
	return []error{ErrResolution, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to input the caller can fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrResolution) ||
		errors.Is(err, ErrIntegrity)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true for uniqueness and lock violations.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
