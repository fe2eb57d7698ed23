/**
 * @description
 * Typed business-rule errors raised before any mutation. Store-level failures
 * (not found, insufficient funds, concurrency conflicts) live as sentinel
 * errors in internal/store; the errors here carry enough structure for a
 * caller to present a specific message.
 */

package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed or missing input, rejected before any
// mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AllocationMismatchError reports a multi-destination contribution whose
// allocations do not sum to the stated total.
type AllocationMismatchError struct {
	Expected int64
	Got      int64
}

func (e *AllocationMismatchError) Error() string {
	return fmt.Sprintf("allocation mismatch: allocations sum to %d, contribution amount is %d", e.Got, e.Expected)
}

// PolicyViolationError reports an operation the active archetype's rules do
// not permit. Violations lists every failed rule.
type PolicyViolationError struct {
	Archetype  Archetype
	Operation  string
	Violations []string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation for %s %s: %s", e.Archetype, e.Operation, strings.Join(e.Violations, "; "))
}

// InvalidTransitionError reports an illegal loan state-machine transition.
type InvalidTransitionError struct {
	From LoanStatus
	To   LoanStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid loan transition from %s to %s", e.From, e.To)
}
