package facets

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRecord is returned when an operation names a record the
	// dataset does not hold (never added, or already removed).
	ErrUnknownRecord = errors.New("unknown record")

	// ErrUnbalancedMembership reports a record whose aggregate
	// back-references disagree with the aggregates' member lists, or an
	// accumulator that drifted from its members.
	ErrUnbalancedMembership = errors.New("unbalanced membership")

	// ErrPredicateFailure is wrapped by every PredicateError.
	ErrPredicateFailure = errors.New("predicate failure")

	ErrUnknownFilter      = errors.New("unknown filter")
	ErrUnknownAttribute   = errors.New("unknown attribute")
	ErrDuplicateAttribute = errors.New("duplicate attribute")
	ErrDuplicateRecord    = errors.New("duplicate record id")
	ErrInvalidSlot        = errors.New("invalid compare slot")
	ErrSlotLocked         = errors.New("compare slot locked")
	ErrAttributeMismatch  = errors.New("criterion attribute mismatch")
)

// PredicateError describes a filter predicate that returned an error or
// panicked for one record. The record is treated as failing the filter.
type PredicateError struct {
	Filter   string
	RecordID string
	Err      error       // error returned by the predicate, if any
	Panic    interface{} // recovered panic value, if any
}

func (e *PredicateError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("filter %s: record %s: predicate panicked: %v", e.Filter, e.RecordID, e.Panic)
	}
	return fmt.Sprintf("filter %s: record %s: %v", e.Filter, e.RecordID, e.Err)
}

// Unwrap exposes both ErrPredicateFailure and the predicate's own error
// to errors.Is.
func (e *PredicateError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPredicateFailure, e.Err}
	}
	return []error{ErrPredicateFailure}
}
