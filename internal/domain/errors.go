package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrValidation       = errors.New("validation failed")
	ErrInvalidState     = errors.New("invalid state")
	ErrConflict         = errors.New("concurrent modification")
	ErrNotFound         = errors.New("record not found")
)

// FieldError describes a single offending field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every field that failed validation, not just the first.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// Add records a failing field.
func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// OrNil returns nil when no field failed, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Missing returns the names of the failing fields in the order they were added.
func (e *ValidationError) Missing() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InvalidStateError is returned when an operation is not permitted from the
// decision's current status.
type InvalidStateError struct {
	Current   Status `json:"currentStatus"`
	Operation string `json:"operation"`
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a decision in status %q", e.Operation, e.Current)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// AmountOutOfRangeError is returned when an operator-chosen amount violates the rule bounds.
type AmountOutOfRangeError struct {
	Amount int64 `json:"amount"`
	Min    int64 `json:"min"`
	Max    int64 `json:"max"`
	Fixed  bool  `json:"fixed"`
}

func (e *AmountOutOfRangeError) Error() string {
	if e.Fixed {
		return fmt.Sprintf("amount %d not accepted: rule has a fixed fine of %d", e.Amount, e.Min)
	}
	return fmt.Sprintf("amount %d outside permitted range [%d, %d]", e.Amount, e.Min, e.Max)
}

func (e *AmountOutOfRangeError) Is(target error) bool {
	return target == ErrAmountOutOfRange
}
