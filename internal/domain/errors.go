package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("listing no longer available")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrCorruptPayload    = errors.New("corrupt payload")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoCapacity        = errors.New("no inventory capacity")
	ErrValidation        = errors.New("validation failed")
)

// ValidationError describes a rejected input field. It is returned before any
// store mutation, so callers can correct the input and retry safely.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrValidation) work for all validation errors.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
