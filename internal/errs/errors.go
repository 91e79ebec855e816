// Package errs defines the error taxonomy shared by settings, status and execution.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"trading-authority/pkg/crypto"
)

// Standard sentinel errors
var (
	ErrAlreadyConfigured = errors.New("system is already configured")
	ErrSlippageExceeded  = errors.New("slippage tolerance exceeded")
	ErrOrderRejected     = errors.New("order rejected by settlement")
	ErrTimeout           = errors.New("timeout")
	ErrAmountOutOfBounds = errors.New("amount outside allowed bounds")
	ErrNoPrice           = errors.New("no reference price for pair")
	ErrMissingCredential = errors.New("no usable live credential")
)

// Encryption failures keep their concrete types from pkg/crypto.
type (
	DecryptionError = crypto.DecryptionError
	EncryptionError = crypto.EncryptionError
)

// FieldError is one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field-level problem found in one request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem with field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err returns e when it holds at least one field error, nil otherwise.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// NotConfiguredError is returned by mode switches and executions before onboarding.
type NotConfiguredError struct {
	Op string
}

func (e *NotConfiguredError) Error() string {
	if e.Op == "" {
		return "system not configured"
	}
	return fmt.Sprintf("%s: system not configured", e.Op)
}

// InsufficientBalanceError reports a virtual debit that would go negative.
type InsufficientBalanceError struct {
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %s, available %s", e.Asset, e.Required, e.Available)
}

// TransientExecutionError wraps a settlement failure that is safe to retry.
type TransientExecutionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientExecutionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("transient %s failure after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientExecutionError) Unwrap() error { return e.Err }

// NewTransient marks err as retryable.
func NewTransient(op string, err error) *TransientExecutionError {
	return &TransientExecutionError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientExecutionError.
func IsTransient(err error) bool {
	var te *TransientExecutionError
	return errors.As(err, &te)
}

// ConcurrencyConflictError means the configuration version moved under an optimistic write.
type ConcurrencyConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("configuration version conflict: expected %d, current %d", e.Expected, e.Actual)
}
