package util

import (
	"errors"
	"fmt"
)

// ValidationError is returned when input is rejected at a boundary.
// Nothing is ever silently clamped or corrected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RecoverableError marks a transient fault the detection loop retries.
type RecoverableError struct {
	Op  string
	Err error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RecoverableError) Unwrap() error {
	return e.Err
}

// Recoverable wraps err as a RecoverableError. A nil err stays nil.
func Recoverable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Op: op, Err: err}
}

// FatalSetupError means the interface could not be brought into scan mode.
// It is the only error class that changes the reported interface health.
type FatalSetupError struct {
	Interface string
	Err       error
}

func (e *FatalSetupError) Error() string {
	return fmt.Sprintf("interface %s setup failed: %v", e.Interface, e.Err)
}

func (e *FatalSetupError) Unwrap() error {
	return e.Err
}

// FatalSetup wraps err as a FatalSetupError. A nil err stays nil.
func FatalSetup(iface string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalSetupError{Interface: iface, Err: err}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsRecoverable reports whether err is or wraps a RecoverableError.
func IsRecoverable(err error) bool {
	var target *RecoverableError
	return errors.As(err, &target)
}

// IsFatalSetup reports whether err is or wraps a FatalSetupError.
func IsFatalSetup(err error) bool {
	var target *FatalSetupError
	return errors.As(err, &target)
}

// WrapError wraps an error with additional context.
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
