// internal/model/errors.go
package model

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrDeviceOpen       = errors.New("device open error")
	ErrDeviceIO         = errors.New("device io error")
	ErrDuplicateBinding = errors.New("duplicate binding")
	ErrUnknownBinding   = errors.New("unknown binding")
	ErrNotFound         = errors.New("not found")
)

// PortError carries the kind, the port path and the underlying cause
type PortError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *PortError) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (port %q)", msg, e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As
func (e *PortError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewValidationError creates a validation error with a message
func NewValidationError(msg string) error {
	return &PortError{Kind: ErrValidation, Err: errors.New(msg)}
}

// NewPortError creates a typed error for an operation on a path
func NewPortError(kind error, op, path string, err error) error {
	return &PortError{Kind: kind, Op: op, Path: path, Err: err}
}

// ErrorKind returns a short code for the error kind, used in host responses
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrDuplicateBinding):
		return "DUPLICATE_BINDING"
	case errors.Is(err, ErrUnknownBinding):
		return "UNKNOWN_BINDING"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrDeviceOpen):
		return "DEVICE_OPEN_ERROR"
	case errors.Is(err, ErrDeviceIO):
		return "DEVICE_IO_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
