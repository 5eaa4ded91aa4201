package svcctl

import (
	"errors"
	"fmt"
)

// Common errors returned by lifecycle operations
var (
	// ErrAlreadyInstalled indicates a service with the same name already has a state record
	ErrAlreadyInstalled = errors.New("svcctl: already installed")

	// ErrNotInstalled indicates no state record exists for the service
	ErrNotInstalled = errors.New("svcctl: not installed")

	// ErrStillRunning indicates the service must be stopped before the operation
	ErrStillRunning = errors.New("svcctl: still running")

	// ErrPermission indicates the platform refused the operation for lack of privilege
	ErrPermission = errors.New("svcctl: permission denied")

	// ErrStateConflict indicates the service changed underneath the operation;
	// callers should re-query the status before retrying
	ErrStateConflict = errors.New("svcctl: state conflict")

	// ErrTimeout indicates an operation exceeded its timeout or grace period
	ErrTimeout = errors.New("svcctl: timeout")

	// ErrBackendUnavailable indicates no backend supports the current platform
	ErrBackendUnavailable = errors.New("svcctl: backend unavailable")

	// ErrInvalidName indicates a service name that cannot be mapped to a platform artifact
	ErrInvalidName = errors.New("svcctl: invalid service name")
)

// OpError represents an error from a lifecycle operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Name is the service the operation targeted
	Name string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("svcctl %s %q: %v", e.Op.String(), e.Name, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors, e.g. from removing several artifacts
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(m.Errors), m.Errors[0])
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Unwrap exposes the accumulated errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

func opErr(op Operation, name string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) && oe.Name == name {
		return err
	}
	return &OpError{Op: op, Name: name, Err: err}
}
