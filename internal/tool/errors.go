package tool

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DuplicateToolError is returned when a registration would overwrite an
// existing tool.
type DuplicateToolError struct {
	Name     string
	Source   string
	Existing string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q from %s collides with the tool registered by %s", e.Name, e.Source, e.Existing)
}

// UnknownToolError is returned when a name is not in the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ValidationError lists the constraints the arguments violate.
type ValidationError struct {
	Tool       string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Violations, "; "))
}

// ExecutionError wraps a fault raised by a tool.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TransportError wraps a fault talking to a remote tool backend.
type TransportError struct {
	Tool string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Tool, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError is returned when a call exceeds the per-call bound.
type TimeoutError struct {
	Tool  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Tool, e.After)
}

// CancelledError is returned when the caller gave up on a call.
type CancelledError struct {
	Tool string
	Err  error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Tool, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// Label returns the taxonomy label of a dispatch error.
func Label(err error) string {
	var (
		validation *ValidationError
		unknown    *UnknownToolError
		exec       *ExecutionError
		transport  *TransportError
		timeout    *TimeoutError
		cancelled  *CancelledError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return "validation error"
	case errors.As(err, &unknown):
		return "unknown tool"
	case errors.As(err, &timeout):
		return "tool timeout"
	case errors.As(err, &transport):
		return "tool transport error"
	case errors.As(err, &cancelled):
		return "tool cancelled"
	case errors.As(err, &exec):
		return "tool execution error"
	default:
		return "tool error"
	}
}
