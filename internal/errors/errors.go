package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Base error types
var (
	ErrDuplicateName    = errors.New("duplicate environment name")
	ErrConflictingModes = errors.New("conflicting operating modes")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrConnectionFailed = errors.New("connection failed")
)

// ErrorKind represents the category of error
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindConnection ErrorKind = "connection"
	KindAuth       ErrorKind = "auth"
	KindAPI        ErrorKind = "api"
	KindDelivery   ErrorKind = "delivery"
)

// NoIndex marks an ExporterError that is not tied to a configuration entry.
const NoIndex = -1

// ExporterError is a structured error for startup and polling operations.
type ExporterError struct {
	Kind        ErrorKind
	Op          string // Operation that failed (e.g., "test_connection", "list_applications")
	Environment string // Environment name where error occurred
	Index       int    // Ordinal position of the environment in configuration, or NoIndex
	StatusCode  int    // HTTP status code if applicable
	Err         error
}

func (e *ExporterError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" failed")
	switch {
	case e.Environment != "" && e.Index != NoIndex:
		fmt.Fprintf(&b, " for environment '%s' (environment[%d])", e.Environment, e.Index)
	case e.Environment != "":
		fmt.Fprintf(&b, " for environment '%s'", e.Environment)
	case e.Index != NoIndex:
		fmt.Fprintf(&b, " for environment[%d]", e.Index)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExporterError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ExporterError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrUnauthorized, ErrForbidden:
		if e.Kind == KindAuth {
			return true
		}
	case ErrConnectionFailed:
		if e.Kind == KindConnection {
			return true
		}
	}

	return errors.Is(e.Err, target)
}

// New creates an ExporterError without environment context.
func New(kind ErrorKind, op string, err error) *ExporterError {
	return &ExporterError{Kind: kind, Op: op, Index: NoIndex, Err: err}
}

// ForEnvironment creates an ExporterError scoped to a named environment.
func ForEnvironment(kind ErrorKind, op, environment string, index int, err error) *ExporterError {
	return &ExporterError{Kind: kind, Op: op, Environment: environment, Index: index, Err: err}
}

// WithStatusCode adds HTTP status code to the error and reclassifies
// 401/403 responses as auth failures.
func (e *ExporterError) WithStatusCode(code int) *ExporterError {
	e.StatusCode = code
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		e.Kind = KindAuth
	}
	return e
}

// IsConfigError reports whether err should be treated as a fatal configuration problem.
func IsConfigError(err error) bool {
	var exErr *ExporterError
	if errors.As(err, &exErr) {
		return exErr.Kind == KindConfig
	}
	return errors.Is(err, ErrDuplicateName) || errors.Is(err, ErrConflictingModes)
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var exErr *ExporterError
	if errors.As(err, &exErr) {
		if exErr.Kind == KindAuth {
			return true
		}
		if exErr.StatusCode == http.StatusUnauthorized || exErr.StatusCode == http.StatusForbidden {
			return true
		}
	}

	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
