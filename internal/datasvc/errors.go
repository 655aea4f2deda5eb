package datasvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoRows is returned by single-row queries that matched nothing.
	ErrNoRows = errors.New("datasvc: no rows")
	// ErrMultipleRows is returned by single-row queries that matched more than one row.
	ErrMultipleRows = errors.New("datasvc: multiple rows")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("datasvc: unique violation")
	// ErrInvalidQuery is returned for malformed queries, before any round trip.
	ErrInvalidQuery = errors.New("datasvc: invalid query")
)

// Remote error codes understood by every backend.
const (
	CodeNoRows          = "PGRST116"
	CodeUniqueViolation = "23505"
)

// Error is a failure reported by the data service.
type Error struct {
	Op      string
	Table   string
	Code    string
	Status  int
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("datasvc %s %s: %s (%s)", e.Op, e.Table, msg, e.Code)
	}
	return fmt.Sprintf("datasvc %s %s: %s", e.Op, e.Table, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps remote codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Code == CodeUniqueViolation
	}
	return false
}

// IsNotFound reports whether err means "no matching row".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoRows)
}

// IsConflict reports whether err is a unique-constraint violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Message returns the human readable part of err, suitable for showing to the acting user.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps err to the status a handler should answer with.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var de *Error
	if errors.As(err, &de) && de.Status >= 400 && de.Status < 500 {
		return de.Status
	}
	return http.StatusBadGateway
}
