package client

import (
	"fmt"
	"net/http"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// APIError is a non-2xx response decoded from the problem body.
type APIError struct {
	Status int
	Detail string
	Fields map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, http.StatusText(e.Status), e.Detail)
}

// Unwrap maps the status back onto the error taxonomy.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return rbac.ErrValidation
	case http.StatusUnauthorized:
		return rbac.ErrUnauthorized
	case http.StatusForbidden:
		return rbac.ErrForbidden
	case http.StatusNotFound:
		return rbac.ErrNotFound
	case http.StatusConflict:
		return rbac.ErrDuplicateKey
	default:
		return nil
	}
}

// FieldErrors exposes per-field validation messages.
func (e *APIError) FieldErrors() map[string]string { return e.Fields }

// ErrNoSession is returned when a request needs credentials the session lacks.
var ErrNoSession = httpx.NewError(httpx.ErrUnauthorized, "no active session")

func newAPIError(status int, p *httpx.ProblemDetail) error {
	e := &APIError{Status: status}
	if p != nil {
		e.Detail = p.Detail
		e.Fields = p.Errors
	}
	if e.Detail == "" {
		e.Detail = http.StatusText(status)
	}
	return e
}
