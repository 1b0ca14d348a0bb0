package shared

import "github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = httpx.NewError(httpx.ErrUnauthorized, "No active account found with the given credentials")
	// ErrNotAuthenticated indicates a request without usable credentials.
	ErrNotAuthenticated = httpx.NewError(httpx.ErrUnauthorized, "Authentication credentials were not provided.")
	// ErrInvalidPage is returned for page numbers outside the result set.
	ErrInvalidPage = httpx.NewError(httpx.ErrNotFound, "Invalid page.")
)
