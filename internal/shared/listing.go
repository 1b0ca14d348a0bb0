package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

// ListFunc fetches one window of a collection together with the collection size.
type ListFunc[T any] func(ctx context.Context, limit, offset int) ([]T, int, error)

// RespondPage parses page parameters, fetches the window and writes the list
// envelope. Pages past the end are rejected after the total is known.
func RespondPage[T any](w http.ResponseWriter, r *http.Request, fetch ListFunc[T]) {
	req, err := ParsePageRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, total, err := fetch(r.Context(), req.Limit(), req.Offset())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p := NewPagination(req.Page, req.PerPage, total)
	if err := p.Validate(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewPage(r, p, items))
}

// IDParam parses a positive integer URL parameter. Anything else cannot name
// a record, so it is reported as not found.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.NewError(httpx.ErrNotFound, "Not found.")
	}
	return id, nil
}

// QueryID parses an optional positive integer query filter. Absent means 0.
func QueryID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.NewError(httpx.ErrValidation, "%s: Enter a whole number.", name)
	}
	return id, nil
}
