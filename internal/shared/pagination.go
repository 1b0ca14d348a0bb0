package shared

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when page_size is absent or invalid.
	DefaultPageSize = 20
	// MaxPageSize caps page_size.
	MaxPageSize = 100
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	if perPage > MaxPageSize {
		perPage = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset returns the number of rows preceding the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Validate rejects pages past the end. The first page is always valid so an
// empty collection still lists.
func (p Pagination) Validate() error {
	if p.Page > 1 && p.Page > p.TotalPages {
		return ErrInvalidPage
	}
	return nil
}

// PageRequest is the caller's requested window before the total is known.
type PageRequest struct {
	Page    int
	PerPage int
}

// Limit returns the row limit for the request.
func (r PageRequest) Limit() int { return r.PerPage }

// Offset returns the row offset for the request.
func (r PageRequest) Offset() int { return (r.Page - 1) * r.PerPage }

// ParsePageRequest reads page and page_size query parameters. A malformed page
// number is an invalid page; a malformed size falls back to the default.
func ParsePageRequest(r *http.Request) (PageRequest, error) {
	q := r.URL.Query()
	req := PageRequest{Page: 1, PerPage: DefaultPageSize}
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return PageRequest{}, ErrInvalidPage
		}
		req.Page = page
	}
	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			req.PerPage = min(size, MaxPageSize)
		}
	}
	return req, nil
}

// Page is the list envelope returned by every collection endpoint.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// NewPage builds the envelope with absolute next/previous links derived from r.
func NewPage[T any](r *http.Request, p Pagination, results []T) Page[T] {
	if results == nil {
		results = []T{}
	}
	page := Page[T]{Count: p.Total, Results: results}
	if p.Page < p.TotalPages {
		next := pageURL(r, p.Page+1)
		page.Next = &next
	}
	if p.Page > 1 {
		prev := pageURL(r, p.Page-1)
		page.Previous = &prev
	}
	return page
}

func pageURL(r *http.Request, page int) string {
	u := url.URL{
		Scheme: requestScheme(r),
		Host:   r.Host,
		Path:   r.URL.Path,
	}
	q := r.URL.Query()
	if page <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
