package rbac

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), false)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), true)
}

func (m Middleware) require(required []string, matchAll bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrNotAuthenticated)
				return
			}
			decision, err := m.Evaluator.Decide(r.Context(), principal.UserID, required, matchAll)
			if err != nil {
				if IsNotFound(err) {
					// the token outlived its user
					httpx.RespondError(w, shared.ErrNotAuthenticated)
					return
				}
				if m.Logger != nil {
					m.Logger.Error("rbac authorize", slog.Int64("user_id", principal.UserID), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if !decision.Allowed {
				httpx.RespondError(w, forbidden(decision, required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelfOrStaff lets the request through when the URL parameter names
// the caller or the caller is staff.
func (m Middleware) RequireSelfOrStaff(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrNotAuthenticated)
				return
			}
			if principal.IsStaff {
				next.ServeHTTP(w, r)
				return
			}
			id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
			if err != nil || id != principal.UserID {
				httpx.RespondError(w, httpx.NewError(ErrForbidden, "You do not have permission to perform this action."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forbidden(d Decision, required []string) error {
	if d.Inactive {
		return httpx.NewError(ErrForbidden, "User account is disabled.")
	}
	missing := d.Missing
	if len(missing) == 0 {
		missing = required
	}
	return httpx.NewError(ErrForbidden, "You do not have '%s' permission to perform this action.", missing[0])
}

// normalizePermissions trims, drops blanks and returns the sorted unique set.
// Codenames are case sensitive.
func normalizePermissions(perms []string) []string {
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	slices.Sort(normalized)
	return slices.Compact(normalized)
}
