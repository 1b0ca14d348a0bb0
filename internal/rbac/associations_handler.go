package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

// AssociationsHandler exposes user-role and role-permission links as
// resources. Links are created and deleted, never updated.
type AssociationsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewAssociationsHandler builds AssociationsHandler instance.
func NewAssociationsHandler(logger *slog.Logger, service *Service, rbac Middleware) *AssociationsHandler {
	return &AssociationsHandler{logger: logger, service: service, rbac: rbac}
}

// MountUserRoles registers /user-roles routes.
func (h *AssociationsHandler) MountUserRoles(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermUserRoleView)).Get("/", h.listUserRoles)
	r.With(h.rbac.RequireAny(shared.PermUserRoleCreate)).Post("/", h.createUserRole)
	r.With(h.rbac.RequireAny(shared.PermUserRoleView)).Get("/{id}", h.getUserRole)
	r.With(h.rbac.RequireAny(shared.PermUserRoleDelete)).Delete("/{id}", h.deleteUserRole)
}

// MountRolePermissions registers /role-permissions routes.
func (h *AssociationsHandler) MountRolePermissions(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermRolePermissionView)).Get("/", h.listRolePermissions)
	r.With(h.rbac.RequireAny(shared.PermRolePermissionCreate)).Post("/", h.createRolePermission)
	r.With(h.rbac.RequireAny(shared.PermRolePermissionView)).Get("/{id}", h.getRolePermission)
	r.With(h.rbac.RequireAny(shared.PermRolePermissionDelete)).Delete("/{id}", h.deleteRolePermission)
}

type userRoleRequest struct {
	User int64 `json:"user" validate:"required,gt=0"`
	Role int64 `json:"role" validate:"required,gt=0"`
}

type rolePermissionRequest struct {
	Role       int64 `json:"role" validate:"required,gt=0"`
	Permission int64 `json:"permission" validate:"required,gt=0"`
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (h *AssociationsHandler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAssociationFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	shared.RespondPage(w, r, func(ctx context.Context, limit, offset int) ([]UserRole, int, error) {
		filter.ListParams = ListParams{Limit: limit, Offset: offset}
		return h.service.ListUserRoles(ctx, filter)
	})
}

func (h *AssociationsHandler) createUserRole(w http.ResponseWriter, r *http.Request) {
	var req userRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := validateStruct(h.service.validate, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ur, created, err := h.service.Grant(r.Context(), req.User, req.Role)
	if err != nil {
		h.fail(w, "grant role", err)
		return
	}
	httpx.JSON(w, createdStatus(created), ur)
}

func (h *AssociationsHandler) getUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ur, err := h.service.GetUserRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get user role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ur)
}

func (h *AssociationsHandler) deleteUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteUserRole(r.Context(), id); err != nil {
		h.fail(w, "delete user role", err)
		return
	}
	httpx.NoContent(w)
}

func (h *AssociationsHandler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAssociationFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	shared.RespondPage(w, r, func(ctx context.Context, limit, offset int) ([]RolePermission, int, error) {
		filter.ListParams = ListParams{Limit: limit, Offset: offset}
		return h.service.ListRolePermissions(ctx, filter)
	})
}

func (h *AssociationsHandler) createRolePermission(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := validateStruct(h.service.validate, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rp, created, err := h.service.Attach(r.Context(), req.Role, req.Permission)
	if err != nil {
		h.fail(w, "attach permission", err)
		return
	}
	httpx.JSON(w, createdStatus(created), rp)
}

func (h *AssociationsHandler) getRolePermission(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rp, err := h.service.GetRolePermission(r.Context(), id)
	if err != nil {
		h.fail(w, "get role permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rp)
}

func (h *AssociationsHandler) deleteRolePermission(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRolePermission(r.Context(), id); err != nil {
		h.fail(w, "delete role permission", err)
		return
	}
	httpx.NoContent(w)
}

func (h *AssociationsHandler) fail(w http.ResponseWriter, op string, err error) {
	logServerError(h.logger, op, err)
	httpx.RespondError(w, err)
}

func parseAssociationFilter(r *http.Request) (AssociationFilter, error) {
	var f AssociationFilter
	var err error
	if f.UserID, err = shared.QueryID(r, "user"); err != nil {
		return f, err
	}
	if f.RoleID, err = shared.QueryID(r, "role"); err != nil {
		return f, err
	}
	if f.PermissionID, err = shared.QueryID(r, "permission"); err != nil {
		return f, err
	}
	return f, nil
}
