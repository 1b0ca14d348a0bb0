package roles

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

// Handler manages role endpoints and the permission set of each role.
type Handler struct {
	logger     *slog.Logger
	service    *rbac.Service
	reconciler *rbac.Reconciler
	rbac       rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *rbac.Service, reconciler *rbac.Reconciler, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, reconciler: reconciler, rbac: rbac}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermRoleView)).Get("/", h.listRoles)
	r.With(h.rbac.RequireAny(shared.PermRoleCreate)).Post("/", h.createRole)
	r.Route("/{id}", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermRoleView)).Get("/", h.getRole)
		r.With(h.rbac.RequireAny(shared.PermRoleUpdate)).Put("/", h.replaceRole)
		r.With(h.rbac.RequireAny(shared.PermRoleUpdate)).Patch("/", h.patchRole)
		r.With(h.rbac.RequireAny(shared.PermRoleDelete)).Delete("/", h.deleteRole)

		r.With(h.rbac.RequireAny(shared.PermRolePermissionView)).Get("/permissions", h.listPermissions)
		r.With(h.rbac.RequireAny(shared.PermRolePermissionUpdate)).Put("/permissions", h.reconcilePermissions)
		r.With(h.rbac.RequireAny(shared.PermRolePermissionDelete)).Delete("/permissions/{permissionID}", h.detachPermission)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	shared.RespondPage(w, r, func(ctx context.Context, limit, offset int) ([]rbac.Role, int, error) {
		return h.service.ListRoles(ctx, rbac.ListParams{Limit: limit, Offset: offset})
	})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.RoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), in)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) replaceRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.RoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.Name == "" {
		httpx.RespondError(w, &rbac.ValidationError{Fields: map[string]string{"name": "This field is required."}})
		return
	}
	h.updateRole(w, r, rbac.RolePatch{Name: &in.Name, Description: &in.Description})
}

func (h *Handler) patchRole(w http.ResponseWriter, r *http.Request) {
	var patch rbac.RolePatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.updateRole(w, r, patch)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request, patch rbac.RolePatch) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, patch)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	httpx.NoContent(w)
}

type permissionSet struct {
	Role        int64   `json:"role"`
	Permissions []int64 `json:"permissions"`
}

type permissionSetRequest struct {
	Permissions []int64 `json:"permissions"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.service.PermissionsOfRole(r.Context(), id)
	if err != nil {
		h.fail(w, "list role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, permissionSet{Role: id, Permissions: perms})
}

func (h *Handler) reconcilePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req permissionSetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Permissions == nil {
		httpx.RespondError(w, &rbac.ValidationError{Fields: map[string]string{"permissions": "This field is required."}})
		return
	}
	res, err := h.reconciler.ReconcileRolePermissions(r.Context(), id, req.Permissions)
	if err != nil {
		h.fail(w, "reconcile role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) detachPermission(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	permissionID, err := shared.IDParam(r, "permissionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Detach(r.Context(), id, permissionID); err != nil {
		h.fail(w, "detach permission", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
