package users

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger       *slog.Logger
	service      *rbac.Service
	evaluator    *rbac.Evaluator
	reconciler   *rbac.Reconciler
	rbac         rbac.Middleware
	authenticate func(http.Handler) http.Handler
	login        http.Handler
}

// Options groups the collaborators of Handler.
type Options struct {
	Logger     *slog.Logger
	Service    *rbac.Service
	Evaluator  *rbac.Evaluator
	Reconciler *rbac.Reconciler
	RBAC       rbac.Middleware
	// Authenticate guards every route except Login.
	Authenticate func(http.Handler) http.Handler
	// Login serves POST /login when set.
	Login http.Handler
}

// NewHandler builds Handler instance.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authenticate := opts.Authenticate
	if authenticate == nil {
		authenticate = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:       logger,
		service:      opts.Service,
		evaluator:    opts.Evaluator,
		reconciler:   opts.Reconciler,
		rbac:         opts.RBAC,
		authenticate: authenticate,
		login:        opts.Login,
	}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h.login != nil {
		r.Method(http.MethodPost, "/login", h.login)
	}
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.With(h.rbac.RequireAny(shared.PermUserView)).Get("/", h.listUsers)
		r.With(h.rbac.RequireAny(shared.PermUserCreate)).Post("/", h.createUser)

		r.Route("/{id}", func(r chi.Router) {
			r.With(h.rbac.RequireAny(shared.PermUserView)).Get("/", h.getUser)
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.RequireAny(shared.PermUserUpdate), h.rbac.RequireSelfOrStaff("id"))
				r.Put("/", h.replaceUser)
				r.Patch("/", h.patchUser)
			})
			r.With(h.rbac.RequireAny(shared.PermUserDelete)).Delete("/", h.deleteUser)
			r.With(h.rbac.RequireAny(shared.PermUserChangePassword), h.rbac.RequireSelfOrStaff("id")).
				Post("/change_password", h.changePassword)

			r.With(h.rbac.RequireAny(shared.PermUserRoleView)).Get("/roles", h.listRoles)
			r.With(h.rbac.RequireAny(shared.PermUserRoleUpdate)).Put("/roles", h.reconcileRoles)
			r.With(h.rbac.RequireAny(shared.PermUserRoleDelete)).Delete("/roles/{roleID}", h.revokeRole)
			r.With(h.rbac.RequireAny(shared.PermUserView), h.rbac.RequireSelfOrStaff("id")).
				Get("/permissions", h.effectivePermissions)
		})
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	shared.RespondPage(w, r, func(ctx context.Context, limit, offset int) ([]rbac.User, int, error) {
		return h.service.ListUsers(ctx, rbac.ListParams{Limit: limit, Offset: offset})
	})
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in rbac.UserInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.IsStaff = false
	user, err := h.service.CreateUser(r.Context(), in)
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	h.logger.Info("user created", slog.Int64("user_id", user.ID))
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) replaceUser(w http.ResponseWriter, r *http.Request) {
	var patch rbac.UserPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := patch.Complete(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.updateUser(w, r, patch)
}

func (h *Handler) patchUser(w http.ResponseWriter, r *http.Request) {
	var patch rbac.UserPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.updateUser(w, r, patch)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request, patch rbac.UserPatch) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if patch.IsActive != nil {
		// only staff may (de)activate accounts
		if p, _ := shared.PrincipalFromContext(r.Context()); !p.IsStaff {
			httpx.RespondError(w, httpx.NewError(rbac.ErrForbidden, "Only staff may change is_active."))
			return
		}
	}
	user, err := h.service.UpdateUser(r.Context(), id, patch)
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	httpx.NoContent(w)
}

type detailResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in rbac.PasswordChange
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), id, in); err != nil {
		h.fail(w, "change password", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detailResponse{Detail: "Password updated successfully."})
}

type roleSet struct {
	User  int64   `json:"user"`
	Roles []int64 `json:"roles"`
}

type roleSetRequest struct {
	Roles []int64 `json:"roles"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roles, err := h.service.RolesOfUser(r.Context(), id)
	if err != nil {
		h.fail(w, "list user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleSet{User: id, Roles: roles})
}

func (h *Handler) reconcileRoles(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req roleSetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Roles == nil {
		httpx.RespondError(w, &rbac.ValidationError{Fields: map[string]string{"roles": "This field is required."}})
		return
	}
	res, err := h.reconciler.ReconcileUserRoles(r.Context(), id, req.Roles)
	if err != nil {
		h.fail(w, "reconcile user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID, err := shared.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Revoke(r.Context(), id, roleID); err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	httpx.NoContent(w)
}

type permissionSet struct {
	User        int64    `json:"user"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.evaluator.EffectivePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, permissionSet{User: id, Permissions: perms})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
