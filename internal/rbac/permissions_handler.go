package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

// PermissionsHandler exposes the permission resource and the authorization check.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	evaluator *Evaluator
	rbac      Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, evaluator *Evaluator, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, evaluator: evaluator, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermPermissionView)).Get("/", h.list)
	r.With(h.rbac.RequireAny(shared.PermPermissionCreate)).Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermPermissionView)).Get("/", h.get)
		r.With(h.rbac.RequireAny(shared.PermPermissionUpdate)).Put("/", h.replace)
		r.With(h.rbac.RequireAny(shared.PermPermissionUpdate)).Patch("/", h.patch)
		r.With(h.rbac.RequireAny(shared.PermPermissionDelete)).Delete("/", h.delete)
	})
}

// MountCheck registers the authorization check endpoint.
func (h *PermissionsHandler) MountCheck(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermPermissionView)).Get("/check", h.check)
}

func (h *PermissionsHandler) list(w http.ResponseWriter, r *http.Request) {
	shared.RespondPage(w, r, func(ctx context.Context, limit, offset int) ([]Permission, int, error) {
		return h.service.ListPermissions(ctx, ListParams{Limit: limit, Offset: offset})
	})
}

func (h *PermissionsHandler) create(w http.ResponseWriter, r *http.Request) {
	var in PermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), in)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *PermissionsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, "get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *PermissionsHandler) replace(w http.ResponseWriter, r *http.Request) {
	var in PermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in = normalizePermissionInput(in)
	if err := validateStruct(h.service.validate, in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.update(w, r, PermissionPatch{Name: &in.Name, Codename: &in.Codename, Description: &in.Description})
}

func (h *PermissionsHandler) patch(w http.ResponseWriter, r *http.Request) {
	var patch PermissionPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.update(w, r, patch)
}

func (h *PermissionsHandler) update(w http.ResponseWriter, r *http.Request, patch PermissionPatch) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, patch)
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *PermissionsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	httpx.NoContent(w)
}

type checkResponse struct {
	User     int64  `json:"user"`
	Codename string `json:"codename"`
	Allowed  bool   `json:"allowed"`
}

func (h *PermissionsHandler) check(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.QueryID(r, "user")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	codename := strings.TrimSpace(r.URL.Query().Get("codename"))
	fields := map[string]string{}
	if userID == 0 {
		fields["user"] = "This field is required."
	}
	if codename == "" {
		fields["codename"] = "This field is required."
	}
	if len(fields) > 0 {
		httpx.RespondError(w, &ValidationError{Fields: fields})
		return
	}
	allowed, err := h.evaluator.HasPermission(r.Context(), userID, codename)
	if err != nil {
		h.fail(w, "authz check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{User: userID, Codename: codename, Allowed: allowed})
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, op string, err error) {
	logServerError(h.logger, op, err)
	httpx.RespondError(w, err)
}

// logServerError logs errors outside the client-error taxonomy.
func logServerError(logger *slog.Logger, op string, err error) {
	if logger == nil || IsClientError(err) {
		return
	}
	logger.Error(op, slog.Any("error", err))
}
