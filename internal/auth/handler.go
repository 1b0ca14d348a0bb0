package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

// Handler wires HTTP endpoints for token flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	limiter   func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance. loginsPerMinute bounds login
// attempts per client IP; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, loginsPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := func(next http.Handler) http.Handler { return next }
	if loginsPerMinute > 0 {
		limiter = httprate.Limit(loginsPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Throttled", "Request was throttled.")
			}),
		)
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), limiter: limiter}
}

// MountRoutes registers token routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.limiter).Post("/", h.obtain)
	r.Post("/refresh", h.refresh)
	r.Post("/revoke", h.revoke)
}

// LoginHandler serves the login endpoint, which also returns the account.
func (h *Handler) LoginHandler() http.Handler {
	return h.limiter(http.HandlerFunc(h.login))
}

type credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type accessResponse struct {
	Access string `json:"access"`
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		return httpx.NewError(httpx.ErrValidation, "%s", requiredFields(err))
	}
	return nil
}

func requiredFields(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	fields := make([]string, 0, len(errs))
	for _, fe := range errs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return strings.Join(fields, ", ") + ": This field is required."
}

func (h *Handler) obtain(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := h.decode(r, &creds); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		h.fail(w, "obtain token", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res.TokenPair)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := h.decode(r, &creds); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	access, err := h.service.Refresh(r.Context(), req.Refresh)
	if err != nil {
		h.fail(w, "refresh token", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accessResponse{Access: access})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Revoke(r.Context(), req.Refresh); err != nil {
		h.fail(w, "revoke token", err)
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
