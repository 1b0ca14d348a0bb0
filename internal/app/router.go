package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-rbac/internal/auth"
	"github.com/odyssey-erp/odyssey-rbac/internal/observability"
	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/roles"
	"github.com/odyssey-erp/odyssey-rbac/internal/users"
	"github.com/odyssey-erp/odyssey-rbac/jobs"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Services *Services
	Metrics  *observability.Metrics
	Jobs     *jobs.Handler
	Checks   map[string]HealthCheck
	// RequestLog enables chi's request logger.
	RequestLog bool
}

// NewRouter constructs the chi.Router serving /api/v1, /healthz and /metrics.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loginLimit := 0
	if params.Config != nil {
		loginLimit = params.Config.LoginRateLimit
	}
	svc := params.Services

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.RequestLog {
		r.Use(chimw.Logger)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "Not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed",
			`Method "`+r.Method+`" not allowed.`)
	})

	r.Get("/healthz", healthHandler(params.Checks, logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	authHandler := auth.NewHandler(logger, svc.Auth, loginLimit)
	usersHandler := users.NewHandler(users.Options{
		Logger:       logger,
		Service:      svc.RBAC,
		Evaluator:    svc.Evaluator,
		Reconciler:   svc.Reconciler,
		RBAC:         svc.Middleware,
		Authenticate: svc.Auth.Authenticator,
		Login:        authHandler.LoginHandler(),
	})
	rolesHandler := roles.NewHandler(logger, svc.RBAC, svc.Reconciler, svc.Middleware)
	permissionsHandler := rbac.NewPermissionsHandler(logger, svc.RBAC, svc.Evaluator, svc.Middleware)
	associationsHandler := rbac.NewAssociationsHandler(logger, svc.RBAC, svc.Middleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/token", authHandler.MountRoutes)
		r.Route("/users", usersHandler.MountRoutes)
		r.Group(func(r chi.Router) {
			r.Use(svc.Auth.Authenticator)
			r.Route("/roles", rolesHandler.MountRoutes)
			r.Route("/permissions", permissionsHandler.MountRoutes)
			r.Route("/authz", permissionsHandler.MountCheck)
			r.Route("/user-roles", associationsHandler.MountUserRoles)
			r.Route("/role-permissions", associationsHandler.MountRolePermissions)
			if params.Jobs != nil {
				r.Route("/jobs", params.Jobs.MountRoutes)
			}
		})
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Checks = make(map[string]string, len(checks))
			for name, check := range checks {
				if err := check(ctx); err != nil {
					logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
					resp.Checks[name] = "unavailable"
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		httpx.JSON(w, status, resp)
	}
}
