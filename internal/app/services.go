package app

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-rbac/internal/auth"
	"github.com/odyssey-erp/odyssey-rbac/internal/observability"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// ServicesParams groups what the domain services are built from. Redis and
// Metrics are optional: without Redis there is no permission cache and no
// refresh-token revocation.
type ServicesParams struct {
	Repo    rbac.Repository
	Redis   *redis.Client
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Services is the wired domain layer shared by the server, worker and CLI.
type Services struct {
	RBAC       *rbac.Service
	Evaluator  *rbac.Evaluator
	Reconciler *rbac.Reconciler
	Auth       *auth.Service
	Middleware rbac.Middleware
}

// NewServices wires the domain services.
func NewServices(p ServicesParams) *Services {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := p.Config
	if cfg == nil {
		cfg = &Config{}
	}

	var (
		cache   rbac.PermissionCache
		revoked auth.RevocationStore
	)
	if p.Redis != nil {
		cache = rbac.NewRedisPermissionCache(p.Redis, cfg.PermissionCacheTTL)
		revoked = auth.NewRedisRevocationStore(p.Redis)
	}
	var recorder rbac.DecisionRecorder
	if p.Metrics != nil {
		recorder = p.Metrics
	}

	evaluator := rbac.NewEvaluator(p.Repo, cache, recorder, logger)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	return &Services{
		RBAC:       rbac.NewService(p.Repo, cache, logger),
		Evaluator:  evaluator,
		Reconciler: rbac.NewReconciler(p.Repo, cache, logger),
		Auth:       auth.NewService(p.Repo, tokens, revoked, logger),
		Middleware: rbac.Middleware{Evaluator: evaluator, Logger: logger},
	}
}
