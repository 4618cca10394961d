// Package httptransport assembles the public HTTP surface: platform
// middleware, operational endpoints and the feature handlers.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pipay/internal/platform/config"
	"pipay/internal/platform/metrics"
	"pipay/internal/platform/middleware"
	"pipay/pkg/platform/httputil"
	"pipay/pkg/platform/middleware/metadata"
	"pipay/pkg/platform/middleware/requesttime"
)

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Backend is the store view the operational endpoints need.
type Backend interface {
	Backend() string
	Ping(ctx context.Context) error
}

// Deps are the collaborators owned by main.
type Deps struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Store    Backend
	// Modes reports the resolved verifier strategies in /_debug/env.
	Modes  map[string]string
	Routes []Registrar
}

// NewRouter wires every endpoint behind the shared middleware stack.
func NewRouter(cfg config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))
	r.Use(middleware.CORS(cfg.Server.CORSOrigin))

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		r.Use(middleware.ContentTypeJSON)

		r.Get("/health", health(deps.Store))
		r.Get("/_debug/env", debugEnv(cfg, deps))
		for _, route := range deps.Routes {
			route.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Backend string `json:"backend"`
}

func health(store Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, healthResponse{OK: true, Backend: store.Backend()})
	}
}

// debugEnv reports which features are configured. Secrets are reduced to
// presence flags.
func debugEnv(cfg config.Config, deps Deps) http.HandlerFunc {
	body := map[string]any{
		"strictVerify":       cfg.Verify.Strict,
		"piApiBaseSet":       cfg.Verify.APIBase != "",
		"piApiSecretSet":     cfg.Verify.APISecret != "",
		"jwtSecretSet":       cfg.Verify.JWTSecret != "",
		"webhookSecretSet":   cfg.Verify.WebhookSecret != "",
		"storeBackend":       cfg.Store.PreferredBackend(),
		"databaseUrlSet":     cfg.Store.DatabaseURL != "",
		"redisSet":           cfg.Redis.URL != "",
		"kafkaBrokersSet":    len(cfg.Kafka.Brokers) > 0,
		"confirmOneShot":     cfg.Payments.ConfirmOneShot,
		"adminConfigured":    cfg.Admin.Configured(),
		"corsOrigin":         cfg.Server.CORSOrigin,
		"activeStoreBackend": deps.Store.Backend(),
	}
	for k, v := range deps.Modes {
		body[k] = v
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, body)
	}
}
