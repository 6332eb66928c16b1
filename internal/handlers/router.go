package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bazaar-market/ledger/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath       string
	middlewares    []func(http.Handler) http.Handler
	apiMiddlewares []func(http.Handler) http.Handler
	health         *HealthHandlers
	metrics        http.Handler

	orders   RouteRegistrar
	payments RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api"
	defaultTimeout   = 60 * time.Second
)

// NewRouter constructs the chi router with shared middleware and the ledger route groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.middlewares = append(cfg.middlewares, middleware.Timeout(defaultTimeout))

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(http.StatusNotFound, fmt.Sprintf("Route %s not found", req.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed on %s", req.Method, req.URL.Path)))
	})

	r.Get("/health", cfg.health.Health)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(cfg.basePath, func(api chi.Router) {
		mount := func(path string, registrar RouteRegistrar, name string) {
			api.Route(path, func(group chi.Router) {
				for _, mw := range cfg.apiMiddlewares {
					if mw != nil {
						group.Use(mw)
					}
				}
				if registrar != nil {
					registrar(group)
					return
				}
				registerUnavailable(group, name)
			})
		}

		mount("/orders", cfg.orders, "orders")
		mount("/payments", cfg.payments, "payments")
	})

	return r
}

// WithMiddlewares appends global middleware. They run after the request id and before the
// request timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithAPIMiddlewares configures middleware applied to every group under /api, typically
// authentication.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.apiMiddlewares = append(cfg.apiMiddlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /health and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithMetricsHandler exposes the handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.metrics = h
	}
}

// WithOrderRoutes configures the registrar responsible for order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orders = reg
	}
}

// WithPaymentRoutes configures the registrar responsible for payment endpoints.
func WithPaymentRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.payments = reg
	}
}

func registerUnavailable(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(http.StatusServiceUnavailable, fmt.Sprintf("%s routes are not configured", name)))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
}
