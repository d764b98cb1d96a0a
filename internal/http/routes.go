// Package http arma el router del servicio y el ciclo de vida del server.
package http

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/vendhub/internal/auth"
	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	"github.com/dropDatabas3/vendhub/internal/http/cookieutil"
	"github.com/dropDatabas3/vendhub/internal/http/handlers"
	"github.com/dropDatabas3/vendhub/internal/http/middlewares"
	"github.com/dropDatabas3/vendhub/internal/rate"
	"github.com/dropDatabas3/vendhub/internal/tenant"
)

// RouterConfig agrupa las dependencias del router.
type RouterConfig struct {
	Tenants  *tenant.Resolver
	Gate     *auth.Gate
	Svc      *auth.Rotator
	Provider cp.Provider
	Cookies  cookieutil.Config

	// LoginLimiter limita login/refresh por IP. Puede ser nil (sin límite).
	LoginLimiter rate.Limiter

	// Metrics es el handler de /metrics; nil lo deshabilita.
	Metrics stdhttp.Handler
}

// NewRouter arma todas las rutas del servicio.
func NewRouter(cfg RouterConfig) stdhttp.Handler {
	r := chi.NewRouter()

	base := []middlewares.Middleware{
		middlewares.WithRequestID(),
		middlewares.WithLogging(),
		middlewares.WithRecover(),
		WithHTTPMetrics(func(req *stdhttp.Request) string {
			if rc := chi.RouteContext(req.Context()); rc != nil {
				return rc.RoutePattern()
			}
			return ""
		}),
	}
	r.Use(func(next stdhttp.Handler) stdhttp.Handler {
		return middlewares.Chain(next, base...)
	})

	limited := middlewares.WithRateLimit(cfg.LoginLimiter)
	requireAuth := middlewares.RequireAuth(cfg.Gate, cfg.Cookies)

	r.Get("/healthz", handlers.NewHealthzHandler())
	r.Get("/readyz", handlers.NewReadyzHandler(cfg.Provider))
	if cfg.Metrics != nil {
		r.Method(stdhttp.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/v1/auth", func(r chi.Router) {
		r.Method(stdhttp.MethodPost, "/login",
			middlewares.ChainFunc(handlers.NewLoginHandler(cfg.Tenants, cfg.Svc, cfg.Cookies), limited))
		r.Method(stdhttp.MethodPost, "/refresh",
			middlewares.ChainFunc(handlers.NewRefreshHandler(cfg.Tenants, cfg.Svc, cfg.Cookies), limited))

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", handlers.NewMeHandler())
			r.Get("/session", handlers.NewSessionHandler(cfg.Svc))
			r.Post("/logout", handlers.NewLogoutHandler(cfg.Svc, cfg.Cookies))
			r.Post("/logout-all", handlers.NewLogoutAllHandler(cfg.Svc, cfg.Cookies))
		})
	})

	return r
}
