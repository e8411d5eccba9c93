package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/auth-platform/platform/api-gateway/internal/config"
	"github.com/auth-platform/platform/api-gateway/internal/observability"
	"github.com/auth-platform/platform/api-gateway/internal/routes"
)

// NewRouter assembles the HTTP surface: health, metrics, admin, and the
// proxy pipeline for everything else.
func NewRouter(cfg *config.Config, manager *routes.Manager, pipeline *Pipeline, admin *Admin, metrics *observability.Metrics, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(recoverJSON(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		if !manager.Ready(req.Context()) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler())
	}

	r.Route("/admin", admin.Mount)

	r.NotFound(pipeline.ServeHTTP)
	r.MethodNotAllowed(pipeline.ServeHTTP)

	return r
}

// recoverJSON turns handler panics into the gateway's JSON error shape.
func recoverJSON(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("request handler panicked",
						slog.String("path", r.URL.Path),
						slog.Any("panic", rec))
					writeError(w, http.StatusInternalServerError,
						"Internal Server Error", "Unexpected error handling request")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
