package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter mounts the operator routes under /v1.
func NewRouter(h *Handler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", h.healthz)
		r.Post("/reconcile", h.reconcile)
		r.Route("/endpoints/{id}", func(r chi.Router) {
			r.Post("/check", h.checkNow)
			r.Post("/activate", h.activate)
			r.Post("/deactivate", h.deactivate)
			r.Get("/metrics", h.listMetrics)
			r.Get("/alerts", h.listAlerts)
		})
	})

	return otelhttp.NewHandler(r, "admin",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
