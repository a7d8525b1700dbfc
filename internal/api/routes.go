package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"simgateway/internal/health"
	"simgateway/internal/job"
	"simgateway/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Repository    job.Repository
	Lifecycle     Lifecycle
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Repository, cfg.Lifecycle, cfg.HealthChecker)

	r := chi.NewRouter()

	// Middleware chain, outermost first
	r.Use(chimiddleware.RequestID)
	r.Use(Recoverer)
	r.Use(RequestLogger(cfg.Metrics))
	r.Use(CORS)
	r.Use(RequireJSON)

	// Health check endpoints (liveness/readiness probes) - no auth required
	r.Get("/livez", handler.Livez)
	r.Get("/readyz", handler.Readyz)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(cfg.APIKey))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", handler.CreateJob)
			r.Get("/", handler.ListJobs)
			r.Get("/{jobId}", handler.GetJob)
			r.Put("/{jobId}", handler.UpdateJob)
			r.Delete("/{jobId}", handler.DeleteJob)
		})

		r.Post("/setup/{jobId}", handler.Action(job.ActionSetup))
		r.Post("/run/{jobId}", handler.Action(job.ActionRun))
		r.Get("/progress/{jobId}", handler.Action(job.ActionProgress))
		r.Post("/cancel/{jobId}", handler.Action(job.ActionCancel))
		r.Get("/data/{jobId}", handler.Action(job.ActionData))
		r.Post("/status/{jobId}", handler.RefreshStatus)
	})

	return r
}
