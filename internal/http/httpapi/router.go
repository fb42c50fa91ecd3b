package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"omnidownloader/internal/http/handlers"
	"omnidownloader/internal/middleware"
)

type Options struct {
	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitPerMin    int
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// friends. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

func NewRouter(app *handlers.App, logger zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/jobs", func(r chi.Router) {
		r.With(
			middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
			middleware.OptionalJWT(opts.JWTSecret),
		).Post("/", app.CreateJob)
		r.Get("/{jobId}", app.GetJob)
		r.Get("/{jobId}/artifact", app.DownloadArtifact)
	})

	r.Route("/owners/{owner}/jobs", func(r chi.Router) {
		r.Get("/", app.ListOwnerJobs)
		r.Get("/export.xlsx", app.ExportOwnerJobs)
	})

	return r
}
