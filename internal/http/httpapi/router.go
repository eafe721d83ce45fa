package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"docify/internal/http/handlers"
	"docify/internal/middleware"
)

// Options configures the router middleware stack.
type Options struct {
	Logger          zerolog.Logger
	Origins         []string
	Locales         *middleware.Locales
	CountryLookup   middleware.CountryLookup
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// NewRouter wires every route onto a chi mux.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	if opts.Locales == nil {
		opts.Locales = middleware.NewLocales(middleware.DefaultLocales)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.Origins),
		middleware.I18N(opts.Locales, opts.CountryLookup),
	)

	r.Get("/health", app.Health)

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimitMax > 0 && opts.RateLimitWindow > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitMax, opts.RateLimitWindow))
		}

		r.Get("/health", app.Health)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)
		r.Get("/tools", app.ListTools)
		r.Get("/ws", app.Events)

		r.Post("/upload", app.Upload)
		r.Post("/process/{tool}", app.Process)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.Get("/{jobId}", app.JobStatus)
			r.Get("/{jobId}/download", app.DownloadJob)
			r.Delete("/{jobId}", app.DeleteJob)
		})
	})

	return r
}
