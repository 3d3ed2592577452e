package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jewelshot/engine/internal/http/handlers"
	"github.com/jewelshot/engine/internal/middleware"
	"github.com/jewelshot/engine/internal/telemetry"
)

// NewRouter builds the engine's HTTP surface.
func NewRouter(app *handlers.App, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(allowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/metrics", telemetry.Handler().ServeHTTP)

	r.Route("/v1/batches", func(r chi.Router) {
		r.With(middleware.RateLimit(30, time.Minute)).Post("/", app.SubmitBatch)
		r.Get("/", app.ListBatches)
		r.Delete("/", app.ClearCompletedBatches)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetBatch)
			r.Delete("/", app.ClearBatch)
			r.Post("/pause", app.PauseBatch)
			r.Post("/resume", app.ResumeBatch)
			r.Post("/select", app.SelectBatch)
			r.Post("/cancel", app.CancelBatch)
		})
	})

	r.Route("/v1/poller", func(r chi.Router) {
		r.Get("/", app.PollerStatus)
		r.Post("/kick", app.KickPoller)
	})

	r.Get("/v1/events", app.StreamEvents)
	r.Get("/v1/credits/{userID}", app.CreditBalance)

	return r
}
