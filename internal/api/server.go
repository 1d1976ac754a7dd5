package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/opencirc/noticesvc/internal/api/handler"
	"github.com/opencirc/noticesvc/internal/config"
	"github.com/opencirc/noticesvc/internal/db"
	"github.com/opencirc/noticesvc/internal/notices"
)

// NewRouter creates and configures the Chi router with all middleware and
// routes.
func NewRouter(pool *db.Pool, processor *notices.Processor, scheduler *notices.Scheduler,
	repo notices.Repository, cfg *config.Config, logger *slog.Logger) *chi.Mux {

	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(pool, processor, scheduler, repo, logger)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// Scheduled notice queue and sweep triggers. The process endpoint is
	// what an external cron caller hits; the sweeper invokes the same
	// processor in-process.
	r.Route("/scheduled-notices", func(r chi.Router) {
		r.Get("/", h.ListNotices)
		r.Post("/{flavor}/process", h.ProcessSweep)
	})

	// Lifecycle event intake, called from circulation after-effects
	// (checkout, renewal, recall, check-in, fee/fine charge, requests).
	r.Route("/notice-lifecycle", func(r chi.Router) {
		r.Post("/anchor-established", h.AnchorEstablished)
		r.Post("/anchor-changed", h.AnchorChanged)
		r.Post("/owner-invalidated", h.OwnerInvalidated)
	})

	return r
}
