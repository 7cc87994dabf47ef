package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/trace"

	"dmsdk/internal/config"
	"dmsdk/internal/infrastructure"
	"dmsdk/internal/license"
	"dmsdk/internal/middleware"
	ws "dmsdk/internal/websocket"
)

// Deps are the collaborators of the status server. Optional ones disable
// their routes when nil.
type Deps struct {
	Config  config.StatusConfig
	Session ConnectionChecker
	License *license.StatusRecorder
	Tracker UpdateTracker

	Hub      *ws.Hub
	Snapshot ws.SnapshotFunc

	Metrics     http.Handler
	HTTPMetrics *infrastructure.HTTPMetrics
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// NewRouter builds the status server routes.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.NewTelemetry(d.Tracer, d.HTTPMetrics).Handler)
	r.Use(middleware.StructuredLogger(d.Logger))
	r.Use(middleware.Recoverer(d.Logger))
	r.Use(middleware.SecurityHeaders)
	if d.Config.RateLimit.Enabled {
		r.Use(middleware.NewRateLimiter(d.Config.RateLimit.RPS, d.Config.RateLimit.Burst, d.Logger).Handler)
	}

	health := NewHealthHandler(d.Session, d.License, d.Logger)
	r.Get("/health", health.HealthCheck)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/license", NewLicenseHandler(d.License).GetStatus)

		if d.Tracker != nil {
			// Launcher calls are bounded by the write timeout so a stuck
			// launcher cannot hold the connection past it.
			timeout := d.Config.WriteTimeout - time.Second
			if timeout <= 0 {
				timeout = d.Config.WriteTimeout
			}
			r.Mount("/update", NewUpdateHandler(d.Tracker, timeout, d.Logger).Routes())
		}
	})

	if d.Hub != nil {
		r.Handle("/ws/update", ws.NewHandler(d.Hub, d.Config.WebSocket, d.Snapshot, d.Logger))
	}

	return r
}
