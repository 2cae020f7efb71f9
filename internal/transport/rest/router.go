package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heartmarshall/bloodlink-backend/internal/config"
	"github.com/heartmarshall/bloodlink-backend/internal/transport/middleware"
)

// RouterDeps holds everything the HTTP router serves.
type RouterDeps struct {
	Log       *slog.Logger
	CORS      config.CORSConfig
	Health    *HealthHandler
	Requests  *RequestHandler
	Donors    *DonorHandler
	Inventory *InventoryHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Limiter rate-limits /api/v1 when set and RateLimitPerMinute > 0.
	Limiter            *middleware.RateLimiter
	RateLimitPerMinute int
}

// NewRouter builds the HTTP handler. Actor runs before Logger so request
// logs carry actor_id. Probes and metrics are not rate-limited.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(d.Log),
		middleware.CORS(d.CORS),
		middleware.Actor,
		middleware.Logger(d.Log),
	))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/live", d.Health.Live)
	r.Get("/ready", d.Health.Ready)
	r.Get("/health", d.Health.Health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if d.Limiter != nil && d.RateLimitPerMinute > 0 {
			r.Use(d.Limiter.Limit(d.RateLimitPerMinute))
		}
		d.Requests.Register(r)
		d.Donors.Register(r)
		d.Inventory.Register(r)
	})

	return r
}
