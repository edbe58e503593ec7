// Package api exposes the data source over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"pagequery/internal/datasource"
	"pagequery/internal/domain"
	"pagequery/internal/middleware"
)

// Handler serves the /v1 API.
type Handler struct {
	ds      *datasource.DataSource
	history domain.HistoryRepository
	logger  *slog.Logger
}

// NewHandler creates a Handler. history may be nil, in which case the history
// endpoint returns an empty list.
func NewHandler(ds *datasource.DataSource, history domain.HistoryRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ds: ds, history: history, logger: logger}
}

// RouterConfig holds the cross-cutting HTTP settings.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimit      *middleware.RateLimitConfig
	Auth           middleware.TokenValidator
}

// NewRouter mounts h with request ids, recovery, CORS, optional rate
// limiting and optional bearer auth on /v1.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", h.Health)
	r.Get("/hello", h.Hello)

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(middleware.BearerAuth(cfg.Auth, h.logger))
		}
		if cfg.RateLimit != nil {
			r.Use(middleware.RateLimiter(*cfg.RateLimit))
		}
		h.Routes(r)
	})
	return r
}

// Routes registers the /v1 endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/query", h.Query)
	r.Post("/cancel", h.Cancel)
	r.Get("/databases", h.Databases)
	r.Post("/tables", h.Tables)
	r.Post("/measures", h.Measures)
	r.Post("/variables", h.Variables)
	r.Get("/history", h.History)
}

// Health reports whether the backend answers queries.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	res := h.ds.CheckHealth(r.Context())
	code := http.StatusOK
	if res.Status != datasource.HealthOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Hello is a liveness probe that never touches the backend.
func (h *Handler) Hello(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello"})
}
