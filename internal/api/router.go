package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/PQContinuum/PQ-Frontend-sub000/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Memory handlers
	GetContext      http.HandlerFunc
	ExtractFacts    http.HandlerFunc
	ListFacts       http.HandlerFunc
	DeleteFact      http.HandlerFunc
	DeleteAllFacts  http.HandlerFunc
	InvalidateCache http.HandlerFunc

	// Conversation handlers
	AppendTurn http.HandlerFunc
	ListTurns  http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	ExtractRateLimiter func(http.Handler) http.Handler
	// Checks are run by /health/ready, keyed by dependency name.
	// A nil check marks the dependency as not configured.
	Checks map[string]HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for name, check := range cfg.Checks {
			switch {
			case check == nil:
				health[name] = "not configured"
			case check(r.Context()) != nil:
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			default:
				health[name] = "healthy"
			}
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Route("/memory", func(r chi.Router) {
			r.Get("/context", h.GetContext)

			r.Group(func(r chi.Router) {
				if cfg.ExtractRateLimiter != nil {
					r.Use(cfg.ExtractRateLimiter)
				}
				r.Post("/extract", h.ExtractFacts)
			})

			r.Route("/facts", func(r chi.Router) {
				r.Get("/", h.ListFacts)
				r.Delete("/", h.DeleteAllFacts)
				r.Delete("/{factID}", h.DeleteFact)
			})

			r.Delete("/cache", h.InvalidateCache)
		})

		r.Route("/conversations/{conversationID}/turns", func(r chi.Router) {
			r.Get("/", h.ListTurns)
			r.Post("/", h.AppendTurn)
		})
	})

	return r
}
