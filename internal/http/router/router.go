package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nordpm/dashboard-api/internal/auth"
	"github.com/nordpm/dashboard-api/internal/config"
	"github.com/nordpm/dashboard-api/internal/database"
	"github.com/nordpm/dashboard-api/internal/http/handler"
	"github.com/nordpm/dashboard-api/internal/http/middleware"
)

type Router struct {
	cfg                *config.Config
	logger             *zap.Logger
	db                 *gorm.DB
	authMiddleware     *auth.Middleware
	rateLimiter        *middleware.RateLimiter
	projectHandler     *handler.ProjectHandler
	boqHandler         *handler.BOQHandler
	deliverableHandler *handler.DeliverableHandler
	documentHandler    *handler.DocumentHandler
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	projectHandler *handler.ProjectHandler,
	boqHandler *handler.BOQHandler,
	deliverableHandler *handler.DeliverableHandler,
	documentHandler *handler.DocumentHandler,
) *Router {
	return &Router{
		cfg:                cfg,
		logger:             logger,
		db:                 db,
		authMiddleware:     authMiddleware,
		rateLimiter:        rateLimiter,
		projectHandler:     projectHandler,
		boqHandler:         boqHandler,
		deliverableHandler: deliverableHandler,
		documentHandler:    documentHandler,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))
	r.Use(rt.rateLimiter.LimitByIP) // Apply IP-based rate limiting globally

	// Health check (basic liveness probe)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Database health check (readiness probe with detailed stats)
	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		stats, err := database.HealthCheckWithStats(rt.db)
		if err != nil {
			rt.logger.Error("Database health check failed", zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  "unhealthy",
				"error":   err.Error(),
				"service": "database",
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"service": "database",
			"stats": map[string]interface{}{
				"max_open_connections": stats.MaxOpenConnections,
				"open_connections":     stats.OpenConnections,
				"in_use":               stats.InUse,
				"idle":                 stats.Idle,
				"wait_count":           stats.WaitCount,
				"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
				"max_idle_closed":      stats.MaxIdleClosed,
				"max_lifetime_closed":  stats.MaxLifetimeClosed,
			},
		})
	})

	// Combined readiness check (checks all dependencies)
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]interface{})
		allHealthy := true

		// Check database
		if err := database.HealthCheck(rt.db); err != nil {
			rt.logger.Error("Database health check failed", zap.Error(err))
			checks["database"] = map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			}
			allHealthy = false
		} else {
			checks["database"] = map[string]interface{}{
				"status": "healthy",
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if allHealthy {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "healthy",
				"checks": checks,
			})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "unhealthy",
				"checks": checks,
			})
		}
	})

	// API v1 routes (all protected)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.authMiddleware.Authenticate)
		r.Use(rt.rateLimiter.Limit) // user-based limits once authenticated

		// Projects
		r.Route("/projects/{projectId}", func(r chi.Router) {
			r.Get("/", rt.projectHandler.GetDetails)
			r.Post("/boq/sessions", rt.boqHandler.OpenSession)
			r.Post("/deliverables/sessions", rt.deliverableHandler.OpenSession)
		})

		// BOQ edit sessions
		r.Route("/boq/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", rt.boqHandler.GetSession)
			r.Post("/items", rt.boqHandler.AddItem)
			r.Put("/items/{itemId}", rt.boqHandler.UpdateItem)
			r.Delete("/items/{itemId}", rt.boqHandler.DeleteItem)
			r.Post("/save", rt.boqHandler.Save)
		})

		// Deliverable edit sessions
		r.Route("/deliverables/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", rt.deliverableHandler.GetSession)
			r.Post("/items", rt.deliverableHandler.AddItem)
			r.Put("/items/{itemId}", rt.deliverableHandler.UpdateItem)
			r.Delete("/items/{itemId}", rt.deliverableHandler.DeleteItem)
			r.Post("/items/{itemId}/invoice", rt.deliverableHandler.SubmitInvoice)
			r.Put("/items/{itemId}/progress", rt.deliverableHandler.UpdateProgress)
			r.Post("/save", rt.deliverableHandler.Save)
		})

		// Evidence documents
		r.Route("/deliverables/{deliverableId}/documents", func(r chi.Router) {
			r.Post("/", rt.documentHandler.Upload)
			r.Get("/", rt.documentHandler.List)
		})
	})

	return r
}
