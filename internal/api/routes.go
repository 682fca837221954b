package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sublate/sublate/internal/config"
	"github.com/sublate/sublate/internal/pipeline"
	"github.com/sublate/sublate/internal/storage/sqlite"
	"github.com/sublate/sublate/internal/websocket"
	"github.com/sublate/sublate/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	service *pipeline.Service,
	jobStorage *sqlite.JobStorage,
	subtitleStorage *sqlite.SubtitleStorage,
	wsServer *websocket.Server,
	config *config.Config,
	logger *logger.Logger,
) *Router {
	return &Router{
		handler:    NewHandler(service, jobStorage, subtitleStorage, wsServer, config, logger),
		middleware: NewMiddleware(logger),
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Job routes
		router.Post("/jobs", r.handler.CreateJob)
		router.Get("/jobs", r.handler.ListJobs)
		router.Get("/jobs/{id}", r.handler.GetJob)
		router.Post("/jobs/{id}/process", r.handler.ProcessJob)

		// Subtitle routes
		router.Get("/jobs/{id}/subtitles", r.handler.GetSubtitles)
		router.Get("/jobs/{id}/export", r.handler.ExportSRT)

		// WebSocket route
		router.Get("/ws", r.handler.HandleWebSocket)

		// Health check
		router.Get("/health", r.handler.GetHealth)

		// Configuration
		router.Get("/config", r.handler.GetConfig)
	})

	return router
}
