// Package server provides the HTTP API for docgate.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/config"
	"github.com/hyperjump/docgate/internal/ingest"
	"github.com/hyperjump/docgate/internal/metrics"
	"github.com/hyperjump/docgate/internal/mutation"
	"github.com/hyperjump/docgate/internal/search"
	"github.com/hyperjump/docgate/internal/storage"
)

// Server is the HTTP server for the docgate API.
type Server struct {
	engine    *search.Engine
	mutations *mutation.Service
	pipeline  *ingest.Pipeline
	storage   storage.Storage
	config    *config.Config
	limiter   *ipRateLimiter
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	mutations *mutation.Service,
	pipeline *ingest.Pipeline,
	storage storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:    engine,
		mutations: mutations,
		pipeline:  pipeline,
		storage:   storage,
		config:    cfg,
		logger:    logger,
	}
	if rl := cfg.Server.RateLimit; rl.EnabledOrDefault() {
		s.limiter = newIPRateLimiter(rl.PerSecond, rl.Burst)
	}
	s.server = &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the router with all middleware and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.traceID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/searchforname", s.handleSearchForName)
		r.Post("/tabledata", s.handleTableData)

		r.Route("/common", func(r chi.Router) {
			r.Post("/create", s.handleCommonCreate)
			r.Put("/update", s.handleCommonUpdate)
			r.Delete("/delete", s.handleCommonDelete)
			r.Get("/unique-column-all", s.handleUniqueCategories)
			r.Get("/column-configs", s.handleColumnConfigs)
			r.Post("/column-configs/update", s.handleColumnConfigUpdate)
			r.Post("/column-configs/bulk-update", s.handleColumnConfigBulkUpdate)
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/create", s.handleProductCreate)
			r.Post("/list", s.handleProductList)
			r.Get("/count", s.handleProductCount)
			r.Get("/detail/{id}", s.handleProductDetail)
			r.Put("/update/{id}", s.handleProductUpdate)
			r.Delete("/remove/{id}", s.handleProductRemove)
			r.Post("/check-unique", s.handleProductCheckUnique)
			r.Get("/unique-column", s.handleProductUniqueColumn)
		})

		r.Route("/fileupload", func(r chi.Router) {
			r.Post("/upload-file", s.handleUploadFile)
			r.Post("/files", s.handleListFiles)
			r.Post("/files/delete", s.handleDeleteFile)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server. Start then returns http.ErrServerClosed.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
