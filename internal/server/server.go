// Package server provides the HTTP API for docqa.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/docqa/internal/config"
	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/pkg/utils"
)

// Indexer is the write side used by the sync and document endpoints.
type Indexer interface {
	Sync(ctx context.Context, dir string) (*models.SyncReport, error)
	UpsertDocument(ctx context.Context, content, filename string) (*models.UpsertResult, error)
	UpsertFile(ctx context.Context, path string) (*models.UpsertResult, error)
	DeleteDocument(ctx context.Context, filename string) (*models.DeleteResult, error)
}

// Answerer answers questions.
type Answerer interface {
	Answer(ctx context.Context, req *models.QueryRequest) (*models.Answer, error)
	DefaultMaxResults() int
}

// Reporter serves the read-only diagnostics.
type Reporter interface {
	Status(ctx context.Context) (*models.Status, error)
	Documents(ctx context.Context) ([]*models.DocumentInfo, error)
	CheckConsistency(ctx context.Context, dir string) (*models.ConsistencyReport, error)
}

// Server is the HTTP server for the docqa API.
type Server struct {
	indexer   Indexer
	engine    Answerer
	reporter  Reporter
	config    *config.ServerConfig
	dataDir   string
	extension string
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies. Documents uploaded
// through the API are written into cfg.Documents.DataDir.
func NewServer(idx Indexer, engine Answerer, reporter Reporter, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		indexer:   idx,
		engine:    engine,
		reporter:  reporter,
		config:    &cfg.Server,
		dataDir:   cfg.Documents.DataDir,
		extension: cfg.Documents.Extension,
		logger:    utils.OrNop(logger),
	}
}

// Handler returns the router. Routes are served at the root and under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeoutSecs > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout()))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Group(s.routes)
	r.Route("/api", s.routes)
	return r
}

func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/sync", s.handleSync)
	r.Post("/load-documents", s.handleSync)
	r.Post("/query", s.handleQuery)
	r.Get("/consistency", s.handleConsistency)
	r.Get("/documents", s.handleListDocuments)
	r.Post("/documents", s.handleUploadDocument)
	r.Delete("/documents/{filename}", s.handleDeleteDocument)
}

// requestLogger logs method, path, status and duration of every request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
