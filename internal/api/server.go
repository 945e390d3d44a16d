package api

import (
	"log/slog"
	"net/http"

	"github.com/dhowlett/cardsmith/internal/config"
	"github.com/dhowlett/cardsmith/internal/ollama"
	"github.com/dhowlett/cardsmith/internal/pipeline"
	"github.com/dhowlett/cardsmith/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for cardsmith.
type Server struct {
	router       chi.Router
	store        *store.Store
	orchestrator *pipeline.Orchestrator
	ollama       *ollama.Client
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(st *store.Store, orch *pipeline.Orchestrator, oc *ollama.Client, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		store:        st,
		orchestrator: orch,
		ollama:       oc,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/requests", s.handleCreateRequest)
		r.Get("/api/requests", s.handleListRequests)
		r.Get("/api/requests/{requestID}", s.handleRequestStatus)
		r.Delete("/api/requests/{requestID}", s.handleDeleteRequest)
		r.Post("/api/requests/{requestID}/retry", s.handleRetry)

		r.Get("/api/requests/{requestID}/chunks", s.handleListChunks)
		r.Patch("/api/requests/{requestID}/chunks/{index}", s.handleUpdateChunk)
		r.Post("/api/requests/{requestID}/chunks/approve_all", s.handleApproveAll)

		r.Post("/api/requests/{requestID}/generate", s.handleGenerate)
		r.Post("/api/requests/{requestID}/refine", s.handleRefine)

		r.Get("/api/requests/{requestID}/cards", s.handleListCards)
		r.Get("/api/requests/{requestID}/export", s.handleExport)

		r.Get("/api/models", s.handleListModels)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
