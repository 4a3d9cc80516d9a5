package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/pdftrans/internal/jobs"
	"github.com/dgallion1/pdftrans/internal/translate"
)

// Jobs is the job queue the handlers submit to and poll.
type Jobs interface {
	Submit(job *jobs.Job) error
	GetJob(id string) *jobs.Job
	QueueDepth() int
}

// Options configures the server.
type Options struct {
	APIKey         string
	Version        string
	MaxUploadBytes int64
	SourceLang     string // Used when a request omits source_lang.
	TargetLang     string // Used when a request omits target_lang.
	RemoteEnabled  bool   // Accept storage-backed submissions.
	SourceBucket   string // Default bucket for remote submissions.
}

// Server is the HTTP API server for pdftrans.
type Server struct {
	router chi.Router
	jobs   Jobs
	stats  *translate.LatencyStats
	log    *slog.Logger
	opts   Options
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(q Jobs, stats *translate.LatencyStats, log *slog.Logger, opts Options) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		jobs:  q,
		stats: stats,
		log:   log,
		opts:  opts,
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
		r.Use(AuthMiddleware(s.opts.APIKey, s.log))

		r.Post("/api/translate", s.handleTranslate)
		r.Post("/api/translate/remote", s.handleTranslateRemote)
		r.Get("/api/translate/{jobID}/status", s.handleStatus)
		r.Get("/api/translate/{jobID}/result", s.handleResult)
		r.Get("/api/stats/translation", s.handleTranslationStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "pdftrans",
		"version":     s.opts.Version,
		"queue_depth": s.jobs.QueueDepth(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
