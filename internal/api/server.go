// Package api exposes import sessions, batches and records over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/kanveo/kanveo-cli/internal/config"
	"github.com/kanveo/kanveo-cli/internal/importer"
	"github.com/kanveo/kanveo-cli/internal/registry"
	"github.com/kanveo/kanveo-cli/internal/store"
)

// multipartOverhead is added to the file limit to allow for form boundaries.
const multipartOverhead = 1 << 20

// Options wires a Server.
type Options struct {
	Store    store.Store
	Registry *registry.Registry
	Parser   importer.Parser
	Sessions *SessionManager
	Import   config.ImportConfig
	Server   config.ServerConfig
}

// Server is the HTTP API.
type Server struct {
	store    store.Store
	registry *registry.Registry
	parser   importer.Parser
	sessions *SessionManager
	importC  config.ImportConfig
	serverC  config.ServerConfig
	limiter  *keyedLimiter
	validate *validator.Validate
	router   *chi.Mux
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = registry.Default()
	}
	if opts.Sessions == nil {
		opts.Sessions = NewSessionManager(time.Duration(opts.Server.SessionTTLMinutes) * time.Minute)
	}
	rps := opts.Server.UploadRPS
	if rps <= 0 {
		rps = 1
	}
	s := &Server{
		store:    opts.Store,
		registry: opts.Registry,
		parser:   opts.Parser,
		sessions: opts.Sessions,
		importC:  opts.Import,
		serverC:  opts.Server,
		limiter:  newKeyedLimiter(rps, opts.Server.UploadBurst),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Sessions returns the session manager so callers can run its sweeper.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

func (s *Server) routes() {
	origins := s.serverC.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", OwnerHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/fields", s.handleListFields)

	r.Group(func(r chi.Router) {
		r.Use(requireOwner)

		r.Route("/imports", func(r chi.Router) {
			r.With(rateLimit(s.limiter)).Post("/", s.handleCreateImport)
			r.Get("/{id}", s.handleGetImport)
			r.Put("/{id}/mapping", s.handleSetMapping)
			r.Put("/{id}/key-field", s.handleSetKeyField)
			r.Post("/{id}/commit", s.handleCommitImport)
			r.Delete("/{id}", s.handleDeleteImport)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", s.handleListBatches)
			r.Get("/{id}", s.handleGetBatch)
			r.Delete("/{id}", s.handleDeleteBatch)
		})

		r.Route("/records", func(r chi.Router) {
			r.Get("/", s.handleListRecords)
			r.Get("/{id}", s.handleGetRecord)
			r.Delete("/{id}", s.handleDeleteRecord)
			r.Post("/{id}/pipeline", s.handlePipelineRecord)
			r.Put("/{id}/notes", s.handleUpdateNotes)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Fields())
}
