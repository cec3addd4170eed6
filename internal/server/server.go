package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/lazypower/courier/internal/agent"
	"github.com/lazypower/courier/internal/journal"
	"github.com/lazypower/courier/internal/node"
)

// Node is the part of a running node the API reads and writes. Every method
// must be safe to call from request goroutines.
type Node interface {
	Status() node.Status
	Bundles() []node.BundleInfo
	Submit(o agent.Origination) error
}

// Events reads the journal.
type Events interface {
	RecentEvents(limit int) ([]journal.Event, error)
}

// Server is the courier HTTP API server.
type Server struct {
	node    Node
	events  Events
	router  chi.Router
	version string
	started time.Time
	submit  *rate.Limiter
}

// Option customizes a Server.
type Option func(*Server)

// WithSubmitRate limits POST /api/bundles to r requests per second with the
// given burst.
func WithSubmitRate(r rate.Limit, burst int) Option {
	return func(s *Server) { s.submit = rate.NewLimiter(r, burst) }
}

// New creates a new Server for n. events may be nil when the journal is
// disabled.
func New(n Node, events Events, version string, opts ...Option) *Server {
	s := &Server{
		node:    n,
		events:  events,
		version: version,
		started: time.Now(),
		submit:  rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/bundles", s.handleListBundles)
		r.Post("/bundles", s.handleSubmitBundle)
		r.Get("/events", s.handleEvents)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.node.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"eid":     st.EID,
		"journal": s.events != nil,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
