// Package httpapi exposes the ingestion/status/search surface described
// in spec.md §6 over plain net/http, grounded on the teacher's
// ServeMux-per-route Server (internal/httpapi/server.go) generalized
// from the playground's CRUD routes to this spec's process/status/search
// operations and a status-change WebSocket feed.
package httpapi

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/docstatus"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/events"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/ingestion"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/search"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
)

// CollectionCounter reports how many points a collection holds, for
// /status/health. vectorstore.Store satisfies this directly; narrowed to
// an interface so tests can substitute a fake.
type CollectionCounter interface {
	Count(ctx context.Context, collection vectorstore.Collection) (int, error)
}

// Server wires the process/status/search HTTP surface to the ingestion
// pipeline, status manager, search engine and event bus.
type Server struct {
	pipeline *ingestion.Pipeline
	status   *docstatus.Manager
	engine   *search.Engine
	bus      *events.Bus
	health   CollectionCounter

	corsAllow map[string]struct{}
	mux       *http.ServeMux
	traced    http.Handler
}

// Config configures NewServer.
type Config struct {
	Pipeline *ingestion.Pipeline
	Status   *docstatus.Manager
	Engine   *search.Engine
	Bus      *events.Bus
	Health   CollectionCounter

	// CORSAllowlist is the set of origins granted cross-origin access.
	// Empty means no cross-origin access: spec.md §6 requires "wildcard
	// is not the default."
	CORSAllowlist []string
}

// NewServer builds the HTTP API server and registers its routes.
func NewServer(cfg Config) *Server {
	allow := make(map[string]struct{}, len(cfg.CORSAllowlist))
	for _, origin := range cfg.CORSAllowlist {
		allow[origin] = struct{}{}
	}
	s := &Server{
		pipeline:  cfg.Pipeline,
		status:    cfg.Status,
		engine:    cfg.Engine,
		bus:       cfg.Bus,
		health:    cfg.Health,
		corsAllow: allow,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	s.traced = otelhttp.NewHandler(s.mux, "httpapi")
	return s
}

// ServeHTTP satisfies http.Handler, applying CORS then request tracing
// before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.traced.ServeHTTP(w, r)
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if _, ok := s.corsAllow[origin]; !ok {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /process", s.handleProcess)
	s.mux.HandleFunc("GET /status/{docID}", s.handleGetStatus)
	s.mux.HandleFunc("GET /status/queue", s.handleStatusQueue)
	s.mux.HandleFunc("GET /status/health", s.handleStatusHealth)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("GET /ws/status", s.handleWSStatus)
}
