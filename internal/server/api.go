package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
	"github.com/efebarandurmaz/metagraph/internal/observability"
)

// AncestorsResponse is returned by GET /api/ancestors.
type AncestorsResponse struct {
	ID    depgraph.ModuleID   `json:"id"`
	IDs   []depgraph.ModuleID `json:"ids"`
	Paths []string            `json:"paths"`
}

// ModuleResponse is returned by the module lookups.
type ModuleResponse struct {
	ID     depgraph.ModuleID `json:"id"`
	Module depgraph.Module   `json:"module"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// QueryServer exposes a dependency graph session over HTTP.
type QueryServer struct {
	session *depgraph.Session
	health  *HealthServer
	server  *http.Server
}

// NewQueryServer creates a server for session listening on addr. The health
// endpoints of health are served alongside the API.
func NewQueryServer(addr string, session *depgraph.Session, health *HealthServer) *QueryServer {
	s := &QueryServer{session: session, health: health}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/graph", s.handleGraph)
	mux.HandleFunc("GET /api/modules", s.handleModules)
	mux.HandleFunc("GET /api/modules/{id}", s.handleModuleByID)
	mux.HandleFunc("GET /api/module", s.handleModule)
	mux.HandleFunc("GET /api/ancestors", s.handleAncestors)
	mux.HandleFunc("GET /api/report", s.handleReport)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	if health != nil {
		health.Register(mux)
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *QueryServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop is called.
func (s *QueryServer) Start() error {
	slog.Info("starting query server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("query server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *QueryServer) Stop(ctx context.Context) error {
	slog.Info("stopping query server")
	if s.health != nil {
		s.health.SetReady(false)
	}
	return s.server.Shutdown(ctx)
}

func (s *QueryServer) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.session.DependencyGraph()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *QueryServer) handleModules(w http.ResponseWriter, r *http.Request) {
	modules, err := s.session.ModuleTable()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, modules)
}

func (s *QueryServer) handleModuleByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	m, err := s.session.ModuleByID(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ModuleResponse{ID: id, Module: m})
}

func (s *QueryServer) handleModule(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "path is required"})
		return
	}
	m, ok, err := s.session.Module(path)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, fmt.Errorf("%w: %s", depgraph.ErrUnknownModule, path))
		return
	}
	id, err := s.session.ModuleID(path)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ModuleResponse{ID: id, Module: m})
}

// handleAncestors accepts either ?path= or ?id=.
func (s *QueryServer) handleAncestors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")

	_, span := observability.StartQuerySpan(r.Context(), "ancestors", path)
	defer span.End()

	var id depgraph.ModuleID
	var err error
	switch {
	case path != "":
		id, err = s.session.ModuleID(path)
	case q.Get("id") != "":
		id, err = parseID(q.Get("id"))
	default:
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "path or id is required"})
		return
	}
	if err != nil {
		observability.RecordError(span, err)
		respondError(w, err)
		return
	}

	ids, err := s.session.InverseDependencies(id)
	if err != nil {
		observability.RecordError(span, err)
		respondError(w, err)
		return
	}
	resp := AncestorsResponse{ID: id, IDs: ids, Paths: make([]string, len(ids))}
	for i, a := range ids {
		p, err := s.session.Path(a)
		if err != nil {
			respondError(w, err)
			return
		}
		resp.Paths[i] = p
	}
	observability.RecordQueryResult(span, len(ids))
	respondJSON(w, http.StatusOK, resp)
}

func (s *QueryServer) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.session.Report()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *QueryServer) handleStats(w http.ResponseWriter, r *http.Request) {
	g, err := s.session.DependencyGraph()
	if err != nil {
		respondError(w, err)
		return
	}
	modules, _ := s.session.ModuleTable()
	respondJSON(w, http.StatusOK, depgraph.ComputeStats(g, modules))
}

var errBadID = errors.New("invalid module id")

func parseID(raw string) (depgraph.ModuleID, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", errBadID, raw)
	}
	return depgraph.ModuleID(n), nil
}

// respondError maps graph errors onto HTTP status codes.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, depgraph.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	case errors.Is(err, depgraph.ErrUnknownModule):
		status = http.StatusNotFound
	case errors.Is(err, errBadID):
		status = http.StatusBadRequest
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
