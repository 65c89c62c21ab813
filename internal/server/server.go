// Package server exposes the middleware HTTP surface: the board and timeline
// aggregations plus the thin pass-through endpoints the dashboard tabs use.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/sprintlab/middleware/internal/gitlab"
	"github.com/sprintlab/middleware/internal/store"
)

// ClientFactory builds a tracker client for one stored credential. The serve
// command decides whether credentials go out as private tokens or bearer
// tokens; tests point the factory at an httptest server.
type ClientFactory func(token string) *gitlab.Client

// Configurator is the write side of the configuration store.
type Configurator interface {
	SaveIfAbsent(ctx context.Context, config store.ChannelConfig) (bool, error)
}

// Server wires resolver, store and tracker client factory behind the HTTP
// handlers.
type Server struct {
	resolver  store.Resolver
	configs   Configurator
	newClient ClientFactory

	// flights collapses identical in-flight board/timeline requests into a
	// single upstream call chain. Results are request-scoped and never
	// mutated after assembly, so sharing one across duplicate callers is
	// safe.
	flights singleflight.Group
}

// New creates a Server.
func New(resolver store.Resolver, configs Configurator, newClient ClientFactory) *Server {
	return &Server{
		resolver:  resolver,
		configs:   configs,
		newClient: newClient,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /gitlab-issues", s.handleBoard)
	mux.HandleFunc("GET /gitlab-issues/boards", s.handleBoards)
	mux.HandleFunc("GET /gitlab-boards", s.handleBoards)
	mux.HandleFunc("GET /gitlab-issues/project-config", s.handleProjectConfig)
	mux.HandleFunc("GET /gitlab-issues/project-name", s.handleProjectName)
	mux.HandleFunc("GET /gitlab-issues/project-metadata", s.handleProjectMetadata)
	mux.HandleFunc("GET /gitlab-issues/{iid}", s.handleGetIssue)
	mux.HandleFunc("GET /gitlab-issues/{iid}/related_merge_requests", s.handleRelatedMergeRequests)
	mux.HandleFunc("POST /gitlab-issues", s.handleCreateIssue)
	mux.HandleFunc("PUT /gitlab-issues/{iid}", s.handleUpdateIssue)
	mux.HandleFunc("GET /gitlab-dashboards/gantt-data", s.handleTimeline)
	mux.HandleFunc("POST /configure-project", s.handleConfigureProject)

	return mux
}

// writeJSON writes v with the given status. Encoding failures at this point
// can only be logged; the status line is already gone.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON decodes a request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeError writes the standard error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireQuery checks that every named query parameter is present, writing a
// 400 and returning false otherwise. Runs before anything touches the store
// or the tracker.
func requireQuery(w http.ResponseWriter, r *http.Request, names ...string) bool {
	for _, name := range names {
		if r.URL.Query().Get(name) == "" {
			writeError(w, http.StatusBadRequest, "missing required parameter: "+name)
			return false
		}
	}
	return true
}

// resolveChannel resolves the channel configuration for the request, mapping
// a missing configuration to 404 and store failures to 500. Returns nil when
// a response has already been written.
func (s *Server) resolveChannel(w http.ResponseWriter, r *http.Request) *store.ProjectConfig {
	teamID := r.URL.Query().Get("teamId")
	channelID := r.URL.Query().Get("channelId")

	config, err := s.resolver.Resolve(r.Context(), teamID, channelID)
	if err != nil {
		if errorIsNotFound(err) {
			writeError(w, http.StatusNotFound, "project not configured for this channel")
			return nil
		}
		slog.Error("failed to resolve channel config", "team", teamID, "channel", channelID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load channel configuration")
		return nil
	}
	return config
}
