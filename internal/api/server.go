package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/teranos/stata-bridge/internal/config"
	"github.com/teranos/stata-bridge/internal/engine"
	"github.com/teranos/stata-bridge/internal/filter"
	"github.com/teranos/stata-bridge/internal/graphs"
	"github.com/teranos/stata-bridge/internal/mcpadapter"
	"github.com/teranos/stata-bridge/internal/session"
)

// Server wires the Session Manager, Output Filter, and Graph Indexer
// behind the HTTP endpoint table of spec.md §4.5.
type Server struct {
	cfg        *config.Config
	sessions   *session.Manager
	graphIndex *graphs.Index
	mcp        *mcpadapter.Adapter
	startedAt  time.Time
}

// New builds a Server. Callers still need to call Mux to obtain the
// http.Handler and bind it to a listener (done in cmd/stata-bridge).
func New(cfg *config.Config, sessions *session.Manager, idx *graphs.Index) *Server {
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		graphIndex: idx,
		mcp:        mcpadapter.New(cfg, sessions),
		startedAt:  time.Now(),
	}
}

// Mux builds the routed handler for the endpoint table in spec.md §4.5,
// plus the supplemental /sessions/{id}/stats endpoint and the MCP mounts
// from SPEC_FULL.md.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /run_selection", s.handleRunSelection)
	mux.HandleFunc("GET /run_selection/stream", s.handleRunSelectionStream)
	mux.HandleFunc("GET /run_file", s.handleRunFile)
	mux.HandleFunc("GET /run_file/stream", s.handleRunFileStream)
	mux.HandleFunc("POST /stop_execution", s.handleStopExecution)
	mux.HandleFunc("GET /execution_status", s.handleExecutionStatus)
	mux.HandleFunc("POST /sessions/restart", s.handleSessionsRestart)
	mux.HandleFunc("POST /sessions", s.handleSessionsCreate)
	mux.HandleFunc("GET /sessions", s.handleSessionsList)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionDetail)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("GET /sessions/{id}/stats", s.handleSessionStats)
	mux.HandleFunc("GET /view_data", s.handleViewData)
	mux.HandleFunc("GET /graphs/{name}", s.handleGraphFile)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/tools", s.handleUnifiedTools)

	s.mcp.Mount(mux)

	return mux
}

func (s *Server) sessionID(r *http.Request) string {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	return r.PathValue("id")
}

func (s *Server) outputMode() filter.Mode {
	if s.cfg.ResultDisplayMode == config.DisplayFull {
		return filter.ModeFull
	}
	return filter.ModeCompact
}

// finalizeResult applies the Output Filter and token-cap spill before a
// Result is serialized to a client (spec.md §4.3).
func (s *Server) finalizeResult(res engine.Result) engine.Result {
	filtered := filter.Apply(res.Output, s.outputMode())

	spillDir := s.cfg.WorkspaceRoot
	if res.LogPath != "" {
		spillDir = filepath.Dir(res.LogPath)
	}
	path, err := filter.Spill(filtered, s.cfg.MaxOutputTokens, spillDir)
	if err != nil || path == "" {
		res.Output = filtered
		return res
	}

	res.Output = filter.TruncationMarker(path, len(filtered))
	res.TruncatedToFile = path
	return res
}

func (s *Server) submit(r *http.Request, req engine.Request) (engine.Result, error) {
	id := s.sessionID(r)
	if req.Code != "" {
		req.Code = filter.JoinContinuations(req.Code)
	}
	res, err := s.sessions.Dispatch(r.Context(), id, req)
	if err != nil {
		return engine.Result{}, err
	}
	return s.finalizeResult(res), nil
}

// streamWorker resolves id to its worker for the streaming handlers.
func (s *Server) streamWorker(id string) (*engine.Worker, error) {
	return s.sessions.Worker(id)
}
