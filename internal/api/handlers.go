package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/stata-bridge/internal/apperrors"
	"github.com/teranos/stata-bridge/internal/engine"
	"github.com/teranos/stata-bridge/internal/stream"
)

type runSelectionBody struct {
	Code       string `json:"code"`
	WorkingDir string `json:"working_dir"`
	TimeoutMS  int    `json:"timeout_ms"`
	SkipFilter bool   `json:"skip_filter"`
	SessionID  string `json:"session_id"`
}

func (s *Server) handleRunSelection(w http.ResponseWriter, r *http.Request) {
	var body runSelectionBody
	if err := readJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.SessionID != "" {
		q := r.URL.Query()
		q.Set("session_id", body.SessionID)
		r.URL.RawQuery = q.Encode()
	}

	res, err := s.submit(r, engine.Request{
		Kind:       engine.RequestRunSelection,
		Code:       body.Code,
		WorkingDir: body.WorkingDir,
		Timeout:    timeoutFrom(body.TimeoutMS),
		SkipFilter: body.SkipFilter,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRunSelectionStream(w http.ResponseWriter, r *http.Request) {
	req := engine.Request{
		Kind:       engine.RequestRunSelection,
		Code:       r.URL.Query().Get("code"),
		WorkingDir: r.URL.Query().Get("working_dir"),
		Timeout:    timeoutFrom(intParam(r, "timeout_ms", 0)),
	}
	worker, resultCh, err := s.sessions.DispatchAsync(r.Context(), s.sessionID(r), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	stream.Run(w, r, worker, resultCh)
}

func (s *Server) handleRunFile(w http.ResponseWriter, r *http.Request) {
	filePath := r.URL.Query().Get("file_path")
	if filePath == "" {
		writeErr(w, apperrors.BadRequest("file_path is required"))
		return
	}
	res, err := s.submit(r, engine.Request{
		Kind:       engine.RequestRunFile,
		FilePath:   filePath,
		WorkingDir: r.URL.Query().Get("working_dir"),
		Timeout:    timeoutFrom(intParam(r, "timeout_ms", 0)),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRunFileStream(w http.ResponseWriter, r *http.Request) {
	filePath := r.URL.Query().Get("file_path")
	if filePath == "" {
		writeErr(w, apperrors.BadRequest("file_path is required"))
		return
	}
	req := engine.Request{
		Kind:       engine.RequestRunFile,
		FilePath:   filePath,
		WorkingDir: r.URL.Query().Get("working_dir"),
		Timeout:    timeoutFrom(intParam(r, "timeout_ms", 0)),
	}
	worker, resultCh, err := s.sessions.DispatchAsync(r.Context(), s.sessionID(r), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	stream.Run(w, r, worker, resultCh)
}

// stopGrace is how long handleStopExecution waits for a break to land
// before reporting "stop_requested" instead of "stopped".
const stopGrace = 200 * time.Millisecond

// handleStopExecution sends a break and always returns one of
// {stopped, stop_requested, no_execution} (spec.md §4.5 "Stop semantics"):
// no_execution when nothing was running, stopped when the break lands
// within stopGrace, stop_requested when the subprocess is still unwinding.
func (s *Server) handleStopExecution(w http.ResponseWriter, r *http.Request) {
	worker, err := s.streamWorker(s.sessionID(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	if worker.State() != engine.StateBusy {
		writeJSON(w, http.StatusOK, map[string]string{"result": "no_execution"})
		return
	}

	worker.Break()

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if worker.State() != engine.StateBusy {
			writeJSON(w, http.StatusOK, map[string]string{"result": "stopped"})
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "stop_requested"})
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	worker, err := s.streamWorker(s.sessionID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      worker.State(),
		"session_id": s.sessionID(r),
	})
}

func (s *Server) handleSessionsRestart(w http.ResponseWriter, r *http.Request) {
	res, err := s.submit(r, engine.Request{Kind: engine.RequestRestart})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionsCreate(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessions.Create()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"destroyed": true})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	worker, err := s.streamWorker(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	health := worker.Health(r.Context())
	writeJSON(w, http.StatusOK, health.Stats)
}

func (s *Server) handleViewData(w http.ResponseWriter, r *http.Request) {
	worker, err := s.streamWorker(s.sessionID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	maxRows := intParam(r, "max_rows", 500)
	view, err := worker.ViewData(r.Context(), r.URL.Query().Get("if_condition"), maxRows)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGraphFile(w http.ResponseWriter, r *http.Request) {
	worker, err := s.streamWorker(s.sessionID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	name := r.PathValue("name")
	http.ServeFile(w, r, worker.GraphPath(name))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	worker, err := s.streamWorker(s.sessionID(r))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "engine_available": false})
		return
	}
	h := worker.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"engine_available": h.EngineAvailable,
		"version":          h.Version,
	})
}

// unifiedToolBody is the envelope for POST /v1/tools (spec.md §4.7): a
// single dispatch point for clients that would rather not speak MCP.
type unifiedToolBody struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleUnifiedTools(w http.ResponseWriter, r *http.Request) {
	var body unifiedToolBody
	if err := readJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	sessionID, _ := body.Arguments["session_id"].(string)

	switch body.Tool {
	case "stata_run_selection":
		code, _ := body.Arguments["code"].(string)
		if code == "" {
			writeErr(w, apperrors.BadRequest("arguments.code is required"))
			return
		}
		workingDir, _ := body.Arguments["working_dir"].(string)
		res, err := s.sessions.Dispatch(r.Context(), sessionID, engine.Request{
			Kind:       engine.RequestRunSelection,
			Code:       code,
			WorkingDir: workingDir,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.finalizeResult(res))

	case "stata_run_file":
		filePath, _ := body.Arguments["file_path"].(string)
		if filePath == "" {
			writeErr(w, apperrors.BadRequest("arguments.file_path is required"))
			return
		}
		workingDir, _ := body.Arguments["working_dir"].(string)
		res, err := s.sessions.Dispatch(r.Context(), sessionID, engine.Request{
			Kind:       engine.RequestRunFile,
			FilePath:   filePath,
			WorkingDir: workingDir,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.finalizeResult(res))

	case "stata_view_data":
		worker, err := s.streamWorker(sessionID)
		if err != nil {
			writeErr(w, err)
			return
		}
		ifCondition, _ := body.Arguments["if_condition"].(string)
		maxRows := 500
		if v, ok := body.Arguments["max_rows"].(float64); ok {
			maxRows = int(v)
		}
		view, err := worker.ViewData(r.Context(), ifCondition, maxRows)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case "stata_introspect":
		res, err := s.sessions.Dispatch(r.Context(), sessionID, engine.Request{Kind: engine.RequestIntrospect})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.finalizeResult(res))

	case "stata_sessions_create":
		id, err := s.sessions.Create()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": id})

	case "stata_sessions_list":
		writeJSON(w, http.StatusOK, s.sessions.List())

	case "stata_sessions_destroy":
		if sessionID == "" {
			writeErr(w, apperrors.BadRequest("arguments.session_id is required"))
			return
		}
		if err := s.sessions.Destroy(sessionID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"destroyed": true})

	default:
		writeErr(w, apperrors.BadRequest("unknown tool: "+body.Tool))
	}
}

func timeoutFrom(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func intParam(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
