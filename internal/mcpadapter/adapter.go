// Package mcpadapter implements the MCP Adapter (spec.md §4.7 / C7):
// stata_run_selection, stata_run_file, stata_view_data, and
// stata_sessions_* exposed over both the legacy SSE transport and
// Streamable HTTP, sharing one tool registry — grounded on the teacher's
// code/gopls.MCPServer for tool registration and the jaakkos-stringwork
// reference for the dual-transport mount.
package mcpadapter

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teranos/stata-bridge/internal/config"
	"github.com/teranos/stata-bridge/internal/engine"
	"github.com/teranos/stata-bridge/internal/filter"
	"github.com/teranos/stata-bridge/internal/session"
)

// Adapter exposes a subset of the Execution API as MCP tools. Streaming
// variants are deliberately not exposed here (spec.md §4.7: their
// auto-generated tool names exceed length limits for some clients).
type Adapter struct {
	cfg      *config.Config
	sessions *session.Manager

	mcpServer *server.MCPServer
	sseServer *server.SSEServer
	httpSrv   *server.StreamableHTTPServer
}

// New builds the shared tool surface and both transport mounts.
func New(cfg *config.Config, sessions *session.Manager) *Adapter {
	a := &Adapter{cfg: cfg, sessions: sessions}

	a.mcpServer = server.NewMCPServer(
		"stata-bridge",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	a.registerTools()

	a.sseServer = server.NewSSEServer(a.mcpServer)
	a.httpSrv = server.NewStreamableHTTPServer(a.mcpServer)
	return a
}

// Mount binds the SSE transport at /mcp and Streamable HTTP at
// /mcp-streamable onto mux (spec.md §4.7).
func (a *Adapter) Mount(mux *http.ServeMux) {
	mux.Handle("/mcp", a.sseServer)
	mux.Handle("/mcp/", a.sseServer)
	mux.Handle("/mcp-streamable", a.httpSrv)
}

func (a *Adapter) registerTools() {
	a.mcpServer.AddTool(mcp.NewTool("stata_run_selection",
		mcp.WithDescription("Run a fragment of Stata code in a session"),
		mcp.WithString("code", mcp.Required(), mcp.Description("Stata code to execute")),
		mcp.WithString("session_id", mcp.Description("Target session (defaults to singleton)")),
		mcp.WithString("working_dir", mcp.Description("Working directory for the run")),
		mcp.WithNumber("timeout_ms", mcp.Description("Per-request timeout in milliseconds")),
	), a.handleRunSelection)

	a.mcpServer.AddTool(mcp.NewTool("stata_run_file",
		mcp.WithDescription("Run a .do file in a session"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the .do file")),
		mcp.WithString("session_id", mcp.Description("Target session (defaults to singleton)")),
		mcp.WithString("working_dir", mcp.Description("Working directory for the run")),
		mcp.WithNumber("timeout_ms", mcp.Description("Per-request timeout in milliseconds")),
	), a.handleRunFile)

	a.mcpServer.AddTool(mcp.NewTool("stata_view_data",
		mcp.WithDescription("Return a column-major snapshot of the current dataset"),
		mcp.WithString("session_id", mcp.Description("Target session (defaults to singleton)")),
		mcp.WithString("if_condition", mcp.Description("Stata if-condition pushed down to the Engine")),
		mcp.WithNumber("max_rows", mcp.Description("Row cap (default 500)")),
	), a.handleViewData)

	a.mcpServer.AddTool(mcp.NewTool("stata_introspect",
		mcp.WithDescription("Report engine availability, version, and resource usage for a session"),
		mcp.WithString("session_id", mcp.Description("Target session (defaults to singleton)")),
	), a.handleIntrospect)

	a.mcpServer.AddTool(mcp.NewTool("stata_sessions_create",
		mcp.WithDescription("Create a new session"),
	), a.handleSessionsCreate)

	a.mcpServer.AddTool(mcp.NewTool("stata_sessions_list",
		mcp.WithDescription("List live sessions"),
	), a.handleSessionsList)

	a.mcpServer.AddTool(mcp.NewTool("stata_sessions_destroy",
		mcp.WithDescription("Destroy a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to destroy")),
	), a.handleSessionsDestroy)
}

func (a *Adapter) handleRunSelection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := req.GetString("session_id", "")
	workingDir := req.GetString("working_dir", "")
	timeoutMS := req.GetInt("timeout_ms", 0)

	res, err := a.sessions.Dispatch(ctx, sessionID, engine.Request{
		Kind:       engine.RequestRunSelection,
		Code:       filter.JoinContinuations(code),
		WorkingDir: workingDir,
		Timeout:    durationFromMS(timeoutMS),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(a.renderResult(res)), nil
}

func (a *Adapter) handleRunFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := req.GetString("session_id", "")
	workingDir := req.GetString("working_dir", "")
	timeoutMS := req.GetInt("timeout_ms", 0)

	logPath := ""
	if w, werr := a.sessions.Worker(sessionOrSingleton(sessionID)); werr == nil {
		logPath = w.LogPath()
	}
	progress := newProgressReporter(ctx, a.mcpServer, req, logPath)
	defer progress.stop()

	res, err := a.sessions.Dispatch(ctx, sessionID, engine.Request{
		Kind:       engine.RequestRunFile,
		FilePath:   filePath,
		WorkingDir: workingDir,
		Timeout:    durationFromMS(timeoutMS),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(a.renderResult(res)), nil
}

func (a *Adapter) handleViewData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	ifCondition := req.GetString("if_condition", "")
	maxRows := req.GetInt("max_rows", 500)

	w, err := a.sessions.Worker(sessionOrSingleton(sessionID))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view, err := w.ViewData(ctx, ifCondition, maxRows)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%d columns, %d/%d rows displayed", len(view.Columns), view.DisplayedRows, view.TotalRows,
	)), nil
}

func (a *Adapter) handleIntrospect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	res, err := a.sessions.Dispatch(ctx, sessionID, engine.Request{Kind: engine.RequestIntrospect})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(res.Output), nil
}

func (a *Adapter) handleSessionsCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := a.sessions.Create()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("created session " + id), nil
}

func (a *Adapter) handleSessionsList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries := a.sessions.List()
	return mcp.NewToolResultText(fmt.Sprintf("%d live session(s)", len(summaries))), nil
}

func (a *Adapter) handleSessionsDestroy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := a.sessions.Destroy(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("destroyed session " + id), nil
}

func (a *Adapter) renderResult(res engine.Result) string {
	filtered := filter.Apply(res.Output, a.outputMode())
	spillDir := a.cfg.WorkspaceRoot
	if res.LogPath != "" {
		spillDir = filepath.Dir(res.LogPath)
	}
	if path, err := filter.Spill(filtered, a.cfg.MaxOutputTokens, spillDir); err == nil && path != "" {
		return filter.TruncationMarker(path, len(filtered))
	}
	return filtered
}

func (a *Adapter) outputMode() filter.Mode {
	if a.cfg.ResultDisplayMode == config.DisplayFull {
		return filter.ModeFull
	}
	return filter.ModeCompact
}

func sessionOrSingleton(id string) string {
	if id == "" {
		return session.SingletonID
	}
	return id
}

func durationFromMS(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
