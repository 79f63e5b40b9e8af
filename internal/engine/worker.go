package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teranos/stata-bridge/internal/apperrors"
	"github.com/teranos/stata-bridge/internal/graphs"
	"github.com/teranos/stata-bridge/internal/logging"
)

// Config is what a session supplies when it creates a Worker.
type Config struct {
	StataPath        string
	Edition          string
	WorkspaceRoot    string
	MinEngineVersion string // optional semver constraint, e.g. "17.0.0"
	LogFile          string
	LogFileLocation  string
	CustomLogDir     string
}

// Worker is the single-consumer scheduler in front of one Stata subprocess,
// matching spec.md §4.1's "one subprocess, one request at a time" model.
//
// Only Submit/SubmitAsync/Break/Health are safe to call concurrently;
// internally a single goroutine drains the request channel so the
// underlying process never sees overlapping runs.
type Worker struct {
	cfg     Config
	proc    *process
	logPath string

	mu        sync.Mutex
	state     State
	breakCh   chan struct{}
	requests  chan workItem
	stop      chan struct{}
	done      chan struct{}
	startedAt time.Time

	graphIndex *graphs.Index
}

// New creates a Worker in StateInitializing. Callers must call Start
// before submitting requests.
func New(cfg Config, idx *graphs.Index) (*Worker, error) {
	logPath, err := resolveLogPath(cfg)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	return &Worker{
		cfg:        cfg,
		proc:       newProcess(cfg.StataPath, cfg.Edition, cfg.WorkspaceRoot),
		logPath:    logPath,
		state:      StateInitializing,
		requests:   make(chan workItem, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		graphIndex: idx,
	}, nil
}

type workItem struct {
	req    Request
	result chan<- RunOutcome
}

// RunOutcome is one Request's final outcome, exported so the Streaming
// Layer (C6) can wait on it via SubmitAsync while tailing the log file.
type RunOutcome struct {
	Result Result
	Err    error
}

// LogPath returns the session's single, stable log file path (spec.md §3).
func (w *Worker) LogPath() string { return w.logPath }

// GraphPath returns the absolute path of a named graph under this
// session's graphs directory, served by GET /graphs/{name} (spec.md §4.5).
// Graph names are recorded without their extension (internal/graphs
// strips it so GraphRef.Name matches what a client requests); this
// reconstructs the on-disk filename the do-file postamble actually wrote.
func (w *Worker) GraphPath(name string) string {
	if filepath.Ext(name) == "" {
		name += ".png"
	}
	return filepath.Join(filepath.Dir(w.logPath), "graphs", name)
}

// Start truncates the session log (spec.md §3 invariant iii: "truncated
// on Restart and at session creation, never during a run"), launches the
// resident Stata process and the consumer goroutine, and transitions to
// StateReady. A failure to launch the resident process is logged rather
// than returned: it degrades to every run failing (surfaced per-request
// as engine_unavailable) instead of refusing to create the session at
// all, the same tolerance Health already applies to a failed version probe.
func (w *Worker) Start() error {
	if err := truncateLogFile(w.logPath); err != nil {
		return apperrors.Internal(err)
	}

	if err := w.proc.start(); err != nil {
		logging.Named("engine").Warnw("failed to start resident stata process", "error", err)
	} else if err := w.proc.openLog(w.logPath); err != nil {
		logging.Named("engine").Warnw("failed to open session log", "error", err)
	}

	w.mu.Lock()
	w.state = StateReady
	w.startedAt = time.Now()
	w.mu.Unlock()

	go w.loop()
	return nil
}

// Stop requests the consumer goroutine exit once the in-flight request (if
// any) finishes, and kills the resident subprocess.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == StateDead {
		w.mu.Unlock()
		return
	}
	w.state = StateTerminating
	w.mu.Unlock()

	close(w.stop)
	<-w.done

	w.proc.stop()

	w.mu.Lock()
	w.state = StateDead
	w.mu.Unlock()
}

// Submit enqueues req and blocks until it completes, the worker is
// terminating, or ctx is cancelled by the caller (an HTTP client abandoning
// its own request — the run itself keeps going, per spec.md §4.6's
// disconnect semantics, unless Break is submitted separately).
func (w *Worker) Submit(ctx context.Context, req Request) (Result, error) {
	resultCh, err := w.enqueue(ctx, req)
	if err != nil {
		return Result{}, err
	}
	select {
	case r := <-resultCh:
		return r.Result, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// SubmitAsync enqueues req without waiting for it to complete, returning
// the Result channel so a caller — the Streaming Layer (C6) — can tail the
// log file concurrently with the run in progress.
func (w *Worker) SubmitAsync(ctx context.Context, req Request) (<-chan RunOutcome, error) {
	return w.enqueue(ctx, req)
}

func (w *Worker) enqueue(ctx context.Context, req Request) (chan RunOutcome, error) {
	w.mu.Lock()
	if w.state == StateDead || w.state == StateTerminating {
		w.mu.Unlock()
		return nil, apperrors.WorkerDead("worker is not accepting requests")
	}
	w.mu.Unlock()

	resultCh := make(chan RunOutcome, 1)
	item := workItem{req: req, result: resultCh}

	select {
	case w.requests <- item:
		return resultCh, nil
	case <-w.stop:
		return nil, apperrors.WorkerDead("worker stopped before request was accepted")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Break requests cooperative cancellation of the in-flight request, if any.
// It is a no-op if the worker is idle.
func (w *Worker) Break() {
	w.mu.Lock()
	ch := w.breakCh
	w.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// loop is the single consumer: it drains w.requests one at a time so the
// subprocess never executes two requests concurrently (spec.md §4.1).
func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case item := <-w.requests:
			res, err := w.execute(item.req)
			item.result <- RunOutcome{Result: res, Err: err}
		case <-w.stop:
			return
		}
	}
}

func (w *Worker) execute(req Request) (Result, error) {
	switch req.Kind {
	case RequestBreak:
		w.Break()
		return Result{Status: StatusCancelled}, nil
	case RequestRestart:
		return w.restart()
	case RequestViewData:
		return w.runViewData(req)
	case RequestIntrospect:
		return w.runIntrospect()
	default:
		return w.runDoFile(req)
	}
}

func (w *Worker) runDoFile(req Request) (Result, error) {
	w.mu.Lock()
	w.state = StateBusy
	breakCh := make(chan struct{}, 1)
	w.breakCh = breakCh
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.state != StateDead {
			w.state = StateReady
		}
		w.breakCh = nil
		w.mu.Unlock()
	}()

	w.proc.mu.Lock()
	running := w.proc.stdin != nil
	w.proc.mu.Unlock()
	if !running {
		return Result{Status: StatusError, LogPath: w.logPath}, apperrors.EngineUnavailable("stata process is not running")
	}

	graphsDir := filepath.Join(filepath.Dir(w.logPath), "graphs")
	if err := os.MkdirAll(graphsDir, 0o755); err != nil {
		return Result{}, apperrors.Internal(fmt.Errorf("create graphs dir: %w", err))
	}
	if w.graphIndex != nil {
		if err := w.graphIndex.Watch(graphsDir); err != nil {
			logging.Named("engine").Debugw("graph directory watch unavailable", "dir", graphsDir, "error", err)
		}
	}

	cd := ""
	if req.WorkingDir != "" {
		cd = changeDirCommand(req.WorkingDir)
	}

	code := req.Code
	if req.Kind == RequestRunFile {
		code = fmt.Sprintf("do %s", quoteDoFilePath(req.FilePath))
	}

	doFile, err := writeDoFile(os.TempDir(), code, w.logPath, graphsDir, cd)
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	defer os.Remove(doFile)

	// startOffset anchors this run's output to the byte where its own
	// preamble begins, so a Result never carries a prior run's output
	// (spec.md §3's single log_path is append-only for the whole session).
	var startOffset int64
	if info, statErr := os.Stat(w.logPath); statErr == nil {
		startOffset = info.Size()
	}

	ctx := context.Background()
	outcome, runErr := w.proc.run(ctx, doFile, w.logPath, startOffset, req.Timeout, breakCh)

	segment, readErr := readLogSegment(w.logPath, startOffset)
	if readErr != nil {
		logging.Named("engine").Warnw("log file unreadable after run", "path", w.logPath, "error", readErr)
	}

	res := Result{
		Output:  segment,
		LogPath: w.logPath,
	}

	rc, engineFailed := detectEngineError(segment)

	// Invariant (v) of spec.md §3: a non-success Result contributes no
	// GraphRef to the registry, so the scan only runs on the success path.
	if outcome == outcomeCompleted && !engineFailed && w.graphIndex != nil {
		for _, r := range w.graphIndex.Scan(graphsDir, segment) {
			res.Graphs = append(res.Graphs, GraphRef{
				Name:         r.Name,
				AbsolutePath: filepath.ToSlash(r.AbsolutePath),
				CreatedAt:    r.CreatedAt,
				Sequence:     r.Sequence,
			})
		}
	}

	switch outcome {
	case outcomeCompleted:
		if engineFailed {
			res.Status = StatusError
			return res, apperrors.EngineError(fmt.Sprintf("stata command failed with return code %s", rc))
		}
		res.Status = StatusSuccess
		return res, nil
	case outcomeCancelled:
		res.Status = StatusCancelled
		return res, nil
	case outcomeTimedOut:
		res.Status = StatusTimeout
		return res, apperrors.Timeout("execution exceeded its timeout")
	case outcomeKilled:
		w.mu.Lock()
		w.state = StateDead
		w.mu.Unlock()
		res.Status = StatusTimeout
		return res, apperrors.WorkerDead("worker killed after failing to respond to break/timeout")
	}

	res.Status = StatusError
	return res, runErr
}

// runViewData is ViewData's body, routed through execute() so it shares
// the worker's single-consumer queue instead of calling w.proc directly
// (spec.md §4.1 key decision 2: "concurrent submit calls to the same
// worker are forbidden").
func (w *Worker) runViewData(req Request) (Result, error) {
	w.mu.Lock()
	w.state = StateBusy
	breakCh := make(chan struct{}, 1)
	w.breakCh = breakCh
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.state != StateDead {
			w.state = StateReady
		}
		w.breakCh = nil
		w.mu.Unlock()
	}()

	tmpDir := os.TempDir()
	nonce := time.Now().UnixNano()
	csvPath := filepath.Join(tmpDir, fmt.Sprintf("view-%d.csv", nonce))
	totalPath := filepath.Join(tmpDir, fmt.Sprintf("view-%d.total", nonce))
	defer os.Remove(csvPath)
	defer os.Remove(totalPath)

	code := buildViewDataScript(req.IfCondition, req.MaxRows, csvPath, totalPath)
	doFile, err := writeDoFile(tmpDir, code, w.logPath, filepath.Join(filepath.Dir(w.logPath), "graphs"), "")
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	defer os.Remove(doFile)

	var startOffset int64
	if info, statErr := os.Stat(w.logPath); statErr == nil {
		startOffset = info.Size()
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	outcome, runErr := w.proc.run(context.Background(), doFile, w.logPath, startOffset, timeout, breakCh)
	if outcome != outcomeCompleted {
		return Result{Status: StatusError}, apperrors.EngineUnavailable(fmt.Sprintf("view_data failed: outcome=%d err=%v", outcome, runErr))
	}

	view, err := parseViewDataOutput(csvPath, totalPath, req.MaxRows)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusSuccess, LogPath: w.logPath, View: &view}, nil
}

// runIntrospect builds a Result summarizing the worker's health and
// resource usage (spec.md §3's Introspect request), routed through the
// same queue as every other request for consistency even though it does
// not touch the resident process directly.
func (w *Worker) runIntrospect() (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := w.Health(ctx)
	meets := "unknown"
	if h.MeetsMinimum != nil {
		meets = fmt.Sprintf("%t", *h.MeetsMinimum)
	}
	rss, cpu, uptime := uint64(0), 0.0, int64(0)
	if h.Stats != nil {
		rss, cpu, uptime = h.Stats.RSSBytes, h.Stats.CPUPercent, h.Stats.UptimeMS
	}

	out := fmt.Sprintf(
		"engine_available=%t version=%s edition=%s meets_minimum=%s rss_bytes=%d cpu_percent=%.1f uptime_ms=%d",
		h.EngineAvailable, h.Version, h.Edition, meets, rss, cpu, uptime,
	)
	return Result{Status: StatusSuccess, Output: out}, nil
}

// restart tears down the current resident process, truncates the log
// (spec.md §3 invariant iii), and replaces it with a fresh one.
func (w *Worker) restart() (Result, error) {
	if err := truncateLogFile(w.logPath); err != nil {
		return Result{}, apperrors.Internal(err)
	}

	w.mu.Lock()
	oldProc := w.proc
	w.proc = newProcess(w.cfg.StataPath, w.cfg.Edition, w.cfg.WorkspaceRoot)
	newProc := w.proc
	w.mu.Unlock()

	if oldProc != nil {
		oldProc.stop()
	}
	if err := newProc.start(); err != nil {
		logging.Named("engine").Warnw("failed to start resident stata process on restart", "error", err)
	} else if err := newProc.openLog(w.logPath); err != nil {
		logging.Named("engine").Warnw("failed to open session log on restart", "error", err)
	}

	w.mu.Lock()
	w.state = StateReady
	w.mu.Unlock()
	return Result{Status: StatusSuccess}, nil
}

// readLogSegment reads logPath from offset to EOF, the way
// internal/stream/stream.go's tailFrom already does for SSE, so a
// synchronous run's Output never includes an earlier run's text.
func readLogSegment(logPath string, offset int64) (string, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func quoteDoFilePath(path string) string {
	return fmt.Sprintf("%q", path)
}
