// Package stream implements the Streaming Layer (spec.md §4.6 / C6): SSE
// endpoints that tail a session's log file and push new lines as a run
// progresses, throttled with golang.org/x/time/rate the way the teacher's
// pulse packages throttle polling loops.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/stata-bridge/internal/engine"
	"github.com/teranos/stata-bridge/internal/logging"
)

// pollInterval is the log-tail poll cadence from spec.md §4.6 ("≈100-250ms").
const pollInterval = 150 * time.Millisecond

// Frame is the stream unit described in spec.md §3, serialized as one SSE
// "data:" line per frame.
type Frame struct {
	Kind string `json:"kind"` // status | stdout | error | done
	Text string `json:"text,omitempty"`
}

var statusMarkers = []string{
	"*** Execution started ***",
	"*** Execution ended ***",
	"Starting execution",
}

// Run drives one SSE response for an already-dispatched request: the
// caller obtains resultCh via session.Manager.DispatchAsync (so a busy
// session is rejected with session_busy/409 before any SSE header is
// written) and passes it in here along with worker, which Run uses only
// to read the log path and the log's current size. Run tails the log
// from that size forward, emitting frames until the run completes or the
// client disconnects (spec.md §4.6).
func Run(w http.ResponseWriter, r *http.Request, worker *engine.Worker, resultCh <-chan engine.RunOutcome) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var startOffset int64
	if info, err := os.Stat(worker.LogPath()); err == nil {
		startOffset = info.Size()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	tailLoop(r.Context(), w, flusher, worker.LogPath(), startOffset, resultCh)
}

// tailLoop polls the log file at pollInterval (rate-limited) until
// resultCh fires or the request context is cancelled (client disconnect,
// spec.md §4.6 point 5 — the run itself is not affected).
func tailLoop(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, logPath string, startOffset int64, resultCh <-chan engine.RunOutcome) {
	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)
	offset := startOffset

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case outcome := <-resultCh:
			offset = tailFrom(w, flusher, logPath, offset)
			emitDone(w, flusher, outcome)
			return
		case <-ctx.Done():
			logging.Named("stream").Debugw("client disconnected, stopping tail (run continues)")
			return
		case <-ticker.C:
			if !limiter.Allow() {
				continue
			}
			offset = tailFrom(w, flusher, logPath, offset)
		}
	}
}

// tailFrom reads logPath starting at offset, emitting one frame per new
// line, and returns the new offset. Missing files (not yet created) are
// treated as empty.
func tailFrom(w http.ResponseWriter, flusher http.Flusher, logPath string, offset int64) int64 {
	f, err := os.Open(logPath)
	if err != nil {
		return offset
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset
	}

	scanner := bufio.NewScanner(f)
	var read int64
	// Count the bytes the splitter actually consumes: ScanLines drops a
	// trailing "\r" from the token and a final line may lack its "\n".
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := bufio.ScanLines(data, atEOF)
		read += int64(advance)
		return advance, token, err
	})
	for scanner.Scan() {
		line := strings.ReplaceAll(scanner.Text(), "\r", "")
		if line == "" {
			continue
		}
		writeFrame(w, flusher, Frame{Kind: classify(line), Text: line})
	}
	return offset + read
}

func classify(line string) string {
	for _, marker := range statusMarkers {
		if strings.Contains(line, marker) {
			return "status"
		}
	}
	return "stdout"
}

func emitDone(w http.ResponseWriter, flusher http.Flusher, outcome engine.RunOutcome) {
	summary := map[string]any{
		"status":   outcome.Result.Status,
		"log_path": outcome.Result.LogPath,
		"graphs":   len(outcome.Result.Graphs),
	}
	if outcome.Err != nil {
		summary["error"] = outcome.Err.Error()
	}
	payload, _ := json.Marshal(summary)
	writeFrame(w, flusher, Frame{Kind: "done", Text: string(payload)})
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, f Frame) {
	fmt.Fprintf(w, "data: %s\n\n", frameLine(f))
	flusher.Flush()
}

func frameLine(f Frame) string {
	if f.Kind == "done" {
		return f.Text
	}
	payload, _ := json.Marshal(f)
	return string(payload)
}
