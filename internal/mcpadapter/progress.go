package mcpadapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"
)

// progressTailLines caps how many trailing log lines ride along with each
// progress notification, keeping the payload small for slow or chatty runs.
const progressTailLines = 5

// progressTick is how often long-running stata_run_file calls push a
// notifications/progress frame, throttled the same way internal/stream
// throttles its log tail.
const progressTick = 2 * time.Second

// progressReporter pushes elapsed-time progress notifications to the
// calling MCP client during a long stata_run_file invocation, grounded on
// the push-notification idiom in the jaakkos-stringwork reference server.
type progressReporter struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newProgressReporter(ctx context.Context, srv *server.MCPServer, req mcp.CallToolRequest, logPath string) *progressReporter {
	tickCtx, cancel := context.WithCancel(ctx)
	r := &progressReporter{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		limiter := rate.NewLimiter(rate.Every(progressTick), 1)
		ticker := time.NewTicker(progressTick)
		defer ticker.Stop()
		started := time.Now()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				if !limiter.Allow() {
					continue
				}
				elapsed := time.Since(started).Round(time.Second)
				msg := fmt.Sprintf("still running (%s elapsed)", elapsed)
				if tail := tailLines(logPath, progressTailLines); tail != "" {
					msg += "\n" + tail
				}
				_ = srv.SendNotificationToClient(tickCtx, "notifications/progress", map[string]any{
					"tool":    req.Params.Name,
					"message": msg,
				})
			}
		}
	}()

	return r
}

// tailLines returns up to n trailing non-empty lines from path, or "" if
// the file does not exist yet (the run may not have opened its log).
func tailLines(path string, n int) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[1:]
		}
	}

	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

func (r *progressReporter) stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
