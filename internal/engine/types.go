// Package engine implements the Engine Worker (spec.md §4.1 / C1): one
// isolated Stata subprocess per session, accessed through a single-consumer
// request queue.
//
// Grounded on the teacher's code/gopls package (a process wrapped behind a
// service + request API) and pulse/async's single-goroutine consumer loop.
package engine

import "time"

// State is the worker's lifecycle state (spec.md §4.1 state machine).
type State string

const (
	StateInitializing State = "initializing"
	StateReady         State = "ready"
	StateBusy          State = "busy"
	StateTerminating   State = "terminating"
	StateDead          State = "dead"
)

// RequestKind tags the Request union (spec.md §3).
type RequestKind string

const (
	RequestRunSelection RequestKind = "run_selection"
	RequestRunFile      RequestKind = "run_file"
	RequestBreak        RequestKind = "break"
	RequestRestart      RequestKind = "restart"
	RequestViewData     RequestKind = "view_data"
	RequestIntrospect   RequestKind = "introspect"
)

// Request is the tagged union described in spec.md §3. Only the fields
// relevant to Kind are populated by callers.
type Request struct {
	Kind RequestKind

	// RunSelection / RunFile
	Code        string
	FilePath    string
	WorkingDir  string
	Timeout     time.Duration
	SkipFilter  bool

	// ViewData
	IfCondition string
	MaxRows     int
}

// ResultStatus enumerates the outcome of a Request (spec.md §3).
type ResultStatus string

const (
	StatusSuccess   ResultStatus = "success"
	StatusError     ResultStatus = "error"
	StatusCancelled ResultStatus = "cancelled"
	StatusTimeout   ResultStatus = "timeout"
)

// GraphRef is one exported image (spec.md §3).
type GraphRef struct {
	Name         string    `json:"name"`
	AbsolutePath string    `json:"absolute_path"`
	CreatedAt    time.Time `json:"created_at"`
	Sequence     int       `json:"sequence"`
}

// Result is the outcome of a submitted Request (spec.md §3).
type Result struct {
	Status          ResultStatus `json:"status"`
	Output          string       `json:"output"`
	LogPath         string       `json:"log_path"`
	Graphs          []GraphRef   `json:"graphs,omitempty"`
	TruncatedToFile string       `json:"truncated_to_file,omitempty"`

	// View carries the parsed dataset for a RequestViewData result; nil
	// for every other Kind.
	View *DatasetView `json:"view,omitempty"`
}

// Health is the response to health() (spec.md §4.1), plus SPEC_FULL.md's
// supplemental WorkerStats/EngineVersionInfo fields.
type Health struct {
	EngineAvailable bool    `json:"engine_available"`
	Version         string  `json:"version"`
	Edition         string  `json:"edition"`
	MeetsMinimum    *bool   `json:"meets_minimum,omitempty"`
	Stats           *Stats  `json:"stats,omitempty"`
}

// Stats is SPEC_FULL.md §3's supplemental WorkerStats.
type Stats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	UptimeMS   int64   `json:"uptime_ms"`
}
