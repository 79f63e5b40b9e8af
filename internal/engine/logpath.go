package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveLogPath decides the session's single log file location, per the
// --log-file-location modes named in spec.md §6. The file name comes from
// --log-file (default "session.log"); the location mode only picks the
// directory. Because a session has exactly one log_path (spec.md §3),
// this is computed once at worker construction, not per request — the
// "dofile"/"parent" modes resolve relative to the configured workspace
// root rather than a request's file_path, since no do-file is known yet
// at worker creation time.
func resolveLogPath(cfg Config) (string, error) {
	name := cfg.LogFile
	if name == "" {
		name = "session.log"
	}

	var dir string
	switch cfg.LogFileLocation {
	case "dofile", "workspace", "":
		dir = cfg.WorkspaceRoot
	case "parent":
		dir = filepath.Dir(cfg.WorkspaceRoot)
	case "extension":
		dir = filepath.Join(cfg.WorkspaceRoot, ".stata-bridge")
	case "custom":
		if cfg.CustomLogDir == "" {
			return "", fmt.Errorf("log-file-location=custom requires --custom-log-directory")
		}
		dir = cfg.CustomLogDir
	default:
		return "", fmt.Errorf("unrecognized log-file-location %q", cfg.LogFileLocation)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory %s: %w", dir, err)
	}
	return filepath.Join(dir, name), nil
}

// truncateLogFile creates or empties the session log, used at session
// creation and on restart (spec.md §3 invariant iii) — never mid-run.
func truncateLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("truncate log file %s: %w", path, err)
	}
	return f.Close()
}
