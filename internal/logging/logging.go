// Package logging provides the server's structured logger.
//
// A global, injectable *zap.SugaredLogger mirrors the teacher project's
// convention of a package-level Logger safe to use before Initialize runs.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a safe no-op until Initialize is
// called, so packages can hold a reference at init time without nil checks.
var Log = zap.NewNop().Sugar()

// Level names accepted by --log-level (spec.md §6).
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Options configures Initialize.
type Options struct {
	Level    string // one of Level*; defaults to INFO on unrecognized input
	FilePath string // optional; "" logs to stderr only
	JSON     bool   // structured JSON instead of the console encoder
}

func parseLevel(name string) zapcore.Level {
	switch strings.ToUpper(name) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Initialize builds the global logger from Options. It is safe to call more
// than once (e.g. after config reload); the previous logger is replaced.
func Initialize(opts Options) error {
	level := parseLevel(opts.Level)

	var core zapcore.Core
	writer, closeErr := openWriter(opts.FilePath)
	if closeErr != nil {
		return closeErr
	}

	if opts.JSON {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), writer, level)
	} else {
		core = zapcore.NewCore(newConsoleEncoder(), writer, level)
	}

	Log = zap.New(core).Sugar()
	return nil
}

// openWriter multi-writes to stderr and, when configured, a log file.
func openWriter(path string) (zapcore.WriteSyncer, error) {
	if path == "" {
		return zapcore.AddSync(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stderr), zapcore.AddSync(f)), nil
}

// Named returns a child logger scoped to a component, e.g. logging.Named("session").
func Named(component string) *zap.SugaredLogger {
	return Log.Named(component)
}
