package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DumpYAML writes the resolved config to w, for --print-config.
func DumpYAML(cfg *Config, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(cfg)
}

// WriteScaffold writes a commented default config file in TOML, the format
// am/load.go's LoadFromFile expects from the teacher project — kept here as
// the on-disk config format clients can hand-edit.
func WriteScaffold(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create scaffold %s: %w", path, err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# stata-bridge server configuration")
	fmt.Fprintln(f, "# generated scaffold; edit values below and restart the server")
	fmt.Fprintln(f)

	return toml.NewEncoder(f).Encode(defaultScaffold())
}

func defaultScaffold() map[string]any {
	return map[string]any{
		"host":                 "127.0.0.1",
		"port":                 4891,
		"stata_edition":        string(EditionSE),
		"log_file_location":    string(LogFileWorkspace),
		"workspace_root":       ".",
		"result_display_mode":  string(DisplayCompact),
		"max_output_tokens":    4000,
		"log_level":            "INFO",
		"multi_session":        false,
		"max_sessions":         8,
		"session_timeout":      1800,
	}
}
