package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/stata-bridge/cmd/stata-bridge/commands"
)

var rootCmd = &cobra.Command{
	Use:   "stata-bridge",
	Short: "Local HTTP/SSE/MCP bridge to a Stata Engine subprocess",
	Long: `stata-bridge runs a single Stata Engine per session behind an HTTP API,
an SSE streaming layer, and an MCP tool surface, so editors and agents can
run selections and .do files against a live Stata process without shelling
out per request.

Examples:
  stata-bridge server                       # start with defaults
  stata-bridge server --port 5050           # pick a fixed port
  stata-bridge server --multi-session       # allow more than one session`,
}

func init() {
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
