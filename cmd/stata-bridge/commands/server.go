package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/stata-bridge/internal/api"
	"github.com/teranos/stata-bridge/internal/config"
	"github.com/teranos/stata-bridge/internal/engine"
	"github.com/teranos/stata-bridge/internal/graphs"
	"github.com/teranos/stata-bridge/internal/logging"
	"github.com/teranos/stata-bridge/internal/session"
)

var (
	serverConfigFile string
)

// ServerCmd starts the stata-bridge HTTP/SSE/MCP server.
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the stata-bridge server",
	Long:    "Launch the HTTP/SSE/MCP bridge in front of one or more Stata Engine sessions.",
	RunE:    runServer,
}

func init() {
	flags := ServerCmd.Flags()
	flags.String("host", "127.0.0.1", "Bind address")
	flags.Int("port", 4891, "Bind port")
	flags.Bool("force-port", false, "Fail instead of picking a new port if the configured one is taken")

	flags.String("stata-path", "", "Path to the Stata executable")
	flags.String("stata-edition", "se", "Stata edition: mp, se, or be")

	flags.String("log-file", "session.log", "Session log file name")
	flags.String("log-file-location", "workspace", "Where the log file lives: dofile, parent, workspace, extension, custom")
	flags.String("custom-log-directory", "", "Directory to use when --log-file-location=custom")

	flags.String("workspace-root", ".", "Default working directory for new sessions")

	flags.String("result-display-mode", "compact", "Output filter mode: compact or full")
	flags.Int("max-output-tokens", 4000, "Token budget before output is spilled to a file")

	flags.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")

	flags.Bool("multi-session", false, "Allow more than one concurrent session")
	flags.Int("max-sessions", 8, "Maximum concurrent sessions in multi-session mode")
	flags.Int("session-timeout", 1800, "Idle session eviction timeout in seconds")

	flags.String("min-engine-version", "", "Minimum acceptable Stata version (semver, e.g. 17.0.0)")
	flags.Bool("print-config", false, "Print the resolved configuration and exit")

	flags.StringVar(&serverConfigFile, "config", "", "Path to a TOML config file")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.New(cmd.Flags(), serverConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.PrintConfig {
		return config.DumpYAML(cfg, os.Stdout)
	}

	if err := logging.Initialize(logging.Options{Level: cfg.LogLevel}); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	log := logging.Named("server")

	if cfg.StataPath == "" {
		return fmt.Errorf("--stata-path is required")
	}

	graphIndex := graphs.NewIndex()
	defer graphIndex.Close()

	newWorker := func(sessionID string) (*engine.Worker, error) {
		return engine.New(engine.Config{
			StataPath:        cfg.StataPath,
			Edition:          string(cfg.StataEdition),
			WorkspaceRoot:    cfg.WorkspaceRoot,
			MinEngineVersion: cfg.MinEngineVersion,
			LogFile:          cfg.LogFile,
			LogFileLocation:  string(cfg.LogFileLocation),
			CustomLogDir:     cfg.CustomLogDir,
		}, graphIndex)
	}

	sessions := session.New(
		cfg.MaxSessions,
		cfg.MultiSession,
		time.Duration(cfg.SessionTimeout)*time.Second,
		newWorker,
		graphIndex,
	)
	if err := sessions.Start(); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}
	defer sessions.Stop()

	srv := api.New(cfg, sessions, graphIndex)

	listener, addr, err := bindListener(cfg.Host, cfg.Port, cfg.ForcePort)
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	if listener.Addr().(*net.TCPAddr).Port != cfg.Port {
		log.Warnw("configured port unavailable, fell back to an OS-assigned port",
			"configured_port", cfg.Port, "bound_addr", addr)
	}

	httpSrv := &http.Server{Handler: srv.Mux()}

	printStartupBanner(cfg, addr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			shutdownDone <- httpSrv.Shutdown(ctx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			log.Info("server stopped cleanly")
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigCh:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// bindListener binds host:port. If that fails and forcePort is set, the
// failure is returned as-is (spec.md's --force-port: "fail instead of
// picking a new port"); otherwise it falls back to an OS-assigned free
// port on the same host.
func bindListener(host string, port int, forcePort bool) (net.Listener, string, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	l, err := net.Listen("tcp", addr)
	if err == nil {
		return l, addr, nil
	}
	if forcePort {
		return nil, "", err
	}

	fallback := fmt.Sprintf("%s:0", host)
	l, ferr := net.Listen("tcp", fallback)
	if ferr != nil {
		return nil, "", fmt.Errorf("configured port %d unavailable (%w), fallback bind also failed: %v", port, err, ferr)
	}
	return l, l.Addr().String(), nil
}

func printStartupBanner(cfg *config.Config, addr string) {
	fmt.Println()
	pterm.Info.Printf("stata-bridge listening on http://%s\n", addr)
	pterm.Info.Printf("stata edition: %s\n", cfg.StataEdition)
	pterm.Info.Printf("multi-session: %v (max %d)\n", cfg.MultiSession, cfg.MaxSessions)
	pterm.Info.Println("MCP mounts: /mcp (SSE), /mcp-streamable (Streamable HTTP)")
	fmt.Println()
}
