package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/codeindex-mcp/internal/config"
	"github.com/aman-cerp/codeindex-mcp/internal/embed"
	"github.com/aman-cerp/codeindex-mcp/internal/logging"
	"github.com/aman-cerp/codeindex-mcp/internal/mcp"
	"github.com/aman-cerp/codeindex-mcp/internal/session"
)

// newServeCmd creates the "serve" command, which starts the MCP server.
// Every tool call is keyed by an absolute repository path, so a single
// invocation can serve any number of repositories over one transport.
func newServeCmd() *cobra.Command {
	var debugFlag bool
	var transport string
	var sessionName string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the CodeIndexMCP server, exposing index_codebase, search_code,
get_indexing_status, and clear_index over the Model Context Protocol.

Each tool call carries the absolute path of the repository to operate on, so
one server instance can back many repositories at once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = debugFlag // debug mode is handled by the root command's persistent flag
			ctx := cmd.Context()
			if sessionName != "" {
				return runServeWithSession(ctx, transport, 0, sessionName)
			}
			return runServe(ctx, transport, 0)
		},
	}

	cmd.Flags().BoolVar(&debugFlag, "debug", false, "Enable debug logging to ~/.codeindexmcp/logs/")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to serve on (stdio)")
	cmd.Flags().StringVar(&sessionName, "session", "", "Name of a saved session to resume before serving")

	return cmd
}

// runServe starts the MCP server over transport and blocks until ctx is
// canceled. port is accepted for forward compatibility with network
// transports; it is unused by the stdio transport.
func runServe(ctx context.Context, transport string, port int) error {
	if err := verifyStdinForMCP(); err != nil {
		slog.Warn("stdin validation warning", slog.String("error", err.Error()))
	}

	cleanup, err := logging.SetupMCPMode()
	if err == nil {
		defer cleanup()
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer embedder.Close()

	server, err := mcp.NewServer(embedder, cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = server.Close() }()

	// BUG-035: the background sync loop for an already-indexed cwd project
	// must never delay the MCP handshake. Kick it off in a goroutine so
	// Serve() below starts accepting requests immediately; a slow or
	// misbehaving filesystem only delays incremental sync, not startup.
	go warmCwdRepo(ctx, server, root)

	if cfg.Metrics.Enabled {
		go runMetricsServer(ctx, server, cfg.Metrics)
	}

	return server.Serve(ctx, transport)
}

// runServeWithSession resumes a named session before serving, so the
// resulting project root matches whatever repository that session last
// indexed. Logging is still MCP-safe: nothing about session resolution is
// written to stdout.
func runServeWithSession(ctx context.Context, transport string, port int, sessionName string) error {
	cleanup, err := logging.SetupMCPMode()
	if err == nil {
		defer cleanup()
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	mgr, err := session.NewManager(session.ManagerConfig{StoragePath: cfg.Sessions.StoragePath})
	if err == nil {
		if sess, openErr := mgr.Open(sessionName, root); openErr == nil {
			slog.Info("resumed session", slog.String("session", sessionName), slog.String("project", sess.ProjectPath))
			sess.UpdateLastUsed()
			_ = mgr.Save(sess)
		} else {
			slog.Warn("failed to open session, continuing without it",
				slog.String("session", sessionName), slog.String("error", openErr.Error()))
		}
	}

	return runServe(ctx, transport, port)
}

// warmCwdRepo opens root's repository handle (starting its background sync
// loop) if it has already been indexed. It waits
// CODEINDEX_WATCHER_STARTUP_TIMEOUT (if set) before opening, giving slow
// filesystems room to settle without blocking the caller: Serve() has
// already started accepting requests by the time this runs.
func warmCwdRepo(ctx context.Context, server *mcp.Server, root string) {
	startupTimeout := 0 * time.Second
	if v := os.Getenv("CODEINDEX_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, parseErr := time.ParseDuration(v); parseErr == nil {
			startupTimeout = d
		}
	}
	if startupTimeout > 0 {
		select {
		case <-time.After(startupTimeout):
		case <-ctx.Done():
			return
		}
	}

	if err := server.WarmRepo(ctx, root); err != nil {
		slog.Debug("background repo warm-up skipped", slog.String("root", root), slog.String("error", err.Error()))
	}
}

// runMetricsServer starts the Prometheus admin HTTP surface for server and
// blocks until ctx is canceled. Errors are logged, not returned: the metrics
// endpoint is ambient tooling, never worth taking down the MCP transport for.
func runMetricsServer(ctx context.Context, server *mcp.Server, cfg config.MetricsConfig) {
	ms := mcp.NewMetricsServer(server.MetricsRegistry(), cfg.Addr, cfg.Path)
	if err := ms.Serve(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("metrics server stopped", slog.String("error", err.Error()))
	}
}

// verifyStdinForMCP checks that stdin looks like a pipe (the expected
// transport for an MCP client), not an interactive terminal.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat stdin: %w", err)
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe; MCP clients connect via stdin/stdout, not an interactive shell")
	}
	return nil
}
