package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nerrad567/mqtt-mcp/internal/api"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-mcp/internal/tools"
)

// serveOptions are the flags of the serve command.
type serveOptions struct {
	transport string
	port      int
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server exposing publish_message and receive_message.

With --transport stdio (the default) the server speaks MCP on stdin/stdout
and logs to stderr. With --transport http it serves streamable HTTP on
server.path, plus /health and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("transport") {
				cfg.Server.Transport = opts.transport
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = opts.port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validating config: %w", err)
			}

			return runServe(cmd.Context(), cfg, log, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.transport, "transport", "t", config.TransportStdio,
		"Transport to serve on (stdio|http)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0,
		"HTTP listen port (default server.port)")

	return cmd
}

// runServe wires the stack and serves until ctx is cancelled or stdin closes.
func runServe(ctx context.Context, cfg *config.Config, log *logging.Logger, in io.Reader, out io.Writer) error {
	log.Info("starting mqtt-mcp",
		"version", version,
		"commit", commit,
		"build_date", date,
		"transport", cfg.Server.Transport,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)

	st, err := buildStack(ctx, cfg, log, stackOptions{
		source:     "mcp",
		registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	mcpServer := tools.NewServer(cfg.Server.Name, version, st.service)

	switch cfg.Server.Transport {
	case config.TransportHTTP:
		err = serveHTTP(ctx, cfg, log, mcpServer, st)
	default:
		err = serveStdio(ctx, log, mcpServer, in, out)
	}

	log.Info("mqtt-mcp stopped")
	return err
}

func serveStdio(ctx context.Context, log *logging.Logger, mcpServer *server.MCPServer, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(log.Handler(), slog.LevelError))

	log.Info("serving MCP on stdio")
	err := stdio.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("serving stdio: %w", err)
}

func serveHTTP(ctx context.Context, cfg *config.Config, log *logging.Logger, mcpServer *server.MCPServer, st *stack) error {
	srv, err := api.New(api.Deps{
		Config:   cfg.Server,
		Auth:     cfg.Auth,
		Metrics:  cfg.Metrics,
		Logger:   log,
		MCP:      mcpServer,
		Audit:    st.audit,
		Gatherer: prometheus.DefaultGatherer,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing HTTP server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "address", srv.Addr())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}
