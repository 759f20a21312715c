package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/config"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/logging"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/relay"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/server"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/telemetry"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/usage"
)

func newServeCommand(c *cli) *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Starts the HTTP API. Routes:
  GET  /api/health            Health probe
  GET  /api/models            List models (?provider=&outputModality=)
  POST /api/chat              Conversation (?raw=1)
  POST /api/chat/stream       Conversation as SSE
  POST /api/rag               Knowledge base retrieve and generate (?raw=1)
  POST /api/agent/invoke      Agent invocation (?trace=1)
  POST /api/agent/stream      Agent invocation as SSE
  GET  /api/usage/recent      Recent usage records (?limit=)
  GET  /api/usage/summary     Usage averages (?limit=)
  GET  /api/usage/cost        Cost estimate (?priceIn=&priceOut=&requests=)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("host") {
				c.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				if port < 0 || port > 65535 {
					return fmt.Errorf("invalid port %d", port)
				}
				c.cfg.Server.Port = port
			}
			return c.serve(cmd.Context(), watch)
		},
	}
	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "Address to bind")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Port number for the HTTP server")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload CORS origins and log level when the config file changes")
	return cmd
}

func (c *cli) serve(ctx context.Context, watch bool) error {
	cfg := c.cfg
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	b, err := backendFactory(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	ledger := usage.NewLedger(cfg.Usage.Capacity)
	rl := relay.New(ledger,
		relay.WithLogger(c.logger.Named("relay")),
		relay.WithEstimateLanguage(cfg.Usage.EstimateLang),
	)
	srv, err := server.New(server.Options{
		Chat:              b.chat,
		KnowledgeBase:     b.kb,
		Agents:            b.agents,
		Relay:             rl,
		Logger:            c.logger.Named("server"),
		Production:        cfg.Production(),
		BodyLimit:         cfg.Server.BodyLimitBytes,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		H2C:               cfg.Server.H2C,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	if watch && cfg.SourcePath != "" {
		c.watchConfig(ctx, srv)
	}

	addr := net.JoinHostPort(strings.TrimSpace(cfg.Server.Host), strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	fmt.Fprintf(c.streams.out, "bedrockctl serve listening on http://%s (provider %s)\n", ln.Addr(), b.chat.Name())
	return srv.Serve(ctx, ln)
}

// watchConfig applies reloadable settings to the running server.
func (c *cli) watchConfig(ctx context.Context, srv *server.Server) {
	w := config.NewWatcher(c.loader, config.WithWatchLogger(c.logger.Named("config")))
	w.Subscribe(func(cfg *config.Config) {
		srv.SetAllowedOrigins(cfg.Server.AllowedOrigins)
		if c.logLevel != "" {
			return
		}
		if err := logging.SetLevel(c.level, cfg.Log.Level); err != nil {
			c.logger.Warn("ignoring log level", zap.Error(err))
		}
	})
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()
}
