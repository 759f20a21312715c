// Command bedrockctl serves the generative-AI proxy API and offers a few
// client-side helpers (model listing, one-shot chat, config management).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/config"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/logging"
)

// ioStreams wires stdout/stderr for commands and becomes injectable in tests.
type ioStreams struct {
	out io.Writer
	err io.Writer
}

// skipConfig marks commands that must run without a valid configuration.
const skipConfig = "skip-config"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	streams := ioStreams{out: os.Stdout, err: os.Stderr}
	if err := newRootCommand(streams).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(streams.err, "error:", err)
		}
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	streams    ioStreams
	configPath string
	envFiles   []string
	logLevel   string

	loader *config.Loader
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
}

func newRootCommand(streams ioStreams) *cobra.Command {
	c := &cli{streams: streams, logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "bedrockctl",
		Short: "Generative-AI proxy with usage accounting and SSE relaying",
		Long: `bedrockctl exposes model listing, chat, knowledge base retrieval and agent
invocation over HTTP, streams responses as Server-Sent Events and keeps an
in-memory usage ledger for cost estimation.

Configuration is read from bedrock.yaml (or --config), .env files and the
environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := cmd.Annotations[skipConfig]; ok {
				return nil
			}
			return c.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync()
		},
	}
	root.SetOut(streams.out)
	root.SetErr(streams.err)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Path to the YAML config file (default bedrock.yaml when present)")
	flags.StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before reading the environment")
	flags.StringVar(&c.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newServeCommand(c),
		newModelsCommand(c),
		newChatCommand(c),
		newConfigCommand(c),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (c *cli) setup() error {
	c.loader = config.NewLoader(c.configPath, config.WithEnvFiles(c.envFiles...))
	cfg, err := c.loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	logger, level, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: !cfg.Production(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	c.level = level
	return nil
}
