package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	var cfg *config.AgentConfig

	root := &cobra.Command{
		Use:           "voicesell",
		Short:         "Voice sales agent for LiveKit rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.LoadConfigFromEnv()
			if _, err := logger.Init(cfg.LogEnv); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	supervise := newSuperviseCmd(func() *config.AgentConfig { return cfg })
	root.RunE = supervise.RunE
	root.AddCommand(
		supervise,
		newWorkerCmd(func() *config.AgentConfig { return cfg }),
		newHealthCmd(func() *config.AgentConfig { return cfg }),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	// Load .env for local development. Variables already set in the environment win.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voicesell: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}
