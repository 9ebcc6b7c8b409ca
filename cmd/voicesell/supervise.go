package main

import (
	"fmt"
	"os"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/supervisor"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSuperviseCmd(cfg func() *config.AgentConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "Run the worker and the health probe, restarting either when it exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to locate executable: %w", err)
			}

			sup := supervisor.New(supervisor.Options{
				Children: []supervisor.ChildSpec{
					{Name: "worker", Path: exe, Args: []string{"worker"}},
					{Name: "health", Path: exe, Args: []string{"health"}},
				},
				PollInterval: cfg().SupervisorPollInterval,
			})

			ctx, stop := signalContext()
			defer stop()

			logger.Base().Info("Supervisor starting",
				zap.String("executable", exe),
				zap.Duration("poll_interval", cfg().SupervisorPollInterval))
			return sup.Run(ctx)
		},
	}
}
