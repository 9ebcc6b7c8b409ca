package main

import (
	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/handler"
	"github.com/spf13/cobra"
)

func newHealthCmd(cfg func() *config.AgentConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Serve the liveness probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return handler.NewServer(cfg().Port).Run(ctx)
		},
	}
}
