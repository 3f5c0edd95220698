package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newExecuteCmd - команда запуска движка
func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Run the arbitrage engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Infof("starting arbitrage engine")
			if err := a.Run(ctx); err != nil {
				return err
			}
			logger.Infof("engine stopped")
			return nil
		},
	}
}
