package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Replay queued writes in the background until interrupted",
	Long: "Run the replay scheduler: queued writes are replayed on start, on a periodic tick " +
		"while writes are waiting, and whenever the remote comes back after an outage.",
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openClient(ctx, true)
	if err != nil {
		return err
	}

	slog.Info("daemon started",
		"component", "daemon",
		"remote", cfg.Remote.BaseURL,
		"replay_interval", cfg.Replay.Interval.Std(),
		"probe_interval", cfg.Replay.ProbeInterval.Std(),
	)

	<-ctx.Done()
	slog.Info("shutdown initiated", "component", "daemon")

	if err := c.Shutdown(); err != nil {
		slog.Error("client shutdown error", "component", "daemon", "error", err)
		return err
	}
	slog.Info("shutdown complete", "component", "daemon")
	return nil
}
