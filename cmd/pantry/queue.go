package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List writes waiting for the remote",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay queued writes now",
	Args:  cobra.NoArgs,
	RunE:  runReplay,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show local store and remote status",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func runPending(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openClient(ctx, false)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	writes, err := c.PendingWrites(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"pending": writes,
			"total":   len(writes),
		})
	}

	if len(writes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending writes.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tKIND\tQUEUED\tATTEMPTS\tLAST ERROR")
	for _, p := range writes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			p.ID,
			p.Kind,
			ago(p.QueuedAt),
			p.Attempts,
			truncate(orDash(p.LastError), 60),
		)
	}
	return w.Flush()
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openClient(ctx, false)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	stats, err := c.ReplayQueued(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), stats)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d: %d confirmed, %d still queued (%s)\n",
		stats.Claimed, stats.Confirmed, stats.Failed, stats.Duration.Round(time.Millisecond))
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openClient(ctx, false)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	health := c.HealthCheck(ctx)

	var sizeBytes uint64
	if info, statErr := os.Stat(cfg.Database.Path); statErr == nil {
		sizeBytes = uint64(info.Size())
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"path":       cfg.Database.Path,
			"size_bytes": sizeBytes,
			"stats":      stats,
			"remote_url": cfg.Remote.BaseURL,
			"health":     health,
			"version":    Version,
		})
	}

	oldest := "-"
	if stats.OldestPending != nil {
		oldest = ago(*stats.OldestPending)
	}
	remote := "unreachable"
	if health.Remote {
		remote = "reachable (" + orDash(health.RemoteVersion) + ")"
	}

	fmt.Fprintf(out, "Database:      %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "Size:          %s\n", humanize.Bytes(sizeBytes))
	fmt.Fprintf(out, "Schema:        v%d\n", stats.SchemaVersion)
	fmt.Fprintf(out, "Restaurants:   %s\n", humanize.Comma(stats.EntityCount))
	fmt.Fprintf(out, "Reviews:       %s\n", humanize.Comma(stats.CommentCount))
	fmt.Fprintf(out, "Pending:       %d (oldest %s)\n", stats.PendingWrites, oldest)
	fmt.Fprintf(out, "Remote:        %s %s\n", orDash(cfg.Remote.BaseURL), remote)
	return nil
}
