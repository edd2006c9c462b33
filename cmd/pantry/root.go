package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hyperengineering/pantry/internal/config"
	"github.com/hyperengineering/pantry/pkg/pantry"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath string
	jsonOutput bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "pantry",
	Short:         "Pantry - offline-capable restaurant and review cache",
	Version:       Version,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded
		slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (overrides PANTRY_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(restaurantsCmd)
	rootCmd.AddCommand(restaurantCmd)
	rootCmd.AddCommand(cuisinesCmd)
	rootCmd.AddCommand(neighborhoodsCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// newLogger builds the process logger. Logs go to w so command output on
// stdout stays machine-readable.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.Level)}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openClient creates and initializes a client from the loaded config. The
// caller must Shutdown it.
func openClient(ctx context.Context, autoReplay bool) (*pantry.Client, error) {
	c, err := pantry.New(pantry.Config{
		LocalPath:      cfg.Database.Path,
		RemoteURL:      cfg.Remote.BaseURL,
		Timeout:        cfg.Remote.Timeout.Std(),
		ReplayInterval: cfg.Replay.Interval.Std(),
		ProbeInterval:  cfg.Replay.ProbeInterval.Std(),
		Concurrency:    cfg.Replay.Concurrency,
		Lease:          cfg.Replay.Lease.Std(),
		AutoReplay:     autoReplay,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}
