package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/hyperengineering/pantry/internal/api"
	"github.com/hyperengineering/pantry/internal/store"
	"github.com/hyperengineering/pantry/internal/types"
	"github.com/hyperengineering/pantry/internal/worker"
	"github.com/spf13/cobra"
)

var (
	serveDBPath string
	serveSeed   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference remote source",
	Long:  "Serve restaurants and reviews over HTTP from a SQLite database, optionally seeded from a JSON file of restaurants.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDBPath, "db", "data/remote.db",
		"Database of the served records")
	serveCmd.Flags().StringVar(&serveSeed, "seed", "",
		"JSON file with an array of restaurants (or {\"restaurants\": [...]}) to load before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// 1. Initialize store (migrations, WAL mode)
	db, err := store.OpenSQLiteStore(ctx, serveDBPath)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "component", "serve", "path", serveDBPath)

	// 2. Seed
	if serveSeed != "" {
		n, err := seedStore(ctx, db, serveSeed)
		if err != nil {
			db.Close()
			return err
		}
		slog.Info("store seeded", "component", "serve", "file", serveSeed, "restaurants", n)
	}

	// 3. Configure HTTP server
	router := api.NewRouter(api.NewHandler(db, Version))
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	// 4. Background workers
	var wg sync.WaitGroup
	if retention := cfg.Server.IdempotencyRetention.Std(); retention > 0 {
		pruner := worker.NewIdempotencyPruner(db, cfg.Server.PruneInterval.Std(), retention)
		startWorker(ctx, &wg, "idempotency-pruner", pruner.Run)
	}

	// 5. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "component", "serve", "address", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "component", "serve", "error", err)
			cancel()
		}
	}()

	// 6. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated", "component", "serve")

	// 7. Graceful shutdown: drain in-flight requests, stop workers, close the store
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "component", "serve", "error", err)
	}
	wg.Wait()
	if err := db.Close(); err != nil {
		slog.Error("store close error", "component", "serve", "error", err)
	}

	slog.Info("shutdown complete", "component", "serve")
	return nil
}

// seedStore loads restaurants from path. Both a bare array and an object with
// a "restaurants" array are accepted. Missing timestamps are set to now.
func seedStore(ctx context.Context, db *store.SQLiteStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}

	var entities []types.Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		var wrapped struct {
			Restaurants []types.Entity `json:"restaurants"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return 0, fmt.Errorf("parse seed %s: %w", path, err)
		}
		entities = wrapped.Restaurants
	}

	now := types.Now()
	for i := range entities {
		if entities[i].ID <= 0 {
			return 0, fmt.Errorf("parse seed %s: restaurant at index %d has no id", path, i)
		}
		if entities[i].UpdatedAt.IsZero() {
			entities[i].UpdatedAt = now
		}
		if entities[i].CreatedAt.IsZero() {
			entities[i].CreatedAt = now
		}
	}

	res, err := db.PutEntities(ctx, entities)
	if err != nil {
		return 0, fmt.Errorf("seed store: %w", err)
	}
	return res.Written, nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
		slog.Debug("worker exited", "component", "serve", "worker", name)
	}()
}
