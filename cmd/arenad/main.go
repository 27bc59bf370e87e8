// Command arenad serves the DeFi arena simulation over HTTP: REST
// endpoints to launch and inspect runs, a WebSocket feed for live turn
// updates, and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talgya/defi-arena/internal/api"
	"github.com/talgya/defi-arena/internal/config"
	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/oracle"
	"github.com/talgya/defi-arena/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	settings, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// --- Store ---
	var store storage.Store
	if settings.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), settings.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		store, err = storage.NewPostgres(context.Background(), pool)
		if err != nil {
			slog.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")
	} else {
		if err := os.MkdirAll(filepath.Dir(settings.SQLitePath), 0755); err != nil {
			slog.Error("failed to create data directory", "error", err)
			os.Exit(1)
		}
		store, err = storage.OpenSQLite(settings.SQLitePath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		slog.Info("database opened", "path", settings.SQLitePath)
	}
	defer store.Close()

	// --- Decision oracle ---
	var decider engine.Decider
	var summarizer *oracle.Summarizer
	if client := oracle.NewClient(settings.MiniMaxAPIKey); client.Enabled() {
		decider, err = oracle.NewTrader(client)
		if err != nil {
			slog.Error("failed to build oracle", "error", err)
			os.Exit(1)
		}
		summarizer, err = oracle.NewSummarizer(client)
		if err != nil {
			slog.Error("failed to build summarizer", "error", err)
			os.Exit(1)
		}
		slog.Info("LLM oracle enabled")
	} else {
		decider = oracle.DefaultScript()
		slog.Warn("MINIMAX_API_KEY not set, using scripted oracle")
	}

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run()

	// --- HTTP server ---
	server := api.NewServer(store, hub, decider, summarizer, settings.Simulation)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "port", settings.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}
