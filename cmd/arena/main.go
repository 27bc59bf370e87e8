// Command arena executes simulation runs from the terminal: a batch of
// repeated games against one pool, with a report printed after each.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/talgya/defi-arena/internal/config"
	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
	"github.com/talgya/defi-arena/internal/oracle"
	"github.com/talgya/defi-arena/internal/storage"
)

func main() {
	runs := flag.Int("runs", 1, "number of runs to execute")
	scripted := flag.Bool("scripted", false, "force the scripted oracle even when an API key is set")
	memOnly := flag.Bool("mem", false, "keep results in memory instead of SQLite")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	settings, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// --- Store ---
	var store storage.Store
	if *memOnly {
		store = storage.NewMemory()
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
	}
	defer store.Close()

	// --- Decision oracle ---
	var decider engine.Decider
	var summarizer *oracle.Summarizer
	client := oracle.NewClient(settings.MiniMaxAPIKey)
	if client.Enabled() && !*scripted {
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
	} else {
		decider = oracle.DefaultScript()
		slog.Info("using scripted oracle")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Learnings carry forward between runs, per agent.
	learnings := make(map[string]string)

	for n := 1; n <= *runs; n++ {
		run, err := engine.NewRun(n, settings.Simulation, decider, store)
		if err != nil {
			slog.Error("failed to build run", "run_number", n, "error", err)
			os.Exit(1)
		}
		for name, l := range learnings {
			run.Learnings[name] = l
		}

		if err := run.Execute(ctx); err != nil {
			slog.Error("run failed", "run_number", n, "error", err)
			os.Exit(1)
		}

		m := metrics.Compute(run.History)
		if err := store.SaveMetrics(ctx, m); err != nil {
			slog.Error("failed to save metrics", "run_id", run.ID, "error", err)
			os.Exit(1)
		}
		fmt.Print(metrics.FormatReport(m, settings.Simulation.NumAgents))

		if summarizer == nil {
			continue
		}

		summary, err := summarizer.Summarize(ctx, n, run.History, m)
		if err != nil {
			slog.Warn("run summary failed", "run_id", run.ID, "error", err)
		} else if err := store.SaveSummary(ctx, run.ID, summary); err != nil {
			slog.Warn("failed to save summary", "run_id", run.ID, "error", err)
		} else {
			fmt.Printf("\n%s\n\n", summary)
		}

		final := run.History[len(run.History)-1]
		for _, a := range final.Agents {
			learning, err := summarizer.ExtractLearning(ctx, a.Name, n,
				a.Profit.StringFixed(2), a.Strategy, m)
			if err != nil {
				slog.Warn("learning extraction failed", "agent", a.Name, "error", err)
				continue
			}
			learnings[a.Name] = learning
		}
	}

	// Cross-run trends once the batch finishes.
	if *runs > 1 {
		all, err := store.AllMetrics(ctx)
		if err == nil && len(all) > 1 {
			t := metrics.DetectTrends(all)
			fmt.Printf("Trends over %d runs: profit %s, inequality %s (avg profit %.2f, avg gini %.3f)\n",
				t.RunCount, t.ProfitTrend, t.InequalityTrend, t.AvgProfit, t.AvgGini)
		}
	}
}
