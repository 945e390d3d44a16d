package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dhowlett/cardsmith/internal/api"
	"github.com/dhowlett/cardsmith/internal/cards"
	"github.com/dhowlett/cardsmith/internal/config"
	"github.com/dhowlett/cardsmith/internal/ollama"
	"github.com/dhowlett/cardsmith/internal/outline"
	"github.com/dhowlett/cardsmith/internal/pipeline"
	"github.com/dhowlett/cardsmith/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("data dir unavailable", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("database open failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	client := ollama.NewClient(cfg.OllamaURL, cfg.ConnectTimeout, cfg.ReadTimeout)

	var partitioner outline.Partitioner
	if cfg.ChunkStrategy == "heuristic" {
		partitioner = outline.NewHeuristic()
	} else {
		engine := outline.NewEngine(client)
		engine.Attempts = cfg.OutlineAttempts
		partitioner = engine
	}

	orch := pipeline.NewOrchestrator(cfg, st, partitioner, cards.NewGenerator(client), cards.NewRefiner(client), log)
	orch.Start(ctx)

	srv := api.NewServer(st, orch, client, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Drain HTTP first so no handler can submit to a closing queue.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		client.Close()
		st.Close()
	}()

	log.Info("starting cardsmith", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
