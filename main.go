// tailfeed tails the JSONL process logs of containerized coding-agent
// sessions, reduces them into deduplicated thread messages, persists those
// messages per session in SQLite, and streams them live over websockets.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"tailfeed/internal/config"
	"tailfeed/internal/feed"
	"tailfeed/internal/pipeline"
	"tailfeed/internal/registry"
	"tailfeed/internal/store"
	"tailfeed/internal/tailer"
)

func main() {
	os.Exit(run())
}

func run() int {
	flagSet := pflag.NewFlagSet("tailfeed", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to YAML config file")
	listenAddr := flagSet.String("listen", "", "listen address override")
	dataDir := flagSet.String("data-dir", "", "data directory override")
	logLevel := flagSet.String("log-level", "", "log level override (debug|info|warn|error)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "tailfeed: %v\n", err)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tailfeed: %v\n", err)
		return 1
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "tailfeed: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	messages, err := store.Open(cfg.MessageDBPath())
	if err != nil {
		logger.Error("failed to open message store", "error", err)
		return 1
	}
	defer messages.Close()

	sessions, err := registry.Open(cfg.SessionIndexPath(), logger)
	if err != nil {
		logger.Error("failed to open session registry", "error", err)
		return 1
	}

	hub := feed.NewHub(cfg.SubscriberBuffer, logger)
	fanout := feed.NewFanout(messages, hub, logger)
	manager := pipeline.NewManager(sessions, fanout, tailer.Options{
		PollInterval:   cfg.PollInterval.Std(),
		DebounceWindow: cfg.DebounceWindow.Std(),
	}, logger)

	app := NewApp(ctx, cfg, logger, messages, hub, fanout, sessions, manager)

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     app.routes(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: stream responses are open-ended. Handler
		// writes are bounded per-write by the stream's own deadlines.
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "data_dir", cfg.DataDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown incomplete", "error", err)
		}
		cancel()
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		exitCode = 1
	}

	// Stop pipelines before closing the hub and store: each stop runs the
	// final reducer flush, which still appends and publishes.
	manager.StopAll()
	hub.Close()

	logger.Info("shutdown complete")
	return exitCode
}
