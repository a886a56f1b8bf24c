package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pitwall-labs/danksky/internal/api"
	"github.com/pitwall-labs/danksky/internal/api/handler"
	"github.com/pitwall-labs/danksky/internal/bluesky"
	"github.com/pitwall-labs/danksky/internal/config"
	"github.com/pitwall-labs/danksky/internal/fetcher"
	"github.com/pitwall-labs/danksky/internal/ledger"
	"github.com/pitwall-labs/danksky/internal/media"
	"github.com/pitwall-labs/danksky/internal/publisher"
	"github.com/pitwall-labs/danksky/internal/reddit"
	"github.com/pitwall-labs/danksky/internal/repository"
	"github.com/pitwall-labs/danksky/internal/scheduler"
	"github.com/pitwall-labs/danksky/internal/service"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	runOnce := flag.Bool("once", false, "Run a single sync cycle and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("danksky %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting danksky",
		"version", Version,
		"build_time", BuildTime,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Storage.ScratchPath, 0755); err != nil {
		logger.Error("failed to create scratch directory", "error", err)
		os.Exit(1)
	}

	processor, err := media.NewProcessor(logger)
	if err != nil {
		logger.Error("ffmpeg not available", "error", err)
		os.Exit(1)
	}

	posted, err := ledger.Open(cfg.Storage.LedgerPath, logger)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}

	history, err := repository.OpenHistory(cfg.Storage.HistoryPath)
	if err != nil {
		logger.Error("failed to open history database", "error", err)
		os.Exit(1)
	}
	defer history.Close()

	bsky := bluesky.NewClient(cfg.Bluesky, logger)
	if err := loginWithRetry(bsky, cfg.Bluesky, logger); err != nil {
		logger.Error("failed to log in", "error", err)
		os.Exit(1)
	}

	feed := reddit.NewClient(cfg.Reddit, logger)
	dl := fetcher.New(cfg.Fetch, processor, logger)
	pub := publisher.New(bsky, processor, cfg.Media, logger)

	syncSvc := service.NewSyncService(
		feed,
		dl,
		pub,
		posted,
		history,
		cfg.Reddit,
		cfg.Storage,
		logger,
	)

	cycle := func(ctx context.Context) error {
		_, err := syncSvc.RunCycle(ctx)
		return err
	}
	sched, err := scheduler.New(cfg.Schedule.Interval, cycle, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	if *runOnce {
		if err := sched.RunNow(context.Background()); err != nil {
			logger.Error("sync cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	runner := &cycleRunner{sched: sched, svc: syncSvc}
	statusHandler := handler.NewStatusHandler(history, runner, Version, logger)
	router := api.NewRouter(statusHandler)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Server.Enabled {
		go func() {
			logger.Info("starting HTTP server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("server error", "error", err)
				os.Exit(1)
			}
		}()
	}

	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Server.Enabled {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}

	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
		logger.Warn("cycle still running at shutdown deadline")
	}

	logger.Info("shutdown complete")
}

// cycleRunner adapts the scheduler and service to the status API.
type cycleRunner struct {
	sched *scheduler.Scheduler
	svc   *service.SyncService
}

func (r *cycleRunner) LastStats() *service.CycleStats { return r.svc.LastStats() }

func (r *cycleRunner) RunNow(ctx context.Context) error { return r.sched.RunNow(ctx) }

// loginWithRetry attempts the initial session a bounded number of
// times. A source feed outage degrades gracefully at cycle time, but
// without a session nothing can ever be posted, so this is fatal.
func loginWithRetry(client *bluesky.Client, cfg config.BlueskyConfig, logger *slog.Logger) error {
	ctx := context.Background()
	var err error
	for attempt := 1; attempt <= cfg.LoginAttempts; attempt++ {
		if err = client.Login(ctx); err == nil {
			return nil
		}
		logger.Warn("login failed",
			"attempt", attempt,
			"max_attempts", cfg.LoginAttempts,
			"error", err,
		)
		if attempt < cfg.LoginAttempts {
			time.Sleep(cfg.LoginBackoff)
		}
	}
	return err
}
