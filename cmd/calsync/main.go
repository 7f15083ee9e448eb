package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/calsync/internal/caldav"
	"github.com/agentworkforce/calsync/internal/config"
	"github.com/agentworkforce/calsync/internal/httpapi"
	"github.com/agentworkforce/calsync/internal/scheduler"
	"github.com/agentworkforce/calsync/internal/syncer"
	"github.com/agentworkforce/calsync/internal/tracker"
	"github.com/agentworkforce/calsync/internal/watermark"
	"github.com/agentworkforce/calsync/internal/webhook"
)

func main() {
	configPath := flag.String("config", envOr("CALSYNC_CONFIG", "calsync.yaml"), "path to config file")
	flag.Parse()

	logger := log.New(os.Stderr, "[calsync] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	trackerClient := tracker.NewHTTPClient(cfg.Tracker.BaseURL, cfg.Tracker.APIToken, cfg.Tracker.Workspace, nil)
	calendarClient := caldav.NewHTTPClient(cfg.Calendar.BaseURL, cfg.Calendar.HomeSet, cfg.Calendar.Username, cfg.Calendar.Password, nil)

	store, err := watermark.Open(cfg.Sync.WatermarkDSN)
	if err != nil {
		logger.Fatalf("open watermark backend: %v", err)
	}

	retry := syncer.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Sync.RetryAttempts

	engine := syncer.New(syncer.Options{
		Tracker:         trackerClient,
		Calendar:        calendarClient,
		Watermark:       store,
		Retry:           retry,
		Logger:          logger,
		CalendarPrefix:  cfg.Calendar.Prefix,
		DefaultLookback: cfg.Sync.Lookback,
	})

	processor, err := webhook.NewProcessor(cfg.Webhook.Secret, engine, trackerClient, logger)
	if err != nil {
		logger.Fatalf("build webhook processor: %v", err)
	}

	jobs := scheduler.New(engine, logger, scheduler.Options{
		SyncInterval:     cfg.Sync.Interval,
		CleanupInterval:  cfg.Sync.CleanupInterval,
		CleanupRetention: cfg.Sync.CleanupRetention,
	})
	if err := jobs.Start(); err != nil {
		logger.Fatalf("start scheduler: %v", err)
	}

	server := httpapi.NewServer(engine, processor, logger, httpapi.ServerConfig{
		AdminToken:      cfg.Server.AdminToken,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		Jobs:            jobs.Jobs,
	})

	if _, statErr := os.Stat(*configPath); statErr == nil {
		watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
			processor.UpdateSecret(next.Webhook.Secret)
			logger.Printf("config reloaded: webhook secret applied; connection and interval settings require restart")
		}, logger)
		if err != nil {
			logger.Printf("config watch unavailable: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // admin stream holds connections open
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("calsync listening on %s", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		logger.Fatalf("server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Printf("scheduler stop: %v", err)
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Printf("engine stop: %v", err)
	}
	logger.Printf("shutdown complete")
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
