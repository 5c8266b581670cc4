package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/api-comb/app/api"
	"github.com/lysyi3m/api-comb/app/cache"
	"github.com/lysyi3m/api-comb/app/cfg"
	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/definitions"
	"github.com/lysyi3m/api-comb/app/downstream"
	"github.com/lysyi3m/api-comb/app/fetcher"
	"github.com/lysyi3m/api-comb/app/importer"
	"github.com/lysyi3m/api-comb/app/mapping"
	"github.com/lysyi3m/api-comb/app/scheduler"
	"github.com/lysyi3m/api-comb/app/tasks"
	"golang.org/x/time/rate"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting API Comb server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", version, "dirty", dirty)

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	limiter := rate.NewLimiter(rate.Limit(appCfg.FetchRateLimit), appCfg.FetchRateBurst)
	liveFetcher := fetcher.NewFetcher(httpClient, limiter, appCfg.UserAgent, appCfg.FetchTimeout)
	mapper := mapping.NewMapper(mapping.NewFilterer())
	syncClient := downstream.NewClient(httpClient, appCfg.DownstreamURL, appCfg.DownstreamAPIKey, appCfg.DownstreamTimeout)

	repo := database.NewRepository(db)
	executor := importer.NewExecutor(liveFetcher, mapper, syncClient)

	// Test and preview may read through Redis, scheduled runs always fetch live.
	var inspector api.Inspector = executor
	var responseCache api.ResponseCache
	if appCfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err := cache.NewCache(ctx, appCfg.RedisAddr)
		cancel()
		if err != nil {
			slog.Warn("Redis unavailable, preview caching disabled", "addr", appCfg.RedisAddr, "error", err)
		} else {
			defer redisCache.Close()
			cached := fetcher.NewCachedFetcher(liveFetcher, redisCache, appCfg.PreviewCacheTTL)
			inspector = importer.NewExecutor(cached, mapper, syncClient)
			responseCache = redisCache
		}
	}

	sched := scheduler.NewScheduler(repo, executor, nil)

	defs := definitions.NewCache(appCfg.ImportsDir)
	if err := defs.Run(); err != nil {
		slog.Error("Failed to load import definitions", "dir", appCfg.ImportsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Import definitions loaded", "dir", appCfg.ImportsDir, "count", defs.Count())

	dispatcher := tasks.NewDispatcher(defs, repo, sched,
		time.Duration(appCfg.SchedulerInterval)*time.Second, appCfg.WorkerCount)
	dispatcher.Start()
	defer dispatcher.Stop()

	apiHandler := api.NewHandler(repo, sched, inspector, defs, dispatcher, responseCache, appCfg.Version)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port, "api_enabled", appCfg.APIAccessKey != "")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("API Comb server shutdown complete")
}
