package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leafsii/cachekit/internal/api"
	"github.com/leafsii/cachekit/internal/config"
	"github.com/leafsii/cachekit/internal/log"
	"github.com/leafsii/cachekit/internal/metrics"
	"github.com/leafsii/cachekit/pkg/kv"
	_ "github.com/leafsii/cachekit/pkg/kv/memory"
	kvredis "github.com/leafsii/cachekit/pkg/kv/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	baseLogger, err := log.NewLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer baseLogger.Sync()
	logger := baseLogger.Sugar()

	logger.Infow("Starting cachekit",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"backend", cfg.Store.Backend,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("cachekit")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Build the store; the redis backend probes the server and falls back to
	// memory when failover is enabled
	kvCfg := cfg.KV()
	kvCfg.Logger = baseLogger
	kvCfg.Recorder = metricsObj

	store, err := kv.NewStoreFromConfig(kvCfg)
	if err != nil {
		logger.Fatalw("Failed to initialize store", "error", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorw("Failed to close store", "error", err)
		}
	}()

	if pool, ok := kvredis.PoolOf(store); ok {
		if err := metricsObj.ObservePool(pool); err != nil {
			logger.Warnw("Failed to register pool metrics", "error", err)
		}
	}

	handler := api.NewHandler(store, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM, cfg.Security.RequestTimeout)
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Security.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("Server failed", "error", err)
		}
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
