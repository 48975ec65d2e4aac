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

	"chii/internal/api"
	"chii/internal/config"
	"chii/internal/logger"
	"chii/internal/models"
	"chii/internal/observability"
	"chii/internal/ratelimit"
	"chii/internal/storage"
	"chii/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
	writeExample = flag.String("write-example", "", "Write an example configuration file to the given path and exit")
)

// sweepingLimiter is a limiter with an in-memory key table.
type sweepingLimiter interface {
	ratelimit.Limiter
	Size() int
	StartReaper(ctx context.Context, interval time.Duration)
	Close()
}

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}
	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize rule storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err, "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	activeStorage := storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	seeded, err := storage.Seed(context.Background(), activeStorage, cfg.Limits)
	if err != nil {
		slog.Error("Failed to seed limit rules", "error", err)
		os.Exit(1)
	}
	slog.Info("Limit rules ready", "seeded", seeded, "configured", len(cfg.Limits))

	// Initialize the limiter
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	keyTable := newLimiter(cfg.Limiter)
	defer keyTable.Close()
	if cfg.Limiter.ReapInterval > 0 {
		keyTable.StartReaper(ctx, cfg.Limiter.ReapInterval)
	}

	var limiter ratelimit.Limiter = keyTable
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedLimiter(keyTable)
		if err != nil {
			slog.Error("Failed to create instrumented limiter", "error", err)
			os.Exit(1)
		}
		limiter = instrumented
	}

	throttleOpts := []ratelimit.ThrottleOption{ratelimit.WithTrustedHops(cfg.Limiter.TrustedHops)}
	if cfg.Limiter.ThrottleLoopback {
		throttleOpts = append(throttleOpts, ratelimit.WithLoopbackThrottled())
	}

	handlers := api.NewHandlers(activeStorage, limiter,
		api.WithTrackedKeys(keyTable.Size),
		api.WithVersion(ver),
		api.WithThrottleOptions(throttleOpts...),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"algorithm", cfg.Limiter.Algorithm,
			"storage", cfg.Storage.Type,
			"tls", cfg.Server.TLSEnabled,
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// newLimiter builds the configured admission algorithm.
func newLimiter(cfg models.LimiterConfig) sweepingLimiter {
	switch cfg.Algorithm {
	case models.AlgorithmTokenBucket:
		return ratelimit.NewTokenBucket()
	default:
		return ratelimit.NewStore()
	}
}
