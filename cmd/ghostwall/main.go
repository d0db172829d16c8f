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

	"ghostwall/internal/api"
	"ghostwall/internal/classify"
	"ghostwall/internal/config"
	"ghostwall/internal/detect"
	"ghostwall/internal/filter"
	"ghostwall/internal/logger"
	"ghostwall/internal/models"
	"ghostwall/internal/observability"
	"ghostwall/internal/ratelimit"
	"ghostwall/internal/session"
	"ghostwall/internal/storage"
	"ghostwall/internal/sweeper"
	"ghostwall/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("write-example-config", "", "Write an example configuration to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}
	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
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
	otelProvider, err := observability.Setup(cfg, ver)
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

	// Initialize storage
	store, err := initializeStorage(cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Wrap storage with instrumentation if metrics or tracing are enabled
	if cfg.Metrics.Enabled || cfg.Observability.Tracing.Enabled {
		instrumented, err := observability.NewInstrumentedStore(store)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		store = instrumented
	}
	metrics := otelProvider.Metrics()
	if err := otelProvider.ObserveVisitLog(store, cfg.Classification.PendingTimeout); err != nil {
		slog.Warn("Pending visit gauges unavailable", "error", err)
	}

	sessions, err := session.NewManager(cfg.Security.SessionSecret, cfg.Security.CookieSecure)
	if err != nil {
		slog.Error("Failed to initialize sessions", "error", err)
		os.Exit(1)
	}
	if cfg.Security.SessionSecret == "" {
		slog.Warn("No session secret configured; using a random one, pending visits will not survive a restart")
	}

	classifier := classify.NewService(store, sessions)

	// Initialize rate limiter if enabled
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		wl := ratelimit.NewWindowLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window,
			ratelimit.WithCleanupInterval(cfg.RateLimit.CleanupInterval),
			ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL),
		)
		defer wl.Close()
		limiter = wl
	}

	// One fault counter covers every fail-open visit log write
	faults := filter.NewFaultCounter(metrics)
	inbound := filter.New(filter.ConfigFrom(cfg), limiter, detect.New(cfg.Detection), store,
		filter.WithMetrics(metrics),
		filter.WithFaultCounter(faults),
	)

	handlers := api.NewHandlers(classifier, store, sessions, cfg,
		api.WithMetrics(metrics),
		api.WithFaultCounter(faults),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Promote stale provisional visits in the background
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sw := sweeper.New(store, classifier, cfg.Classification.SweepInterval, cfg.Classification.PendingTimeout,
		sweeper.WithObserver(func(res sweeper.Result) {
			metrics.RecordSweep(sweepCtx, res.Resolved, res.Missed, res.Failed)
		}),
	)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sw.Run(sweepCtx)
	}()

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Handler(router, inbound),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "storage", cfg.Storage.Type,
			"rate_limit", cfg.RateLimit.Enabled)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
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

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	stopSweeper()
	<-sweeperDone

	slog.Info("Server shutdown complete", "store_faults", inbound.Faults())
}

// initializeStorage creates and returns a storage instance based on configuration
func initializeStorage(cfg *models.Config) (storage.Store, error) {
	factory := storage.NewFactory()
	if err := factory.ValidateConfig(cfg.Storage); err != nil {
		return nil, err
	}
	return factory.Create(cfg.Storage)
}
