package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/billingops/gcp-billing-exporter/internal/collector"
	"github.com/billingops/gcp-billing-exporter/internal/config"
	"github.com/billingops/gcp-billing-exporter/internal/gcp"
	"github.com/billingops/gcp-billing-exporter/internal/logger"
	"github.com/billingops/gcp-billing-exporter/internal/refresh"
	"github.com/billingops/gcp-billing-exporter/internal/server"
	"github.com/billingops/gcp-billing-exporter/internal/snapshot"
	"github.com/billingops/gcp-billing-exporter/internal/version"
)

const (
	// DefaultShutdownTimeout is the maximum time to wait for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second
)

var configPath = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration first (need log level from config)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logger.New(cfg.LogLevel)
	logger.Info("GCP Billing Exporter starting",
		"version", version.Version,
		"config_path", *configPath)

	logger.Info("Configuration loaded successfully",
		"project_id", cfg.ProjectID,
		"dataset", cfg.Dataset,
		"timezone", cfg.Timezone,
		"refresh_interval_seconds", cfg.RefreshInterval,
		"window_days", cfg.WindowDays,
		"http_port", cfg.HTTPPort,
		"metrics_path", cfg.MetricsPath,
		"query_timeout_seconds", cfg.QueryTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Initializing BigQuery client")
	bqClient, err := gcp.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create BigQuery client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bqClient.Close(); err != nil {
			logger.Warn("Failed to close BigQuery client", "error", err)
		}
	}()

	cache := snapshot.NewCache()

	billingCollector := collector.NewBillingCollector(cache, cfg.ProjectID, cfg.BillingAccountID)
	if err := prometheus.Register(billingCollector); err != nil {
		logger.Error("Failed to register collector", "error", err)
		os.Exit(1)
	}

	// Go runtime and process metrics ship with the default registry since
	// client_golang 1.x; nothing extra to register.

	refresher := refresh.New(bqClient, cache, logger, refresh.Options{
		Interval:       time.Duration(cfg.RefreshInterval) * time.Second,
		AttemptTimeout: time.Duration(cfg.QueryTimeout) * time.Second * time.Duration(cfg.MaxRetries+1),
		Location:       cfg.Location(),
		WindowDays:     cfg.WindowDays,
	})
	refresher.Start(ctx)

	srv := server.NewServer(cfg, cache, promhttp.Handler(), logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		logger.Info("Received shutdown signal, starting graceful shutdown", "signal", sig.String())

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during server shutdown", "error", err)
			os.Exit(1)
		}

		logger.Info("Server stopped gracefully")
	}
}
