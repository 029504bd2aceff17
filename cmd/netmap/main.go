// Package main is the entry point for the netmap scan service.
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

	"github.com/henno/go-topology/internal/api"
	"github.com/henno/go-topology/internal/callback"
	"github.com/henno/go-topology/internal/config"
	"github.com/henno/go-topology/internal/metrics"
	"github.com/henno/go-topology/internal/publisher"
	"github.com/henno/go-topology/internal/scanner"
	"github.com/henno/go-topology/internal/session"
	"go.uber.org/zap"
)

// discoverer is what the coordinator drives, plus a name for /api/status.
type discoverer interface {
	session.Discoverer
	Name() string
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	sugar, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = sugar.Sync() }()

	sugar.Infow("Starting netmap service",
		"port", cfg.Server.Port,
		"mode", cfg.Scanner.Mode,
		"workers", cfg.Scanner.Workers,
		"rate_limit", cfg.Scanner.RateLimit,
		"auth", cfg.Server.AuthSecret != "",
	)

	disc := newDiscoverer(cfg.Scanner, sugar)
	collector := metrics.New()
	opts := []session.Option{
		session.WithMaxDuration(cfg.Scanner.ScanMaxDuration()),
		session.WithMaxHostBits(cfg.Scanner.MaxHostBits),
		session.WithObserver(collector),
	}

	// Initialize RabbitMQ publisher
	if cfg.RabbitMQ.Enabled {
		pub, err := publisher.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, sugar)
		if err != nil {
			sugar.Fatalf("Failed to initialize publisher: %v", err)
		}
		defer func() { _ = pub.Close() }()
		opts = append(opts, session.WithObserver(pub))
	}

	// Progress and completion webhooks
	if cfg.Callback.ProgressURL != "" || cfg.Callback.CompleteURL != "" {
		reporter := callback.NewReporter(cfg.Callback.ProgressURL, cfg.Callback.CompleteURL, cfg.Callback.APIKey, sugar)
		defer reporter.Close()
		opts = append(opts, session.WithObserver(reporter))
	}

	coord := session.NewCoordinator(disc, sugar, opts...)

	// Initialize API server
	server := api.New(cfg.Server, coord, api.Info{
		Discoverer: disc.Name(),
		MockMode:   cfg.MockMode(),
	}, collector, sugar)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		sugar.Infof("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(ctx); err != nil {
		sugar.Errorf("Server forced to shutdown: %v", err)
	}

	// Stop any running scan
	if err := coord.Shutdown(ctx); err != nil {
		sugar.Errorf("Scan did not stop in time: %v", err)
	}

	sugar.Info("Server stopped")
}

func newDiscoverer(cfg config.ScannerConfig, logger *zap.SugaredLogger) discoverer {
	switch cfg.Mode {
	case config.ModeMock:
		return scanner.NewMock(time.Duration(cfg.MockDelay) * time.Millisecond)
	case config.ModeTCP:
		prober := scanner.NewTCPProber(cfg.CommonPorts, cfg.ProbeTimeout(), cfg.DeadHostThreshold, logger)
		return scanner.New(cfg, prober, logger)
	default:
		return scanner.New(cfg, scanner.NewICMPProber(cfg.ProbeTimeout(), 1, logger), logger)
	}
}
