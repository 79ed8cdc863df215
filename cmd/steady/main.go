package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zsiec/steady/internal/config"
	"github.com/zsiec/steady/internal/health"
	"github.com/zsiec/steady/internal/logger"
	"github.com/zsiec/steady/internal/relay"
	"github.com/zsiec/steady/internal/server"
	"github.com/zsiec/steady/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	// Show version and exit if requested
	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Log startup information
	log.WithField("version", version.GetInfo().Short()).Info("Starting Steady relay server")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	// Relay manager owns all streaming sessions
	manager := relay.NewManager(&cfg.Relay, logger.NewLogrusAdapter(logger.WithComponent(log, "relay")))

	// Create server and wire in the relay routes
	srv := server.New(cfg, log)
	srv.RegisterHealthChecker(health.NewRelayChecker(manager))

	relayHandlers := relay.NewHandlers(manager,
		logger.NewLogrusAdapter(logger.WithComponent(log, "api")),
		srv.ErrorHandler())
	srv.RegisterRoutes(relayHandlers.RegisterRoutes)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	// Start server
	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Fatal("Server error")
	}

	// Tear down any sessions still relaying
	manager.Close()

	log.Info("Server shutdown complete")
}
