// Package main implements the entry point for the Caliban gateway: a
// GraphQL server that executes operations over NATS and serves subscriptions
// to clients over WebSocket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/patseev/caliban/engine/natsengine"
	"github.com/patseev/caliban/gateway/graphql"
	"github.com/patseev/caliban/metric"
	"github.com/patseev/caliban/natsclient"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "caliban"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// NATS
	natsClient, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	connectCtx, connectCancel := context.WithTimeout(signalCtx, 10*time.Second)
	defer connectCancel()
	if err := natsClient.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer natsClient.Close()

	// Execution engine
	eng, err := natsengine.New(natsClient, cfg.Engine, logger)
	if err != nil {
		return fmt.Errorf("create execution engine: %w", err)
	}

	// Metrics
	metricsRegistry := metric.NewMetricsRegistry()
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		go func() {
			slog.Info("Metrics server starting", "address", metricsServer.Address())
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				slog.Warn("Metrics server stop failed", "error", err)
			}
		}()
	}

	// Gateway
	server, err := graphql.NewServer(cfg.Gateway, eng, logger, metricsRegistry)
	if err != nil {
		return fmt.Errorf("create gateway server: %w", err)
	}
	if err := server.Setup(); err != nil {
		return fmt.Errorf("setup gateway server: %w", err)
	}

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(context.Background(), ready)
	}()

	select {
	case <-ready:
		slog.Info("Caliban gateway started",
			"address", cfg.Gateway.BindAddress,
			"path", cfg.Gateway.Path)
	case err := <-errCh:
		return fmt.Errorf("start gateway server: %w", err)
	case <-signalCtx.Done():
		return nil
	}

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("gateway server failed: %w", err)
	}

	if err := server.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	<-errCh

	slog.Info("Caliban shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting Caliban GraphQL gateway",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}
