// Package main implements the entry point for udprelay, a UDP datagram relay
// whose route table can be edited while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/udprelay/admin"
	"github.com/c360/udprelay/config"
	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/health"
	"github.com/c360/udprelay/metric"
	"github.com/c360/udprelay/natsclient"
	"github.com/c360/udprelay/relay"
	"github.com/c360/udprelay/store"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "udprelay"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args, out)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath, logger)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	routeStore, checks, closeStore, err := setupStore(ctx, cfg, metricsRegistry.CoreMetrics(), logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := relay.NewEngine(relay.EngineDeps{
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
		Bind:            cfg.Relay.Bind,
		MaxDatagramSize: cfg.Relay.MaxDatagramSize,
		StopTimeout:     cfg.Relay.StopTimeout,
	})
	if err != nil {
		return fmt.Errorf("create relay engine: %w", err)
	}

	if err := activateInitialTable(ctx, engine, routeStore, cfg, logger); err != nil {
		return err
	}

	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer, err = admin.NewServer(admin.Deps{
			Relay:         engine,
			Store:         routeStore,
			Monitor:       monitor,
			Checks:        checks,
			Metrics:       metricsRegistry.CoreMetrics(),
			Logger:        logger,
			StatsInterval: cfg.Admin.StatsInterval,
		})
		if err != nil {
			return fmt.Errorf("create admin server: %w", err)
		}
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
	}

	return runWithSignalHandling(ctx, cfg, engine, adminServer, metricsServer, cliCfg.ShutdownTimeout, logger)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string, out io.Writer) (*CLIConfig, *slog.Logger, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil, nil, true, nil
		}
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(out, "%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		fs.SetOutput(out)
		printDetailedHelp(fs)
		return nil, nil, true, nil
	}

	logger := setupLogger(out, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting udprelay",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads configuration from path. A missing file means defaults.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if skipped := loader.SkippedLayers(); len(skipped) > 0 {
		logger.Info("Config file not found, using defaults", "path", path)
	}
	return cfg, nil
}

// setupStore opens the configured route table store. The returned close
// function releases the backend's connection, if any.
func setupStore(
	ctx context.Context,
	cfg *config.Config,
	metrics *metric.Metrics,
	logger *slog.Logger,
) (store.Store, []admin.HealthCheck, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendNATS:
		client, err := connectToNATS(ctx, cfg.Store.NATS, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeClient := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("NATS close failed", "error", err)
			}
		}

		kv, err := store.NewKVStore(ctx, client, store.KVOptions{
			Bucket:  cfg.Store.NATS.Bucket,
			Key:     cfg.Store.NATS.Key,
			Timeout: cfg.Store.NATS.Timeout,
			Logger:  logger,
		})
		if err != nil {
			closeClient()
			return nil, nil, nil, fmt.Errorf("open route table bucket: %w", err)
		}
		logger.Info("Route table store ready", "backend", store.BackendNATS, "bucket", cfg.Store.NATS.Bucket)
		return store.WithMetrics(kv, store.BackendNATS, metrics), []admin.HealthCheck{client.Health}, closeClient, nil

	default:
		fileStore, err := store.NewFileStore(cfg.Store.Path, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open route table file: %w", err)
		}
		logger.Info("Route table store ready", "backend", store.BackendFile, "path", fileStore.Path())
		return store.WithMetrics(fileStore, store.BackendFile, metrics), nil, func() {}, nil
	}
}

// connectToNATS creates a client from the store settings and connects it
func connectToNATS(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClientName(appName),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.Timeout))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.DrainTimeout))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", cfg.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

// activateInitialTable starts the relay from the persisted table, or from the
// bootstrap inputs when nothing is persisted. A table that cannot be bound is
// logged and left inactive so it can be corrected from the admin surface.
func activateInitialTable(
	ctx context.Context,
	engine *relay.Engine,
	routeStore store.Store,
	cfg *config.Config,
	logger *slog.Logger,
) error {
	table, err := routeStore.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		table, err = cfg.BootstrapTable()
		if err != nil {
			return fmt.Errorf("build bootstrap table: %w", err)
		}
		logger.Info("No persisted route table, using bootstrap inputs", "inputs", table.Len())
	case err != nil:
		return fmt.Errorf("load route table: %w", err)
	default:
		logger.Info("Loaded persisted route table", "inputs", table.Len())
	}

	if err := engine.Reconfigure(ctx, table); err != nil {
		if errors.IsInvalid(err) {
			return fmt.Errorf("activate route table: %w", err)
		}
		logger.Error("Initial route table not activated, relay is idle until reconfigured", "error", err)
	}
	return nil
}

// runWithSignalHandling starts the HTTP servers and waits for a signal or a
// server failure, then shuts everything down.
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	engine *relay.Engine,
	adminServer *admin.Server,
	metricsServer *metric.Server,
	shutdownTimeout time.Duration,
	logger *slog.Logger,
) error {
	serverErr := make(chan error, 2)

	if adminServer != nil {
		go func() {
			serverErr <- adminServer.Start(cfg.Admin.Listen)
		}()
	}
	if metricsServer != nil {
		go func() {
			logger.Info("Metrics server listening", "address", metricsServer.Address())
			serverErr <- metricsServer.Start()
		}()
	}

	logger.Info("udprelay started",
		"generation", engine.Generation().ID,
		"inputs", engine.CurrentTable().Len())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
			logger.Error("Server failed, shutting down", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if adminServer != nil {
		if err := adminServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Admin server shutdown failed", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	routes := engine.Stats()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	logger.Info("Relay stopped", "routes_used", len(routes))

	logger.Info("udprelay shutdown complete")
	return runErr
}
