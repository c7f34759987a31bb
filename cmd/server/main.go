package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/shellcache/internal/infrastructure/config"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags override env
	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "Server port")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Server host")
	flag.StringVar(&cfg.Agent.Version, "version", cfg.Agent.Version, "Cache version (bucket name)")
	flag.StringVar(&cfg.Agent.Origin, "origin", cfg.Agent.Origin, "Application origin")
	flag.StringVar(&cfg.Store.Backend, "store", cfg.Store.Backend, "Store backend: memory, disk, sqlite or redis")
	flag.StringVar(&cfg.Store.Path, "store-path", cfg.Store.Path, "Directory for disk and sqlite stores")
	flag.StringVar(&cfg.Store.RedisAddress, "redis", cfg.Store.RedisAddress, "Redis address")
	flag.BoolVar(&cfg.Server.ForwardProxy, "forward-proxy", cfg.Server.ForwardProxy, "Relay absolute-form requests to any host")
	flag.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (colored logs, debug level)")
	flag.Parse()

	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)

	srv, err := server.NewServer(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("Server error", zap.Error(runErr))
	}
}
