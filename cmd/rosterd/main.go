// Package main provides rosterd, the reference agents server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/rizome-dev/roster/internal/version"
	"github.com/rizome-dev/roster/pkg/config"
	"github.com/rizome-dev/roster/pkg/logging"
	"github.com/rizome-dev/roster/pkg/server"
)

var (
	configFile = flag.String("config", "", "Configuration file path (YAML or JSON)")
	envFile    = flag.String("env-file", "", "Env file to load (default .env when present)")

	// Server configuration flags
	host     = flag.String("host", "", "HTTP listen host")
	httpPort = flag.Int("http-port", 0, "HTTP server port")
	grpcPort = flag.Int("grpc-port", 0, "gRPC health server port (enables gRPC)")

	// Backend configuration flags
	stateType = flag.String("state", "", "Backend type (memory, file, badger, sqlite, postgres, redis)")
	statePath = flag.String("state-path", "", "Backend path for file, badger and sqlite")
	stateURL  = flag.String("state-url", "", "Backend URL for postgres and redis")

	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	versionFlag = flag.Bool("version", false, "Show version information")
	helpFlag    = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if *helpFlag {
		showHelp()
		os.Exit(0)
	}

	cfg, err := loadConfiguration()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("version", version.Version).
		Int("http_port", cfg.Server.HTTP.Port).
		Str("backend", cfg.Server.State.Type).
		Msg("Starting rosterd")

	if err := server.RunServer(ctx, cfg, logger); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

// loadConfiguration applies the command-line flags over the loaded config
func loadConfiguration() (*config.Config, error) {
	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	cfg, err := config.LoadConfig(*configFile, envFiles...)
	if err != nil {
		return nil, err
	}

	if *host != "" {
		cfg.Server.HTTP.Host = *host
		cfg.Server.GRPC.Host = *host
	}
	if *httpPort != 0 {
		cfg.Server.HTTP.Port = *httpPort
	}
	if *grpcPort != 0 {
		cfg.Server.GRPC.Enabled = true
		cfg.Server.GRPC.Port = *grpcPort
	}
	if *stateType != "" {
		cfg.Server.State.Type = *stateType
	}
	if *statePath != "" {
		cfg.Server.State.Path = *statePath
	}
	if *stateURL != "" {
		cfg.Server.State.URL = *stateURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func showHelp() {
	fmt.Printf("rosterd - reference agents REST server\n")
	fmt.Printf("\n")
	fmt.Printf("Usage:\n")
	fmt.Printf("  %s [flags]\n", os.Args[0])
	fmt.Printf("\n")
	fmt.Printf("Flags:\n")
	flag.PrintDefaults()
	fmt.Printf("\n")
	fmt.Printf("Examples:\n")
	fmt.Printf("  # Start server with default settings\n")
	fmt.Printf("  %s\n", os.Args[0])
	fmt.Printf("\n")
	fmt.Printf("  # Start server on the port the console expects\n")
	fmt.Printf("  %s -http-port 3001\n", os.Args[0])
	fmt.Printf("\n")
	fmt.Printf("  # Start server with the gRPC health service\n")
	fmt.Printf("  %s -grpc-port 9090\n", os.Args[0])
	fmt.Printf("\n")
	fmt.Printf("  # Start server with a SQLite backend\n")
	fmt.Printf("  %s -state sqlite -state-path ./roster.db\n", os.Args[0])
	fmt.Printf("\n")
	fmt.Printf("  # Start server with a Postgres backend\n")
	fmt.Printf("  %s -state postgres -state-url postgres://roster@localhost/roster?sslmode=disable\n", os.Args[0])
}
