// Package main provides the roster command-line console
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rizome-dev/roster/internal/version"
	"github.com/rizome-dev/roster/pkg/config"
	"github.com/rizome-dev/roster/pkg/logging"
)

const (
	appName        = "roster"
	appDescription = "roster - agent records console"
)

// options holds the global flags
type options struct {
	configFile string
	envFiles   []string
	baseURL    string
	stateType  string
	statePath  string
	logLevel   string
	verbose    bool
}

// app is shared by every command once the configuration is loaded
type app struct {
	opts   options
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           appName,
		Short:         appDescription,
		Long:          `roster manages agent records stored in a remote REST resource and keeps a local snapshot for offline use.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Shutdown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.configFile, "config", "c", "", "Configuration file path (YAML or JSON)")
	flags.StringSliceVar(&a.opts.envFiles, "env-file", nil, "Env files to load (default .env when present)")
	flags.StringVar(&a.opts.baseURL, "base-url", "", "Remote agents resource base URL")
	flags.StringVar(&a.opts.stateType, "state", "", "Snapshot backend (memory, file, badger, sqlite, postgres, redis)")
	flags.StringVar(&a.opts.statePath, "state-path", "", "Snapshot path for file, badger and sqlite backends")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "Show operational logs")

	root.AddCommand(
		a.listCmd(),
		a.showCmd(),
		a.addCmd(),
		a.editCmd(),
		a.rmCmd(),
		a.serveCmd(),
		a.configCmd(),
		versionCmd(),
	)

	return root
}

// setup loads configuration and logging for every command
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.opts.configFile, a.opts.envFiles...)
	if err != nil {
		return err
	}

	if a.opts.baseURL != "" {
		cfg.Remote.BaseURL = a.opts.baseURL
	}
	if a.opts.stateType != "" {
		cfg.State.Type = a.opts.stateType
	}
	if a.opts.statePath != "" {
		cfg.State.Path = a.opts.statePath
	}
	if a.opts.logLevel != "" {
		cfg.Logging.Level = a.opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logCfg := cfg.Logging
	// console commands report through their own output; logs are opt-in
	if !a.opts.verbose && a.opts.logLevel == "" && !isServe(cmd) {
		logCfg.Level = "error"
	}
	logger, err := logging.Init(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func isServe(cmd *cobra.Command) bool {
	return cmd.Name() == "serve"
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// version needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
