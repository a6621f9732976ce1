package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rizome-dev/roster/pkg/config"
	"github.com/rizome-dev/roster/pkg/server"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		host      string
		port      int
		grpcPort  int
		stateType string
		statePath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference agents server",
		Long:  `Serve the agents REST resource, persisting records to the configured server backend.`,
		Example: `  roster serve
  roster serve --port 3001 --server-state sqlite --server-state-path ./agents.db
  roster serve --grpc-port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("host") {
				a.cfg.Server.HTTP.Host = host
			}
			if flags.Changed("port") {
				a.cfg.Server.HTTP.Port = port
			}
			if flags.Changed("grpc-port") {
				a.cfg.Server.GRPC.Enabled = true
				a.cfg.Server.GRPC.Port = grpcPort
			}
			if flags.Changed("server-state") {
				a.cfg.Server.State.Type = stateType
			}
			if flags.Changed("server-state-path") {
				a.cfg.Server.State.Path = statePath
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}

			if pidFile := os.Getenv("ROSTER_PID_FILE"); pidFile != "" {
				if err := writePIDFile(pidFile); err != nil {
					return err
				}
				defer os.Remove(pidFile)
			}

			return server.RunServer(cmd.Context(), a.cfg, a.logger)
		},
	}

	defaults := config.DefaultConfig().Server
	cmd.Flags().StringVar(&host, "host", defaults.HTTP.Host, "HTTP listen host")
	cmd.Flags().IntVarP(&port, "port", "p", defaults.HTTP.Port, "HTTP listen port")
	cmd.Flags().IntVar(&grpcPort, "grpc-port", defaults.GRPC.Port, "Enable the gRPC health service on this port")
	cmd.Flags().StringVar(&stateType, "server-state", defaults.State.Type, "Server backend (memory, file, badger, sqlite, postgres, redis)")
	cmd.Flags().StringVar(&statePath, "server-state-path", defaults.State.Path, "Server backend path")
	return cmd
}

func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	return nil
}
