package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rizome-dev/roster/pkg/config"
	"github.com/rizome-dev/roster/pkg/monitoring"
	"github.com/rizome-dev/roster/pkg/state"
)

// RunServer opens the configured backend, serves until a termination signal
// or ctx cancellation, and then shuts everything down
func RunServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	monitor, err := monitoring.NewMonitor(&cfg.Monitoring)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}
	defer func() {
		if err := monitor.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Monitor shutdown failed")
		}
	}()

	snapshot, err := state.NewFromConfig(cfg.Server.State)
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", cfg.Server.State.Type, err)
	}
	defer func() {
		if err := snapshot.Close(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Backend close failed")
		}
	}()

	repo, err := NewRepository(ctx, snapshot)
	if err != nil {
		return err
	}

	srv, err := NewServer(cfg, repo, monitor, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	srv.WaitForShutdown(ctx)

	return srv.Stop(context.Background())
}
