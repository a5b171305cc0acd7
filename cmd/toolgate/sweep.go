package main

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/gosuda/toolgate/internal/config"
	"github.com/gosuda/toolgate/internal/gateway"
	"github.com/gosuda/toolgate/internal/store/postgres"
)

func sweepCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim stale claims, expire overdue approvals, fail stuck executions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *postgres.Store) error {
				sweeper := gateway.NewSweeper(
					store.Approvals(),
					store.Executions(),
					nil,
					cfg.Gateway.StaleClaimAfter,
					cfg.Gateway.StuckExecAfter,
					cfg.Gateway.SweepInterval,
				)

				if once {
					return sweeper.RunOnce(ctx)
				}
				sweeper.Run(ctx)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep pass and exit")

	return cmd
}

// withStore loads configuration, opens the store, and tears it down
// after fn returns.
func withStore(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, store *postgres.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, cfg, store)
}
