package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gosuda/toolgate/internal/config"
	"github.com/gosuda/toolgate/internal/gateway"
	"github.com/gosuda/toolgate/internal/store/postgres"
)

func archiveCmd() *cobra.Command {
	var olderThan time.Duration
	var actor string

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move audit events past the retention window into the archive table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *postgres.Store) error {
				retention := olderThan
				if retention <= 0 {
					retention = cfg.Gateway.AuditRetention
				}

				arch := gateway.NewArchiver(store.Audit(), retention)
				moved, err := arch.RunOnce(ctx, actor)
				if err != nil {
					return err
				}

				fmt.Printf("archived %d audit event(s)\n", moved)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override the retention window (e.g. 2160h)")
	cmd.Flags().StringVar(&actor, "actor", "admin:cli", "actor recorded in the audit_archived event")

	return cmd
}
