package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/toolgate/internal/config"
	"github.com/gosuda/toolgate/internal/gateway"
	"github.com/gosuda/toolgate/internal/notify"
	"github.com/gosuda/toolgate/internal/server"
	"github.com/gosuda/toolgate/internal/store/postgres"
	redisstore "github.com/gosuda/toolgate/internal/store/redis"
	"github.com/gosuda/toolgate/internal/vault"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the approval gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
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

	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	var v *vault.Vault
	if cfg.Encryption.MasterKey != "" {
		v, err = vault.New(cfg.Encryption.MasterKey)
		if err != nil {
			return fmt.Errorf("encryption key: %w", err)
		}
		log.Info().Msg("checkpoint encryption enabled")
	} else {
		log.Warn().Msg("checkpoint encryption disabled; blobs are stored in plaintext")
	}

	var notifier gateway.Notifier
	if cfg.Slack.BotToken != "" && cfg.Slack.Channel != "" {
		notifier = notify.NewSlackNotifierFromToken(cfg.Slack.BotToken, cfg.Slack.Channel)
		log.Info().Str("channel", cfg.Slack.Channel).Msg("Slack notifications enabled")
	}

	// Deployments embedding the gateway register their real tools here.
	// The echo tool stays available as a wiring smoke test.
	registry := gateway.NewRegistry()
	registry.Register("echo", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		return args, nil
	})

	executor := gateway.NewExecutor(store.Executions(), registry)
	svc := gateway.NewService(store.Approvals(), store.Executions(), store.Audit(), executor, gateway.ServiceOptions{
		Vault:        v,
		PubSub:       pubsub,
		Notifier:     notifier,
		ApprovalTTL:  cfg.Gateway.ApprovalTTL,
		PendingLimit: cfg.Gateway.PendingListLimit,
	})

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sweeper := gateway.NewSweeper(
		store.Approvals(),
		store.Executions(),
		notifier,
		cfg.Gateway.StaleClaimAfter,
		cfg.Gateway.StuckExecAfter,
		cfg.Gateway.SweepInterval,
	)
	go sweeper.Run(ctx)

	srv := server.New(ctx, cfg, store, pubsub, svc)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
