package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/toolgate/internal/domain"
)

// Sweeper periodically repairs abandoned state: claims held by crashed
// approvers go back to pending, overdue approvals expire, and
// executions stuck mid-run are failed. Every pass is a set of bulk
// conditional updates, so any number of sweeper replicas can run
// concurrently without double-processing a row.
type Sweeper struct {
	approvals  domain.ApprovalRepository
	executions domain.ToolExecutionRepository
	notifier   Notifier // nil disables notifications

	staleClaimAfter time.Duration
	stuckExecAfter  time.Duration
	interval        time.Duration
}

func NewSweeper(
	approvals domain.ApprovalRepository,
	executions domain.ToolExecutionRepository,
	notifier Notifier,
	staleClaimAfter, stuckExecAfter, interval time.Duration,
) *Sweeper {
	return &Sweeper{
		approvals:       approvals,
		executions:      executions,
		notifier:        notifier,
		staleClaimAfter: staleClaimAfter,
		stuckExecAfter:  stuckExecAfter,
		interval:        interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. A
// failed pass is logged and the loop keeps going; transient database
// trouble must not kill reclamation.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.interval).
		Dur("stale_claim_after", s.staleClaimAfter).
		Dur("stuck_execution_after", s.stuckExecAfter).
		Msg("sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("sweep pass failed")
			}
		}
	}
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()

	reclaimed, err := s.approvals.ReclaimStale(ctx, now.Add(-s.staleClaimAfter))
	if err != nil {
		return fmt.Errorf("gateway.Sweeper.RunOnce: reclaim stale claims: %w", err)
	}
	if len(reclaimed) > 0 {
		log.Info().Int("count", len(reclaimed)).Msg("reclaimed stale claims")
		s.notifyReclaimed(ctx, len(reclaimed))
	}

	expired, err := s.approvals.ExpireOverdue(ctx, now)
	if err != nil {
		return fmt.Errorf("gateway.Sweeper.RunOnce: expire overdue approvals: %w", err)
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("expired overdue approvals")
	}

	stuck, err := s.executions.ReclaimStuck(ctx, now.Add(-s.stuckExecAfter))
	if err != nil {
		return fmt.Errorf("gateway.Sweeper.RunOnce: reclaim stuck executions: %w", err)
	}
	if len(stuck) > 0 {
		log.Warn().Int("count", len(stuck)).Msg("failed stuck executions")
	}

	return nil
}

func (s *Sweeper) notifyReclaimed(ctx context.Context, count int) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("Reclaimed %d stale approval claim(s); they are pending again", count)
	if err := s.notifier.Notify(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("send reclamation notification")
	}
}
