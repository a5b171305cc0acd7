package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/toolgate/internal/domain"
)

// Archiver moves audit events past the retention window into the
// archive table. Archival is the one sanctioned write path around the
// audit trail's append-only guard, and it records itself in the trail.
type Archiver struct {
	audit     domain.AuditRepository
	retention time.Duration
}

func NewArchiver(audit domain.AuditRepository, retention time.Duration) *Archiver {
	return &Archiver{audit: audit, retention: retention}
}

// RunOnce archives events older than the retention window on behalf of
// the given operator.
func (a *Archiver) RunOnce(ctx context.Context, actorID string) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	moved, err := a.audit.Archive(ctx, cutoff, actorID)
	if err != nil {
		return 0, fmt.Errorf("gateway.Archiver.RunOnce: %w", err)
	}

	log.Info().
		Int64("rows_moved", moved).
		Time("older_than", cutoff).
		Str("actor", actorID).
		Msg("audit events archived")

	return moved, nil
}
