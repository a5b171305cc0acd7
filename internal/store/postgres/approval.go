package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/toolgate/internal/domain"
)

const approvalColumns = `id, thread_id, checkpoint_id, tool_name, tool_args, actor_id, status,
	idempotency_key, checkpoint, claimed_at, claimed_by, resolved_at, resolved_by, rejection_reason, expires_at, created_at`

type ApprovalRepo struct {
	pool *pgxpool.Pool
}

func NewApprovalRepo(pool *pgxpool.Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// Create inserts the approval and its approval_created event in one
// transaction. A unique violation on idempotency_key is not treated as
// a storage error: it is how a duplicate submission discovers the
// original row, which is returned alongside ErrDuplicateIdempotencyKey.
func (r *ApprovalRepo) Create(ctx context.Context, a *domain.Approval) (*domain.Approval, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.Create: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO approvals (id, thread_id, checkpoint_id, tool_name, tool_args, actor_id, status, idempotency_key, checkpoint, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ThreadID, a.CheckpointID, a.ToolName, []byte(a.ToolArgs),
		a.ActorID, a.Status, a.IdempotencyKey, a.Checkpoint, a.ExpiresAt, a.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, getErr := r.GetByIdempotencyKey(ctx, a.IdempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("approvalRepo.Create: fetch existing: %w", getErr)
			}
			return existing, fmt.Errorf("approvalRepo.Create: key %q: %w", a.IdempotencyKey, domain.ErrDuplicateIdempotencyKey)
		}
		return nil, fmt.Errorf("approvalRepo.Create: %w", err)
	}

	err = recordAudit(ctx, tx, &domain.AuditEvent{
		EventType:  domain.EventApprovalCreated,
		ActorID:    a.ActorID,
		ThreadID:   &a.ThreadID,
		ApprovalID: &a.ID,
		Payload: map[string]any{
			"tool_name":       a.ToolName,
			"idempotency_key": a.IdempotencyKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.Create: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("approvalRepo.Create: commit: %w", err)
	}

	return a, nil
}

func (r *ApprovalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Approval, error) {
	return r.getBy(ctx, "approvalRepo.GetByID", `WHERE id = $1`, id)
}

func (r *ApprovalRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Approval, error) {
	return r.getBy(ctx, "approvalRepo.GetByIdempotencyKey", `WHERE idempotency_key = $1`, key)
}

func (r *ApprovalRepo) getBy(ctx context.Context, caller, where string, arg any) (*domain.Approval, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals `+where, arg)

	a, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", caller, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caller, err)
	}

	return a, nil
}

func (r *ApprovalRepo) ListPending(ctx context.Context, threadID string, limit int) ([]*domain.Approval, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approvals
		 WHERE status = $1 AND ($2 = '' OR thread_id = $2)
		 ORDER BY created_at
		 LIMIT $3`,
		domain.ApprovalStatusPending, threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.ListPending: %w", err)
	}
	defer rows.Close()

	return scanApprovals(rows, "approvalRepo.ListPending")
}

// Claim transitions pending->claimed. The WHERE clause is the
// concurrency mechanism: of N concurrent claimers exactly one update
// matches a pending row, and everyone else classifies the zero-row
// result against the row's current state.
func (r *ApprovalRepo) Claim(ctx context.Context, id uuid.UUID, approverID string) (*domain.Approval, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.Claim: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`UPDATE approvals
		 SET status = $1, claimed_at = now(), claimed_by = $2
		 WHERE id = $3 AND status = $4 AND (expires_at IS NULL OR expires_at > now())
		 RETURNING `+approvalColumns,
		domain.ApprovalStatusClaimed, approverID, id, domain.ApprovalStatusPending,
	)

	a, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.classifyClaimFailure(ctx, id, approverID)
	}
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.Claim: %w", err)
	}

	err = recordAudit(ctx, tx, &domain.AuditEvent{
		EventType:  domain.EventApprovalClaimed,
		ActorID:    approverID,
		ThreadID:   &a.ThreadID,
		ApprovalID: &a.ID,
		Payload: map[string]any{
			"tool_name":       a.ToolName,
			"idempotency_key": a.IdempotencyKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.Claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("approvalRepo.Claim: commit: %w", err)
	}

	return a, nil
}

// classifyClaimFailure turns an unmatched claim update into a typed
// error. Approvals found past their expiry are lazily expired here so
// a claimer crossing the deadline sees ErrExpired rather than racing
// the sweeper.
func (r *ApprovalRepo) classifyClaimFailure(ctx context.Context, id uuid.UUID, actorID string) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("approvalRepo.Claim: %w", domain.ErrNotFound)
	}

	overdue := a.ExpiresAt != nil && a.ExpiresAt.Before(time.Now())
	if a.Status == domain.ApprovalStatusExpired || (a.Status == domain.ApprovalStatusPending && overdue) {
		if a.Status != domain.ApprovalStatusExpired {
			if expireErr := r.expireOne(ctx, a, actorID); expireErr != nil {
				return fmt.Errorf("approvalRepo.Claim: lazy expire: %w", expireErr)
			}
		}
		return fmt.Errorf("approvalRepo.Claim: %w", domain.ErrExpired)
	}

	switch a.Status {
	case domain.ApprovalStatusClaimed:
		return fmt.Errorf("approvalRepo.Claim: %w", domain.ErrAlreadyClaimed)
	default:
		return fmt.Errorf("approvalRepo.Claim: status %q: %w", a.Status, domain.ErrInvalidState)
	}
}

func (r *ApprovalRepo) expireOne(ctx context.Context, a *domain.Approval, actorID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE approvals SET status = $1 WHERE id = $2 AND status IN ($3, $4)`,
		domain.ApprovalStatusExpired, a.ID, domain.ApprovalStatusPending, domain.ApprovalStatusClaimed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Another caller transitioned the row first; nothing to do.
		return nil
	}

	err = recordAudit(ctx, tx, &domain.AuditEvent{
		EventType:  domain.EventApprovalExpired,
		ActorID:    actorID,
		ThreadID:   &a.ThreadID,
		ApprovalID: &a.ID,
		Payload:    map[string]any{"expires_at": a.ExpiresAt},
	})
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Resolve transitions claimed->approved|rejected. Only the actor that
// holds the claim may resolve; a stale or foreign view gets
// ErrInvalidState, never a silent coercion.
func (r *ApprovalRepo) Resolve(ctx context.Context, id uuid.UUID, decision domain.Decision, resolverID, reason string) (*domain.Approval, error) {
	var target domain.ApprovalStatus
	var eventType domain.EventType
	switch decision {
	case domain.DecisionApprove:
		target = domain.ApprovalStatusApproved
		eventType = domain.EventApprovalApproved
	case domain.DecisionReject:
		target = domain.ApprovalStatusRejected
		eventType = domain.EventApprovalRejected
	default:
		return nil, fmt.Errorf("approvalRepo.Resolve: decision %q: %w", decision, domain.ErrInvalidState)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.Resolve: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var rejectionReason *string
	if decision == domain.DecisionReject {
		if reason == "" {
			reason = "no reason provided"
		}
		rejectionReason = &reason
	}

	row := tx.QueryRow(ctx,
		`UPDATE approvals
		 SET status = $1, resolved_at = now(), resolved_by = $2, rejection_reason = $3
		 WHERE id = $4 AND status = $5 AND claimed_by = $6
		 RETURNING `+approvalColumns,
		target, resolverID, rejectionReason, id, domain.ApprovalStatusClaimed, resolverID,
	)

	a, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, fmt.Errorf("approvalRepo.Resolve: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("approvalRepo.Resolve: %w", domain.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.Resolve: %w", err)
	}

	payload := map[string]any{"resolved_by": resolverID, "tool_name": a.ToolName}
	if rejectionReason != nil {
		payload["reason"] = *rejectionReason
	}

	err = recordAudit(ctx, tx, &domain.AuditEvent{
		EventType:  eventType,
		ActorID:    resolverID,
		ThreadID:   &a.ThreadID,
		ApprovalID: &a.ID,
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.Resolve: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("approvalRepo.Resolve: commit: %w", err)
	}

	return a, nil
}

// ReclaimStale reverts claims held past the threshold back to pending
// in one bulk conditional update. Rows that resolved or expired in the
// meantime fall outside the WHERE clause and are untouched, which is
// what makes concurrent sweepers safe.
func (r *ApprovalRepo) ReclaimStale(ctx context.Context, claimedBefore time.Time) ([]uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.ReclaimStale: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// The old claimant is captured in a CTE; RETURNING on the UPDATE
	// would only see the cleared columns.
	rows, err := tx.Query(ctx,
		`WITH stale AS (
		     SELECT id, thread_id, claimed_by FROM approvals
		     WHERE status = $2 AND claimed_at < $3
		     FOR UPDATE SKIP LOCKED
		 )
		 UPDATE approvals a
		 SET status = $1, claimed_at = NULL, claimed_by = NULL
		 FROM stale s WHERE a.id = s.id
		 RETURNING s.id, s.thread_id, s.claimed_by`,
		domain.ApprovalStatusPending, domain.ApprovalStatusClaimed, claimedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.ReclaimStale: %w", err)
	}

	type reclaimed struct {
		id        uuid.UUID
		threadID  string
		claimedBy *string
	}
	var hits []reclaimed
	for rows.Next() {
		var h reclaimed
		if err := rows.Scan(&h.id, &h.threadID, &h.claimedBy); err != nil {
			rows.Close()
			return nil, fmt.Errorf("approvalRepo.ReclaimStale: scan: %w", err)
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approvalRepo.ReclaimStale: rows: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(hits))
	for _, h := range hits {
		payload := map[string]any{"claimed_before": claimedBefore.UTC().Format(time.RFC3339)}
		if h.claimedBy != nil {
			payload["abandoned_by"] = *h.claimedBy
		}
		err = recordAudit(ctx, tx, &domain.AuditEvent{
			EventType:  domain.EventStaleClaimReclaimed,
			ActorID:    "system:sweeper",
			ThreadID:   &h.threadID,
			ApprovalID: &h.id,
			Payload:    payload,
		})
		if err != nil {
			return nil, fmt.Errorf("approvalRepo.ReclaimStale: %w", err)
		}
		ids = append(ids, h.id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("approvalRepo.ReclaimStale: commit: %w", err)
	}

	return ids, nil
}

// ExpireOverdue transitions pending/claimed approvals past expires_at
// to expired, one bulk conditional update plus one event per row.
func (r *ApprovalRepo) ExpireOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.ExpireOverdue: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.Query(ctx,
		`UPDATE approvals
		 SET status = $1
		 WHERE status IN ($2, $3) AND expires_at IS NOT NULL AND expires_at < $4
		 RETURNING id, thread_id, expires_at`,
		domain.ApprovalStatusExpired, domain.ApprovalStatusPending, domain.ApprovalStatusClaimed, now,
	)
	if err != nil {
		return nil, fmt.Errorf("approvalRepo.ExpireOverdue: %w", err)
	}

	type expired struct {
		id        uuid.UUID
		threadID  string
		expiresAt time.Time
	}
	var hits []expired
	for rows.Next() {
		var h expired
		if err := rows.Scan(&h.id, &h.threadID, &h.expiresAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("approvalRepo.ExpireOverdue: scan: %w", err)
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approvalRepo.ExpireOverdue: rows: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(hits))
	for _, h := range hits {
		err = recordAudit(ctx, tx, &domain.AuditEvent{
			EventType:  domain.EventApprovalExpired,
			ActorID:    "system:sweeper",
			ThreadID:   &h.threadID,
			ApprovalID: &h.id,
			Payload:    map[string]any{"expires_at": h.expiresAt.UTC().Format(time.RFC3339)},
		})
		if err != nil {
			return nil, fmt.Errorf("approvalRepo.ExpireOverdue: %w", err)
		}
		ids = append(ids, h.id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("approvalRepo.ExpireOverdue: commit: %w", err)
	}

	return ids, nil
}

func scanApproval(row pgx.Row) (*domain.Approval, error) {
	var a domain.Approval
	var toolArgs []byte

	err := row.Scan(
		&a.ID, &a.ThreadID, &a.CheckpointID, &a.ToolName, &toolArgs, &a.ActorID,
		&a.Status, &a.IdempotencyKey, &a.Checkpoint, &a.ClaimedAt, &a.ClaimedBy,
		&a.ResolvedAt, &a.ResolvedBy, &a.RejectionReason, &a.ExpiresAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ToolArgs = toolArgs
	return &a, nil
}

func scanApprovals(rows pgx.Rows, caller string) ([]*domain.Approval, error) {
	var approvals []*domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return approvals, nil
}
