package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/toolgate/internal/domain"
)

const executionColumns = `id, approval_id, idempotency_key, tool_name, tool_args, status,
	result, success, error_message, claimed_at, executed_at, completed_at, created_at`

type ToolExecutionRepo struct {
	pool *pgxpool.Pool
}

func NewToolExecutionRepo(pool *pgxpool.Pool) *ToolExecutionRepo {
	return &ToolExecutionRepo{pool: pool}
}

// Reserve is the idempotency index. One INSERT ... ON CONFLICT DO
// NOTHING decides the race: the winner's row lands in claimed status
// with its tool_execution_started event in the same transaction, and
// every loser gets the winner's record back instead of an error.
func (r *ToolExecutionRepo) Reserve(ctx context.Context, exec *domain.ToolExecution) (bool, *domain.ToolExecution, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("executionRepo.Reserve: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`INSERT INTO tool_executions (id, approval_id, idempotency_key, tool_name, tool_args, status, success, claimed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, now(), now())
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING `+executionColumns,
		exec.ID, exec.ApprovalID, exec.IdempotencyKey, exec.ToolName,
		[]byte(exec.ToolArgs), domain.ExecutionStatusClaimed,
	)

	created, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict: someone else holds (or held) this key.
		existing, getErr := r.GetByIdempotencyKey(ctx, exec.IdempotencyKey)
		if getErr != nil {
			return false, nil, fmt.Errorf("executionRepo.Reserve: fetch existing: %w", getErr)
		}
		return false, existing, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("executionRepo.Reserve: %w", err)
	}

	// Executions are started by the gateway on behalf of the approver;
	// the approval events carry the human identity.
	err = recordAudit(ctx, tx, &domain.AuditEvent{
		EventType:       domain.EventToolExecutionStarted,
		ActorID:         "system:executor",
		ApprovalID:      exec.ApprovalID,
		ToolExecutionID: &created.ID,
		Payload: map[string]any{
			"tool_name":       exec.ToolName,
			"idempotency_key": exec.IdempotencyKey,
		},
	})
	if err != nil {
		return false, nil, fmt.Errorf("executionRepo.Reserve: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("executionRepo.Reserve: commit: %w", err)
	}

	return true, created, nil
}

func (r *ToolExecutionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.ToolExecution, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM tool_executions WHERE idempotency_key = $1`, key)

	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("executionRepo.GetByIdempotencyKey: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("executionRepo.GetByIdempotencyKey: %w", err)
	}

	return e, nil
}

func (r *ToolExecutionRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tool_executions SET status = $1, executed_at = now()
		 WHERE id = $2 AND status = $3`,
		domain.ExecutionStatusRunning, id, domain.ExecutionStatusClaimed,
	)
	if err != nil {
		return fmt.Errorf("executionRepo.MarkRunning: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("executionRepo.MarkRunning: %w", domain.ErrInvalidState)
	}

	return nil
}

// Complete writes the terminal state and its audit event atomically.
// The WHERE clause keeps terminal rows immutable: completing an
// already-completed execution is ErrInvalidState, not an overwrite.
func (r *ToolExecutionRepo) Complete(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, result json.RawMessage, errMsg string, actorID string) error {
	if !status.Terminal() {
		return fmt.Errorf("executionRepo.Complete: status %q: %w", status, domain.ErrInvalidState)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("executionRepo.Complete: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var errMsgPtr *string
	if errMsg != "" {
		errMsgPtr = &errMsg
	}

	row := tx.QueryRow(ctx,
		`UPDATE tool_executions
		 SET status = $1, result = $2, success = $3, error_message = $4, completed_at = now()
		 WHERE id = $5 AND status IN ($6, $7)
		 RETURNING `+executionColumns,
		status, []byte(result), status == domain.ExecutionStatusSucceeded, errMsgPtr,
		id, domain.ExecutionStatusClaimed, domain.ExecutionStatusRunning,
	)

	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("executionRepo.Complete: %w", domain.ErrInvalidState)
	}
	if err != nil {
		return fmt.Errorf("executionRepo.Complete: %w", err)
	}

	eventType := domain.EventToolExecutionCompleted
	payload := map[string]any{
		"tool_name":       e.ToolName,
		"idempotency_key": e.IdempotencyKey,
		"success":         e.Success,
	}
	if status == domain.ExecutionStatusFailed {
		eventType = domain.EventToolExecutionFailed
		payload["error"] = errMsg
	}

	err = recordAudit(ctx, tx, &domain.AuditEvent{
		EventType:       eventType,
		ActorID:         actorID,
		ApprovalID:      e.ApprovalID,
		ToolExecutionID: &e.ID,
		Payload:         payload,
	})
	if err != nil {
		return fmt.Errorf("executionRepo.Complete: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("executionRepo.Complete: commit: %w", err)
	}

	return nil
}

// ReclaimStuck fails executions abandoned mid-flight by a crashed
// worker. The terminal failure forces retries through a fresh
// idempotency key instead of leaving zombies in running forever.
func (r *ToolExecutionRepo) ReclaimStuck(ctx context.Context, stuckBefore time.Time) ([]uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("executionRepo.ReclaimStuck: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.Query(ctx,
		`UPDATE tool_executions
		 SET status = $1, success = false, error_message = $2, completed_at = now()
		 WHERE status IN ($3, $4) AND claimed_at < $5
		 RETURNING id, approval_id, tool_name, idempotency_key`,
		domain.ExecutionStatusFailed, "reclaimed: executing worker presumed crashed",
		domain.ExecutionStatusClaimed, domain.ExecutionStatusRunning, stuckBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("executionRepo.ReclaimStuck: %w", err)
	}

	type stuck struct {
		id         uuid.UUID
		approvalID *uuid.UUID
		toolName   string
		key        string
	}
	var hits []stuck
	for rows.Next() {
		var h stuck
		if err := rows.Scan(&h.id, &h.approvalID, &h.toolName, &h.key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("executionRepo.ReclaimStuck: scan: %w", err)
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executionRepo.ReclaimStuck: rows: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(hits))
	for _, h := range hits {
		err = recordAudit(ctx, tx, &domain.AuditEvent{
			EventType:       domain.EventToolExecutionFailed,
			ActorID:         "system:sweeper",
			ApprovalID:      h.approvalID,
			ToolExecutionID: &h.id,
			Payload: map[string]any{
				"tool_name":       h.toolName,
				"idempotency_key": h.key,
				"error":           "reclaimed: executing worker presumed crashed",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("executionRepo.ReclaimStuck: %w", err)
		}
		ids = append(ids, h.id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("executionRepo.ReclaimStuck: commit: %w", err)
	}

	return ids, nil
}

func scanExecution(row pgx.Row) (*domain.ToolExecution, error) {
	var e domain.ToolExecution
	var toolArgs, result []byte

	err := row.Scan(
		&e.ID, &e.ApprovalID, &e.IdempotencyKey, &e.ToolName, &toolArgs, &e.Status,
		&result, &e.Success, &e.ErrorMessage, &e.ClaimedAt, &e.ExecutedAt, &e.CompletedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ToolArgs = toolArgs
	e.Result = result
	return &e, nil
}
