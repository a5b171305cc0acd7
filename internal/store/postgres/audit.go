package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/toolgate/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so audit
// events can ride in the same transaction as the state transition
// they describe.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Record(ctx context.Context, e *domain.AuditEvent) error {
	return recordAudit(ctx, r.pool, e)
}

// recordAudit appends one event through whatever querier the caller is
// inside. There is no update or delete on this path; the audit_log
// guard trigger rejects both at the database level.
func recordAudit(ctx context.Context, q querier, e *domain.AuditEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("auditRepo.Record: %w", err)
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("auditRepo.Record: marshal payload: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO audit_log (id, event_type, actor_id, thread_id, approval_id, tool_execution_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.EventType, e.ActorID, e.ThreadID, e.ApprovalID, e.ToolExecutionID, payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("auditRepo.Record: %w", err)
	}

	return nil
}

func (r *AuditRepo) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, event_type, actor_id, thread_id, approval_id, tool_execution_id, payload, created_at
		 FROM audit_log
		 WHERE ($1 = '' OR event_type = $1)
		   AND ($2 = '' OR thread_id = $2)
		   AND ($3::uuid IS NULL OR approval_id = $3)
		 ORDER BY created_at DESC
		 LIMIT $4 OFFSET $5`,
		string(f.EventType), f.ThreadID, f.ApprovalID, limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.List: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows, "auditRepo.List")
}

// Archive moves events older than the cutoff into audit_log_archive.
// The delete-prevention guard is disabled and re-enabled inside the
// same transaction, keeping the privileged window as small as the
// operation itself, and the run is recorded as an audit_archived
// event before the transaction commits.
func (r *AuditRepo) Archive(ctx context.Context, olderThan time.Time, actorID string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.Archive: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `ALTER TABLE audit_log DISABLE TRIGGER audit_log_guard`); err != nil {
		return 0, fmt.Errorf("auditRepo.Archive: disable guard: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log_archive
		 SELECT id, event_type, actor_id, thread_id, approval_id, tool_execution_id, payload, created_at
		 FROM audit_log WHERE created_at < $1`,
		olderThan,
	); err != nil {
		return 0, fmt.Errorf("auditRepo.Archive: copy: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.Archive: delete: %w", err)
	}
	moved := tag.RowsAffected()

	if _, err := tx.Exec(ctx, `ALTER TABLE audit_log ENABLE TRIGGER audit_log_guard`); err != nil {
		return 0, fmt.Errorf("auditRepo.Archive: enable guard: %w", err)
	}

	// The archival itself leaves a trace in the live log.
	err = recordAudit(ctx, tx, &domain.AuditEvent{
		EventType: domain.EventAuditArchived,
		ActorID:   actorID,
		Payload: map[string]any{
			"older_than": olderThan.UTC().Format(time.RFC3339),
			"rows_moved": moved,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("auditRepo.Archive: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("auditRepo.Archive: commit: %w", err)
	}

	return moved, nil
}

func scanAuditEvents(rows pgx.Rows, caller string) ([]*domain.AuditEvent, error) {
	var events []*domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var payload []byte

		if err := rows.Scan(
			&e.ID, &e.EventType, &e.ActorID, &e.ThreadID,
			&e.ApprovalID, &e.ToolExecutionID, &payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("%s: unmarshal payload: %w", caller, err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return events, nil
}
