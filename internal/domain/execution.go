package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusClaimed   ExecutionStatus = "claimed"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the execution reached a final state. Once
// terminal the row is immutable.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed
}

// ToolExecution records one (at most one) attempt to run a tool for a
// given idempotency key. The row is created at claim time, before the
// tool runs; its existence is the claim.
type ToolExecution struct {
	ID             uuid.UUID       `json:"id"`
	ApprovalID     *uuid.UUID      `json:"approval_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	ToolName       string          `json:"tool_name"`
	ToolArgs       json.RawMessage `json:"tool_args"`
	Status         ExecutionStatus `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	Success        bool            `json:"success"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ToolExecutionRepository interface {
	// Reserve is the idempotency index: a single atomic
	// "insert, on conflict return existing" against the unique key.
	// created=true means the caller holds the claim and the row is in
	// claimed status; created=false returns the prior record, whatever
	// its status. Never implemented as read-then-write.
	Reserve(ctx context.Context, exec *ToolExecution) (created bool, existing *ToolExecution, err error)

	GetByIdempotencyKey(ctx context.Context, key string) (*ToolExecution, error)

	// MarkRunning transitions claimed->running; zero affected rows is
	// ErrInvalidState.
	MarkRunning(ctx context.Context, id uuid.UUID) error

	// Complete writes the terminal status, result and error message,
	// together with the matching audit event, in one transaction.
	// Terminal rows are immutable afterwards.
	Complete(ctx context.Context, id uuid.UUID, status ExecutionStatus, result json.RawMessage, errMsg string, actorID string) error

	// ReclaimStuck fails executions stuck in claimed/running past the
	// threshold (crashed worker) as a single bulk conditional update.
	ReclaimStuck(ctx context.Context, stuckBefore time.Time) ([]uuid.UUID, error)
}
