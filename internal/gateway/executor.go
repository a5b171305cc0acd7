package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/toolgate/internal/domain"
)

const systemExecutor = "system:executor"

// Executor runs approved tool calls at most once per idempotency key.
// The claim is the execution row itself: Reserve inserts it atomically
// before the tool runs, so a second executor arriving with the same key
// finds the row and returns it instead of running the tool again. The
// tool call sits strictly between the claimed and terminal transitions,
// never before the claim.
type Executor struct {
	executions domain.ToolExecutionRepository
	registry   *Registry
}

func NewExecutor(executions domain.ToolExecutionRepository, registry *Registry) *Executor {
	return &Executor{
		executions: executions,
		registry:   registry,
	}
}

// Execute runs the tool named by the approval. When another execution
// already holds the approval's idempotency key the prior record is
// returned as-is, whatever its status; callers observing a non-terminal
// status are watching a concurrent run in flight.
func (e *Executor) Execute(ctx context.Context, approval *domain.Approval) (*domain.ToolExecution, error) {
	exec := &domain.ToolExecution{
		ID:             uuid.New(),
		ApprovalID:     &approval.ID,
		IdempotencyKey: approval.IdempotencyKey,
		ToolName:       approval.ToolName,
		ToolArgs:       approval.ToolArgs,
		Status:         domain.ExecutionStatusClaimed,
	}

	created, existing, err := e.executions.Reserve(ctx, exec)
	if err != nil {
		return nil, fmt.Errorf("gateway.Executor.Execute: reserve: %w", err)
	}
	if !created {
		log.Debug().
			Str("idempotency_key", approval.IdempotencyKey).
			Str("status", string(existing.Status)).
			Msg("execution already claimed, returning prior record")
		return existing, nil
	}

	if err := e.executions.MarkRunning(ctx, exec.ID); err != nil {
		return nil, fmt.Errorf("gateway.Executor.Execute: mark running: %w", err)
	}

	result, runErr := e.registry.Execute(ctx, approval.ToolName, approval.ToolArgs)

	status := domain.ExecutionStatusSucceeded
	errMsg := ""
	if runErr != nil {
		status = domain.ExecutionStatusFailed
		errMsg = runErr.Error()
		log.Warn().Err(runErr).
			Str("tool", approval.ToolName).
			Str("approval_id", approval.ID.String()).
			Msg("tool execution failed")
	}

	if err := e.executions.Complete(ctx, exec.ID, status, result, errMsg, systemExecutor); err != nil {
		return nil, fmt.Errorf("gateway.Executor.Execute: complete: %w", err)
	}

	final, err := e.executions.GetByIdempotencyKey(ctx, approval.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("gateway.Executor.Execute: reload: %w", err)
	}

	return final, nil
}
