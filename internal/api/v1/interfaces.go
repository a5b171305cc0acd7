package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/toolgate/internal/domain"
	"github.com/gosuda/toolgate/internal/gateway"
)

// ApprovalService abstracts the gateway service for handler testing.
// *gateway.Service satisfies this interface.
type ApprovalService interface {
	CreateApproval(ctx context.Context, req gateway.CreateApprovalRequest) (*domain.Approval, bool, error)
	GetApproval(ctx context.Context, id uuid.UUID) (*domain.Approval, error)
	ListPending(ctx context.Context, threadID string, limit int) ([]*domain.Approval, error)
	Claim(ctx context.Context, id uuid.UUID, approverID string) (*domain.Approval, error)
	Approve(ctx context.Context, id uuid.UUID, resolverID string) (*domain.Approval, *domain.ToolExecution, error)
	Reject(ctx context.Context, id uuid.UUID, resolverID, reason string) (*domain.Approval, error)
	GetExecution(ctx context.Context, idempotencyKey string) (*domain.ToolExecution, error)
	ListAudit(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, error)
}
