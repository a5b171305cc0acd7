package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/toolgate/internal/domain"
	"github.com/gosuda/toolgate/internal/gateway"
	"github.com/gosuda/toolgate/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers — inject actor/role into context for DoCtx
// ---------------------------------------------------------------------------

func actorCtx(actorID, role string) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyActorID, actorID)
	ctx = context.WithValue(ctx, middleware.ContextKeyRole, role)
	return ctx
}

// ---------------------------------------------------------------------------
// Mock ApprovalService
// ---------------------------------------------------------------------------

type mockApprovalService struct {
	createFunc       func(ctx context.Context, req gateway.CreateApprovalRequest) (*domain.Approval, bool, error)
	getFunc          func(ctx context.Context, id uuid.UUID) (*domain.Approval, error)
	listPendingFunc  func(ctx context.Context, threadID string, limit int) ([]*domain.Approval, error)
	claimFunc        func(ctx context.Context, id uuid.UUID, approverID string) (*domain.Approval, error)
	approveFunc      func(ctx context.Context, id uuid.UUID, resolverID string) (*domain.Approval, *domain.ToolExecution, error)
	rejectFunc       func(ctx context.Context, id uuid.UUID, resolverID, reason string) (*domain.Approval, error)
	getExecutionFunc func(ctx context.Context, key string) (*domain.ToolExecution, error)
	listAuditFunc    func(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, error)
}

func (m *mockApprovalService) CreateApproval(ctx context.Context, req gateway.CreateApprovalRequest) (*domain.Approval, bool, error) {
	return m.createFunc(ctx, req)
}

func (m *mockApprovalService) GetApproval(ctx context.Context, id uuid.UUID) (*domain.Approval, error) {
	return m.getFunc(ctx, id)
}

func (m *mockApprovalService) ListPending(ctx context.Context, threadID string, limit int) ([]*domain.Approval, error) {
	return m.listPendingFunc(ctx, threadID, limit)
}

func (m *mockApprovalService) Claim(ctx context.Context, id uuid.UUID, approverID string) (*domain.Approval, error) {
	return m.claimFunc(ctx, id, approverID)
}

func (m *mockApprovalService) Approve(ctx context.Context, id uuid.UUID, resolverID string) (*domain.Approval, *domain.ToolExecution, error) {
	return m.approveFunc(ctx, id, resolverID)
}

func (m *mockApprovalService) Reject(ctx context.Context, id uuid.UUID, resolverID, reason string) (*domain.Approval, error) {
	return m.rejectFunc(ctx, id, resolverID, reason)
}

func (m *mockApprovalService) GetExecution(ctx context.Context, key string) (*domain.ToolExecution, error) {
	return m.getExecutionFunc(ctx, key)
}

func (m *mockApprovalService) ListAudit(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, error) {
	return m.listAuditFunc(ctx, f)
}
