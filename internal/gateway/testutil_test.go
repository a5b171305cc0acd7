package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/toolgate/internal/domain"
)

// ---------------------------------------------------------------------------
// Mock ApprovalRepository
// ---------------------------------------------------------------------------

type mockApprovalRepo struct {
	createFunc        func(ctx context.Context, a *domain.Approval) (*domain.Approval, error)
	getByIDFunc       func(ctx context.Context, id uuid.UUID) (*domain.Approval, error)
	getByKeyFunc      func(ctx context.Context, key string) (*domain.Approval, error)
	listPendingFunc   func(ctx context.Context, threadID string, limit int) ([]*domain.Approval, error)
	claimFunc         func(ctx context.Context, id uuid.UUID, approverID string) (*domain.Approval, error)
	resolveFunc       func(ctx context.Context, id uuid.UUID, decision domain.Decision, resolverID, reason string) (*domain.Approval, error)
	reclaimStaleFunc  func(ctx context.Context, claimedBefore time.Time) ([]uuid.UUID, error)
	expireOverdueFunc func(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

func (m *mockApprovalRepo) Create(ctx context.Context, a *domain.Approval) (*domain.Approval, error) {
	return m.createFunc(ctx, a)
}

func (m *mockApprovalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Approval, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockApprovalRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Approval, error) {
	return m.getByKeyFunc(ctx, key)
}

func (m *mockApprovalRepo) ListPending(ctx context.Context, threadID string, limit int) ([]*domain.Approval, error) {
	return m.listPendingFunc(ctx, threadID, limit)
}

func (m *mockApprovalRepo) Claim(ctx context.Context, id uuid.UUID, approverID string) (*domain.Approval, error) {
	return m.claimFunc(ctx, id, approverID)
}

func (m *mockApprovalRepo) Resolve(ctx context.Context, id uuid.UUID, decision domain.Decision, resolverID, reason string) (*domain.Approval, error) {
	return m.resolveFunc(ctx, id, decision, resolverID, reason)
}

func (m *mockApprovalRepo) ReclaimStale(ctx context.Context, claimedBefore time.Time) ([]uuid.UUID, error) {
	return m.reclaimStaleFunc(ctx, claimedBefore)
}

func (m *mockApprovalRepo) ExpireOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return m.expireOverdueFunc(ctx, now)
}

// ---------------------------------------------------------------------------
// Mock ToolExecutionRepository (func fields)
// ---------------------------------------------------------------------------

type mockExecutionRepo struct {
	reserveFunc      func(ctx context.Context, exec *domain.ToolExecution) (bool, *domain.ToolExecution, error)
	getByKeyFunc     func(ctx context.Context, key string) (*domain.ToolExecution, error)
	markRunningFunc  func(ctx context.Context, id uuid.UUID) error
	completeFunc     func(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, result json.RawMessage, errMsg, actorID string) error
	reclaimStuckFunc func(ctx context.Context, stuckBefore time.Time) ([]uuid.UUID, error)
}

func (m *mockExecutionRepo) Reserve(ctx context.Context, exec *domain.ToolExecution) (bool, *domain.ToolExecution, error) {
	return m.reserveFunc(ctx, exec)
}

func (m *mockExecutionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.ToolExecution, error) {
	return m.getByKeyFunc(ctx, key)
}

func (m *mockExecutionRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return m.markRunningFunc(ctx, id)
}

func (m *mockExecutionRepo) Complete(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, result json.RawMessage, errMsg, actorID string) error {
	return m.completeFunc(ctx, id, status, result, errMsg, actorID)
}

func (m *mockExecutionRepo) ReclaimStuck(ctx context.Context, stuckBefore time.Time) ([]uuid.UUID, error) {
	return m.reclaimStuckFunc(ctx, stuckBefore)
}

// ---------------------------------------------------------------------------
// In-memory ToolExecutionRepository — real Reserve semantics for
// exercising the claim-first flow end to end
// ---------------------------------------------------------------------------

type memExecutions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.ToolExecution
	keys map[string]uuid.UUID
}

func newMemExecutions() *memExecutions {
	return &memExecutions{
		byID: make(map[uuid.UUID]*domain.ToolExecution),
		keys: make(map[string]uuid.UUID),
	}
}

func (m *memExecutions) Reserve(_ context.Context, exec *domain.ToolExecution) (bool, *domain.ToolExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.keys[exec.IdempotencyKey]; ok {
		copied := *m.byID[id]
		return false, &copied, nil
	}

	now := time.Now().UTC()
	stored := *exec
	stored.Status = domain.ExecutionStatusClaimed
	stored.ClaimedAt = &now
	stored.CreatedAt = now
	m.byID[stored.ID] = &stored
	m.keys[stored.IdempotencyKey] = stored.ID

	copied := stored
	return true, &copied, nil
}

func (m *memExecutions) GetByIdempotencyKey(_ context.Context, key string) (*domain.ToolExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.keys[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *m.byID[id]
	return &copied, nil
}

func (m *memExecutions) MarkRunning(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.byID[id]
	if !ok || exec.Status != domain.ExecutionStatusClaimed {
		return domain.ErrInvalidState
	}
	now := time.Now().UTC()
	exec.Status = domain.ExecutionStatusRunning
	exec.ExecutedAt = &now
	return nil
}

func (m *memExecutions) Complete(_ context.Context, id uuid.UUID, status domain.ExecutionStatus, result json.RawMessage, errMsg, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !status.Terminal() {
		return fmt.Errorf("non-terminal status %q: %w", status, domain.ErrInvalidState)
	}
	exec, ok := m.byID[id]
	if !ok || exec.Status.Terminal() {
		return domain.ErrInvalidState
	}
	now := time.Now().UTC()
	exec.Status = status
	exec.Result = result
	exec.Success = status == domain.ExecutionStatusSucceeded
	exec.CompletedAt = &now
	if errMsg != "" {
		exec.ErrorMessage = &errMsg
	}
	return nil
}

func (m *memExecutions) ReclaimStuck(_ context.Context, stuckBefore time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uuid.UUID
	for _, exec := range m.byID {
		if exec.Status.Terminal() || exec.ClaimedAt == nil || !exec.ClaimedAt.Before(stuckBefore) {
			continue
		}
		exec.Status = domain.ExecutionStatusFailed
		ids = append(ids, exec.ID)
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Mock AuditRepository
// ---------------------------------------------------------------------------

type mockAuditRepo struct {
	recordFunc  func(ctx context.Context, e *domain.AuditEvent) error
	listFunc    func(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, error)
	archiveFunc func(ctx context.Context, olderThan time.Time, actorID string) (int64, error)
}

func (m *mockAuditRepo) Record(ctx context.Context, e *domain.AuditEvent) error {
	return m.recordFunc(ctx, e)
}

func (m *mockAuditRepo) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, error) {
	return m.listFunc(ctx, f)
}

func (m *mockAuditRepo) Archive(ctx context.Context, olderThan time.Time, actorID string) (int64, error) {
	return m.archiveFunc(ctx, olderThan, actorID)
}

// ---------------------------------------------------------------------------
// Publish / notify capture
// ---------------------------------------------------------------------------

type capturedEvent struct {
	channel string
	payload []byte
}

type mockPublisher struct {
	mu     sync.Mutex
	events []capturedEvent
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, capturedEvent{channel: channel, payload: payload})
	return nil
}

func (m *mockPublisher) captured() []capturedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capturedEvent(nil), m.events...)
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (m *mockNotifier) Notify(_ context.Context, message string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockNotifier) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}
