package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/toolgate/internal/domain"
	"github.com/gosuda/toolgate/internal/gateway"
	"github.com/gosuda/toolgate/internal/vault"
)

func newTestService(approvals *mockApprovalRepo, executions domain.ToolExecutionRepository, opts gateway.ServiceOptions) *gateway.Service {
	if executions == nil {
		executions = newMemExecutions()
	}
	reg := gateway.NewRegistry()
	reg.Register("send_email", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"sent":true}`), nil
	})

	audit := &mockAuditRepo{
		listFunc: func(context.Context, domain.AuditFilter) ([]*domain.AuditEvent, error) {
			return nil, nil
		},
	}

	return gateway.NewService(approvals, executions, audit, gateway.NewExecutor(executions, reg), opts)
}

func TestService_CreateApproval(t *testing.T) {
	t.Parallel()

	t.Run("creates pending approval with derived key", func(t *testing.T) {
		t.Parallel()

		var stored *domain.Approval
		approvals := &mockApprovalRepo{
			createFunc: func(_ context.Context, a *domain.Approval) (*domain.Approval, error) {
				stored = a
				return a, nil
			},
		}
		pub := &mockPublisher{}
		notifier := &mockNotifier{}
		svc := newTestService(approvals, nil, gateway.ServiceOptions{
			PubSub:      pub,
			Notifier:    notifier,
			ApprovalTTL: time.Hour,
		})

		a, created, err := svc.CreateApproval(context.Background(), gateway.CreateApprovalRequest{
			ThreadID: "thread-1",
			ToolName: "send_email",
			ToolArgs: json.RawMessage(`{"to":"ops@example.com"}`),
			ActorID:  "agent-1",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, domain.ApprovalStatusPending, a.Status)
		assert.True(t, domain.ValidIdempotencyKey(a.IdempotencyKey))
		require.NotNil(t, stored.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(time.Hour), *stored.ExpiresAt, time.Minute)

		require.Len(t, pub.captured(), 2, "thread channel and firehose")
		require.Len(t, notifier.sent(), 1)
		assert.Contains(t, notifier.sent()[0], "send_email")
	})

	t.Run("duplicate key returns existing without creating", func(t *testing.T) {
		t.Parallel()

		existing := &domain.Approval{
			ID:             uuid.New(),
			ThreadID:       "thread-1",
			ToolName:       "send_email",
			Status:         domain.ApprovalStatusApproved,
			IdempotencyKey: "deadbeef",
		}
		approvals := &mockApprovalRepo{
			createFunc: func(context.Context, *domain.Approval) (*domain.Approval, error) {
				return existing, fmt.Errorf("dup: %w", domain.ErrDuplicateIdempotencyKey)
			},
		}
		pub := &mockPublisher{}
		svc := newTestService(approvals, nil, gateway.ServiceOptions{PubSub: pub})

		a, created, err := svc.CreateApproval(context.Background(), gateway.CreateApprovalRequest{
			ThreadID: "thread-1",
			ToolName: "send_email",
			ToolArgs: json.RawMessage(`{"to":"ops@example.com"}`),
			ActorID:  "agent-1",
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, a.ID)
		assert.Equal(t, domain.ApprovalStatusApproved, a.Status, "existing row keeps whatever state it reached")
		assert.Empty(t, pub.captured(), "no event for a deduplicated submission")
	})

	t.Run("rejects missing fields and malformed args", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(&mockApprovalRepo{}, nil, gateway.ServiceOptions{})

		_, _, err := svc.CreateApproval(context.Background(), gateway.CreateApprovalRequest{
			ToolName: "send_email",
			ActorID:  "agent-1",
		})
		require.ErrorIs(t, err, gateway.ErrInvalidRequest)

		_, _, err = svc.CreateApproval(context.Background(), gateway.CreateApprovalRequest{
			ThreadID: "thread-1",
			ToolName: "send_email",
			ActorID:  "agent-1",
			ToolArgs: json.RawMessage(`{not json`),
		})
		require.ErrorIs(t, err, gateway.ErrInvalidRequest)

		_, _, err = svc.CreateApproval(context.Background(), gateway.CreateApprovalRequest{
			ThreadID:       "thread-1",
			ToolName:       "send_email",
			ActorID:        "agent-1",
			IdempotencyKey: "not-64-hex",
		})
		require.ErrorIs(t, err, gateway.ErrInvalidRequest)
	})

	t.Run("checkpoint is encrypted at rest and decrypted on read", func(t *testing.T) {
		t.Parallel()

		key, err := vault.GenerateKey()
		require.NoError(t, err)
		v, err := vault.New(key)
		require.NoError(t, err)

		var stored *domain.Approval
		approvals := &mockApprovalRepo{
			createFunc: func(_ context.Context, a *domain.Approval) (*domain.Approval, error) {
				stored = a
				return a, nil
			},
			getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Approval, error) {
				copied := *stored
				return &copied, nil
			},
		}
		svc := newTestService(approvals, nil, gateway.ServiceOptions{Vault: v})

		plain := []byte(`{"workflow_state":"step-7"}`)
		created, _, err := svc.CreateApproval(context.Background(), gateway.CreateApprovalRequest{
			ThreadID:   "thread-1",
			ToolName:   "send_email",
			ActorID:    "agent-1",
			Checkpoint: plain,
		})
		require.NoError(t, err)

		assert.True(t, vault.Encrypted(stored.Checkpoint), "stored blob must be sealed")
		assert.NotEqual(t, plain, stored.Checkpoint)

		got, err := svc.GetApproval(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, plain, got.Checkpoint)
	})
}

func TestService_ClaimAndResolve(t *testing.T) {
	t.Parallel()

	t.Run("claim publishes event", func(t *testing.T) {
		t.Parallel()

		id := uuid.New()
		approvals := &mockApprovalRepo{
			claimFunc: func(_ context.Context, gotID uuid.UUID, approverID string) (*domain.Approval, error) {
				assert.Equal(t, id, gotID)
				assert.Equal(t, "alice", approverID)
				return &domain.Approval{ID: id, ThreadID: "thread-1", Status: domain.ApprovalStatusClaimed}, nil
			},
		}
		pub := &mockPublisher{}
		svc := newTestService(approvals, nil, gateway.ServiceOptions{PubSub: pub})

		a, err := svc.Claim(context.Background(), id, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.ApprovalStatusClaimed, a.Status)
		require.Len(t, pub.captured(), 2)
		assert.Contains(t, string(pub.captured()[0].payload), "approval_claimed")
	})

	t.Run("lost claim race surfaces ErrAlreadyClaimed", func(t *testing.T) {
		t.Parallel()

		approvals := &mockApprovalRepo{
			claimFunc: func(context.Context, uuid.UUID, string) (*domain.Approval, error) {
				return nil, fmt.Errorf("claim: %w", domain.ErrAlreadyClaimed)
			},
		}
		svc := newTestService(approvals, nil, gateway.ServiceOptions{})

		_, err := svc.Claim(context.Background(), uuid.New(), "bob")
		require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	})

	t.Run("approve resolves then executes", func(t *testing.T) {
		t.Parallel()

		id := uuid.New()
		approvals := &mockApprovalRepo{
			resolveFunc: func(_ context.Context, _ uuid.UUID, decision domain.Decision, resolverID, _ string) (*domain.Approval, error) {
				assert.Equal(t, domain.DecisionApprove, decision)
				assert.Equal(t, "alice", resolverID)
				return &domain.Approval{
					ID:             id,
					ThreadID:       "thread-1",
					ToolName:       "send_email",
					ToolArgs:       json.RawMessage(`{}`),
					Status:         domain.ApprovalStatusApproved,
					IdempotencyKey: "k-approve",
				}, nil
			},
		}
		svc := newTestService(approvals, nil, gateway.ServiceOptions{})

		a, exec, err := svc.Approve(context.Background(), id, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.ApprovalStatusApproved, a.Status)
		require.NotNil(t, exec)
		assert.Equal(t, domain.ExecutionStatusSucceeded, exec.Status)
	})

	t.Run("approve by non-holder does not execute", func(t *testing.T) {
		t.Parallel()

		executions := &mockExecutionRepo{
			reserveFunc: func(context.Context, *domain.ToolExecution) (bool, *domain.ToolExecution, error) {
				t.Fatal("executor must not run when resolve fails")
				return false, nil, nil
			},
		}
		approvals := &mockApprovalRepo{
			resolveFunc: func(context.Context, uuid.UUID, domain.Decision, string, string) (*domain.Approval, error) {
				return nil, fmt.Errorf("resolve: %w", domain.ErrInvalidState)
			},
		}
		svc := newTestService(approvals, executions, gateway.ServiceOptions{})

		_, _, err := svc.Approve(context.Background(), uuid.New(), "bob")
		require.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("reject passes reason through", func(t *testing.T) {
		t.Parallel()

		approvals := &mockApprovalRepo{
			resolveFunc: func(_ context.Context, _ uuid.UUID, decision domain.Decision, _, reason string) (*domain.Approval, error) {
				assert.Equal(t, domain.DecisionReject, decision)
				assert.Equal(t, "too risky", reason)
				return &domain.Approval{Status: domain.ApprovalStatusRejected, RejectionReason: &reason}, nil
			},
		}
		svc := newTestService(approvals, nil, gateway.ServiceOptions{})

		a, err := svc.Reject(context.Background(), uuid.New(), "alice", "too risky")
		require.NoError(t, err)
		assert.Equal(t, domain.ApprovalStatusRejected, a.Status)
	})
}

func TestService_PublishFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	approvals := &mockApprovalRepo{
		createFunc: func(_ context.Context, a *domain.Approval) (*domain.Approval, error) {
			return a, nil
		},
	}
	pub := &mockPublisher{err: errors.New("redis down")}
	svc := newTestService(approvals, nil, gateway.ServiceOptions{PubSub: pub})

	_, created, err := svc.CreateApproval(context.Background(), gateway.CreateApprovalRequest{
		ThreadID: "thread-1",
		ToolName: "send_email",
		ActorID:  "agent-1",
	})
	require.NoError(t, err, "fan-out trouble must not fail the write")
	assert.True(t, created)
}
