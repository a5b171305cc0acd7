package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/toolgate/internal/domain"
	"github.com/gosuda/toolgate/internal/store/redis"
	"github.com/gosuda/toolgate/internal/vault"
)

// ErrInvalidRequest is returned when a submission fails validation
// before it reaches storage.
var ErrInvalidRequest = errors.New("gateway: invalid request") //nolint:gochecknoglobals // sentinel error

// Publisher abstracts the Redis pub/sub publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notifier pushes a human-readable alert to an external channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Service coordinates the approval lifecycle: submission, claim,
// resolution, and execution of approved tool calls. State transitions
// and their audit events live in the repositories; the service layers
// validation, checkpoint encryption, event fan-out, and notifications
// on top.
type Service struct {
	approvals  domain.ApprovalRepository
	executions domain.ToolExecutionRepository
	audit      domain.AuditRepository
	executor   *Executor
	vault      *vault.Vault // nil disables checkpoint encryption
	pubsub     Publisher    // nil disables event fan-out
	notifier   Notifier     // nil disables notifications

	approvalTTL  time.Duration
	pendingLimit int
}

type ServiceOptions struct {
	Vault        *vault.Vault
	PubSub       Publisher
	Notifier     Notifier
	ApprovalTTL  time.Duration
	PendingLimit int
}

func NewService(
	approvals domain.ApprovalRepository,
	executions domain.ToolExecutionRepository,
	audit domain.AuditRepository,
	executor *Executor,
	opts ServiceOptions,
) *Service {
	if opts.ApprovalTTL <= 0 {
		opts.ApprovalTTL = time.Hour
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = 500
	}

	return &Service{
		approvals:    approvals,
		executions:   executions,
		audit:        audit,
		executor:     executor,
		vault:        opts.Vault,
		pubsub:       opts.PubSub,
		notifier:     opts.Notifier,
		approvalTTL:  opts.ApprovalTTL,
		pendingLimit: opts.PendingLimit,
	}
}

// CreateApprovalRequest is a tool-call submission from an agent runtime.
type CreateApprovalRequest struct {
	ThreadID     string
	CheckpointID *string
	ToolName     string
	ToolArgs     json.RawMessage
	ActorID      string
	// IdempotencyKey is derived from thread, tool and args when empty.
	IdempotencyKey string
	// Checkpoint is an optional workflow snapshot, encrypted at rest.
	Checkpoint []byte
	// TTL overrides the configured approval lifetime when positive.
	TTL time.Duration
}

// CreateApproval submits a tool call for human review. A resubmission
// carrying an already-used idempotency key does not create a second
// row: the existing approval is returned with created=false, whatever
// state it has reached since.
func (s *Service) CreateApproval(ctx context.Context, req CreateApprovalRequest) (*domain.Approval, bool, error) {
	if req.ThreadID == "" || req.ToolName == "" || req.ActorID == "" {
		return nil, false, fmt.Errorf("gateway.Service.CreateApproval: thread_id, tool_name and actor_id are required: %w", ErrInvalidRequest)
	}
	if len(req.ToolArgs) == 0 {
		req.ToolArgs = json.RawMessage(`{}`)
	}
	if !json.Valid(req.ToolArgs) {
		return nil, false, fmt.Errorf("gateway.Service.CreateApproval: tool_args is not valid JSON: %w", ErrInvalidRequest)
	}

	key := req.IdempotencyKey
	if key == "" {
		derived, err := domain.IdempotencyKey(req.ThreadID, req.ToolName, req.ToolArgs)
		if err != nil {
			return nil, false, fmt.Errorf("gateway.Service.CreateApproval: derive key: %w", err)
		}
		key = derived
	} else if !domain.ValidIdempotencyKey(key) {
		return nil, false, fmt.Errorf("gateway.Service.CreateApproval: malformed idempotency key: %w", ErrInvalidRequest)
	}

	checkpoint, err := s.sealCheckpoint(req.Checkpoint)
	if err != nil {
		return nil, false, fmt.Errorf("gateway.Service.CreateApproval: %w", err)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.approvalTTL
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	approval := &domain.Approval{
		ID:             uuid.New(),
		ThreadID:       req.ThreadID,
		CheckpointID:   req.CheckpointID,
		ToolName:       req.ToolName,
		ToolArgs:       req.ToolArgs,
		ActorID:        req.ActorID,
		Status:         domain.ApprovalStatusPending,
		IdempotencyKey: key,
		Checkpoint:     checkpoint,
		ExpiresAt:      &expiresAt,
		CreatedAt:      now,
	}

	created, err := s.approvals.Create(ctx, approval)
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		log.Debug().
			Str("idempotency_key", key).
			Str("existing_id", created.ID.String()).
			Msg("duplicate submission, returning existing approval")
		if openErr := s.openCheckpoint(created); openErr != nil {
			return nil, false, fmt.Errorf("gateway.Service.CreateApproval: %w", openErr)
		}
		return created, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("gateway.Service.CreateApproval: %w", err)
	}

	s.publish(ctx, created, "approval_created")
	s.notify(ctx, fmt.Sprintf("Approval requested: %s on thread %s (id %s)",
		created.ToolName, created.ThreadID, created.ID))

	return created, true, nil
}

// GetApproval returns the approval with its checkpoint decrypted.
func (s *Service) GetApproval(ctx context.Context, id uuid.UUID) (*domain.Approval, error) {
	a, err := s.approvals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.GetApproval: %w", err)
	}
	if err := s.openCheckpoint(a); err != nil {
		return nil, fmt.Errorf("gateway.Service.GetApproval: %w", err)
	}

	return a, nil
}

func (s *Service) ListPending(ctx context.Context, threadID string, limit int) ([]*domain.Approval, error) {
	if limit <= 0 || limit > s.pendingLimit {
		limit = s.pendingLimit
	}

	approvals, err := s.approvals.ListPending(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.ListPending: %w", err)
	}
	for _, a := range approvals {
		if err := s.openCheckpoint(a); err != nil {
			return nil, fmt.Errorf("gateway.Service.ListPending: %w", err)
		}
	}

	return approvals, nil
}

// Claim reserves a pending approval for one approver. Losing a claim
// race surfaces as domain.ErrAlreadyClaimed from the repository.
func (s *Service) Claim(ctx context.Context, id uuid.UUID, approverID string) (*domain.Approval, error) {
	a, err := s.approvals.Claim(ctx, id, approverID)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.Claim: %w", err)
	}
	if err := s.openCheckpoint(a); err != nil {
		return nil, fmt.Errorf("gateway.Service.Claim: %w", err)
	}

	s.publish(ctx, a, "approval_claimed")

	return a, nil
}

// Approve resolves a claimed approval and hands it to the executor.
// The resolution commits before the tool runs; an execution failure
// never rolls the approval back to pending.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, resolverID string) (*domain.Approval, *domain.ToolExecution, error) {
	a, err := s.approvals.Resolve(ctx, id, domain.DecisionApprove, resolverID, "")
	if err != nil {
		return nil, nil, fmt.Errorf("gateway.Service.Approve: %w", err)
	}

	s.publish(ctx, a, "approval_approved")

	exec, err := s.executor.Execute(ctx, a)
	if err != nil {
		return a, nil, fmt.Errorf("gateway.Service.Approve: %w", err)
	}

	return a, exec, nil
}

// Reject resolves a claimed approval without running the tool.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, resolverID, reason string) (*domain.Approval, error) {
	a, err := s.approvals.Resolve(ctx, id, domain.DecisionReject, resolverID, reason)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.Reject: %w", err)
	}

	s.publish(ctx, a, "approval_rejected")

	return a, nil
}

func (s *Service) GetExecution(ctx context.Context, idempotencyKey string) (*domain.ToolExecution, error) {
	exec, err := s.executions.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.GetExecution: %w", err)
	}

	return exec, nil
}

func (s *Service) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEvent, error) {
	events, err := s.audit.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.ListAudit: %w", err)
	}

	return events, nil
}

func (s *Service) sealCheckpoint(plain []byte) ([]byte, error) {
	if len(plain) == 0 || s.vault == nil {
		return plain, nil
	}

	sealed, err := s.vault.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("seal checkpoint: %w", err)
	}

	return sealed, nil
}

// openCheckpoint decrypts in place. Blobs written before encryption was
// enabled pass through the vault untouched.
func (s *Service) openCheckpoint(a *domain.Approval) error {
	if len(a.Checkpoint) == 0 || s.vault == nil {
		return nil
	}

	plain, err := s.vault.Decrypt(a.Checkpoint)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	a.Checkpoint = plain

	return nil
}

// approvalEvent is the pub/sub wire format for lifecycle changes.
type approvalEvent struct {
	Event      string    `json:"event"`
	ApprovalID uuid.UUID `json:"approval_id"`
	ThreadID   string    `json:"thread_id"`
	ToolName   string    `json:"tool_name"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// publish fans the event out to the approval's thread channel and the
// firehose. Fan-out is best effort: subscribers reconcile from the
// store, so a dropped event is logged, not propagated.
func (s *Service) publish(ctx context.Context, a *domain.Approval, event string) {
	if s.pubsub == nil {
		return
	}

	payload, err := json.Marshal(approvalEvent{
		Event:      event,
		ApprovalID: a.ID,
		ThreadID:   a.ThreadID,
		ToolName:   a.ToolName,
		Status:     string(a.Status),
		At:         time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("marshal approval event")
		return
	}

	for _, channel := range []string{redis.ThreadChannel(a.ThreadID), redis.FirehoseChannel()} {
		if err := s.pubsub.Publish(ctx, channel, payload); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("publish approval event")
		}
	}
}

func (s *Service) notify(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, message); err != nil {
		log.Warn().Err(err).Msg("send notification")
	}
}
