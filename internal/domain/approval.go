package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusClaimed  ApprovalStatus = "claimed"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
// Claimed is not terminal: it resolves to approved/rejected, expires,
// or reverts to pending via stale-claim reclamation.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusExpired:
		return true
	default:
		return false
	}
}

// ValidTransition reports whether moving from s to target follows the
// approval state machine. The claimed->pending edge is the one
// non-monotonic transition and exists only for reclaiming claims
// abandoned by a crashed approver.
func (s ApprovalStatus) ValidTransition(target ApprovalStatus) bool {
	switch s {
	case ApprovalStatusPending:
		return target == ApprovalStatusClaimed || target == ApprovalStatusExpired
	case ApprovalStatusClaimed:
		return target == ApprovalStatusApproved ||
			target == ApprovalStatusRejected ||
			target == ApprovalStatusExpired ||
			target == ApprovalStatusPending // stale-claim reclamation only
	default:
		return false
	}
}

// Approval is one request for human sign-off on a proposed tool call.
// Rows are never physically deleted; terminal states are retained for
// the audit trail.
type Approval struct {
	ID              uuid.UUID       `json:"id"`
	ThreadID        string          `json:"thread_id"`
	CheckpointID    *string         `json:"checkpoint_id,omitempty"`
	ToolName        string          `json:"tool_name"`
	ToolArgs        json.RawMessage `json:"tool_args"`
	ActorID         string          `json:"actor_id"`
	Status          ApprovalStatus  `json:"status"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Checkpoint      []byte          `json:"checkpoint,omitempty"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy       *string         `json:"claimed_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      *string         `json:"resolved_by,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Decision is the outcome an approver chooses for a claimed approval.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type ApprovalRepository interface {
	// Create inserts the approval and its approval_created audit event
	// atomically. Returns ErrDuplicateIdempotencyKey (with the existing
	// row) when the idempotency key is already taken.
	Create(ctx context.Context, a *Approval) (*Approval, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Approval, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Approval, error)
	ListPending(ctx context.Context, threadID string, limit int) ([]*Approval, error)

	// Claim transitions pending->claimed with a conditional update.
	// Zero affected rows is classified as ErrAlreadyClaimed,
	// ErrExpired, ErrInvalidState, or ErrNotFound.
	Claim(ctx context.Context, id uuid.UUID, approverID string) (*Approval, error)

	// Resolve transitions claimed->approved|rejected. Only the actor
	// holding the claim may resolve; anything else is ErrInvalidState.
	Resolve(ctx context.Context, id uuid.UUID, decision Decision, resolverID, reason string) (*Approval, error)

	// ReclaimStale reverts approvals claimed before the threshold back
	// to pending as a single bulk conditional update, emitting one
	// stale_claim_reclaimed event per row. Returns reclaimed IDs.
	ReclaimStale(ctx context.Context, claimedBefore time.Time) ([]uuid.UUID, error)

	// ExpireOverdue transitions pending/claimed approvals past their
	// expires_at to expired as a single bulk conditional update.
	ExpireOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
