package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed vocabulary of audit events. Anything outside
// this set fails validation; the audit trail is only useful when its
// vocabulary stays bounded and queryable.
type EventType string

const (
	EventApprovalCreated        EventType = "approval_created"
	EventApprovalClaimed        EventType = "approval_claimed"
	EventApprovalApproved       EventType = "approval_approved"
	EventApprovalRejected       EventType = "approval_rejected"
	EventApprovalExpired        EventType = "approval_expired"
	EventToolExecutionStarted   EventType = "tool_execution_started"
	EventToolExecutionCompleted EventType = "tool_execution_completed"
	EventToolExecutionFailed    EventType = "tool_execution_failed"
	EventStaleClaimReclaimed    EventType = "stale_claim_reclaimed"
	EventAuditArchived          EventType = "audit_archived"
)

func (t EventType) Valid() bool {
	switch t {
	case EventApprovalCreated, EventApprovalClaimed, EventApprovalApproved,
		EventApprovalRejected, EventApprovalExpired,
		EventToolExecutionStarted, EventToolExecutionCompleted,
		EventToolExecutionFailed, EventStaleClaimReclaimed,
		EventAuditArchived:
		return true
	default:
		return false
	}
}

// AuditEvent is one immutable fact about a state transition. Events
// referencing neither an approval nor an execution are valid (e.g.
// reclamation sweeps and archival runs).
type AuditEvent struct {
	ID              uuid.UUID      `json:"id"`
	EventType       EventType      `json:"event_type"`
	ActorID         string         `json:"actor_id"`
	ThreadID        *string        `json:"thread_id,omitempty"`
	ApprovalID      *uuid.UUID     `json:"approval_id,omitempty"`
	ToolExecutionID *uuid.UUID     `json:"tool_execution_id,omitempty"`
	Payload         map[string]any `json:"payload"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Validate checks the event before it reaches the append-only log.
func (e *AuditEvent) Validate() error {
	if !e.EventType.Valid() {
		return fmt.Errorf("audit event type %q: %w", e.EventType, ErrInvalidState)
	}
	if e.ActorID == "" {
		return fmt.Errorf("audit event missing actor: %w", ErrInvalidState)
	}
	return nil
}

type AuditFilter struct {
	EventType  EventType
	ThreadID   string
	ApprovalID *uuid.UUID
	Limit      int
	Offset     int
}

type AuditRepository interface {
	// Record appends one event. The normal write path has no update or
	// delete; removal happens only through the archival procedure.
	Record(ctx context.Context, e *AuditEvent) error

	List(ctx context.Context, f AuditFilter) ([]*AuditEvent, error)

	// Archive moves events older than the cutoff into cold storage
	// inside a single transaction that disables and re-enables the
	// delete-prevention guard, and records an audit_archived event for
	// the operation itself. Returns the number of rows moved.
	Archive(ctx context.Context, olderThan time.Time, actorID string) (int64, error)
}
