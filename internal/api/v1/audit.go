package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/toolgate/internal/domain"
)

type ListAuditInput struct {
	EventType  string     `query:"event_type" doc:"Filter by event type"`
	ThreadID   string     `query:"thread_id" doc:"Filter by workflow thread"`
	ApprovalID uuid.UUID `query:"approval_id" doc:"Filter by approval"`
	Limit      int        `query:"limit" minimum:"0" maximum:"1000" doc:"Page size"`
	Offset     int        `query:"offset" minimum:"0" doc:"Page offset"`
}

type ListAuditOutput struct {
	Body []*domain.AuditEvent
}

func RegisterAuditRoutes(api huma.API, svc ApprovalService) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-events",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit events",
		Tags:        []string{"Audit"},
	}, func(ctx context.Context, input *ListAuditInput) (*ListAuditOutput, error) {
		if input.EventType != "" && !domain.EventType(input.EventType).Valid() {
			return nil, huma.Error422UnprocessableEntity("unknown event type")
		}

		var approvalID *uuid.UUID
		if input.ApprovalID != uuid.Nil {
			approvalID = &input.ApprovalID
		}

		events, err := svc.ListAudit(ctx, domain.AuditFilter{
			EventType:  domain.EventType(input.EventType),
			ThreadID:   input.ThreadID,
			ApprovalID: approvalID,
			Limit:      input.Limit,
			Offset:     input.Offset,
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list audit events", err)
		}

		return &ListAuditOutput{Body: events}, nil
	})
}
