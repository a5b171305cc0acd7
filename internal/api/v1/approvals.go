package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/toolgate/internal/domain"
	"github.com/gosuda/toolgate/internal/gateway"
	"github.com/gosuda/toolgate/internal/server/middleware"
)

type CreateApprovalInput struct {
	Body struct {
		ThreadID       string          `json:"thread_id" minLength:"1" maxLength:"255" doc:"Workflow thread ID"`
		CheckpointID   *string         `json:"checkpoint_id,omitempty" doc:"Optional workflow checkpoint reference"`
		ToolName       string          `json:"tool_name" minLength:"1" maxLength:"255" doc:"Tool to run once approved"`
		ToolArgs       json.RawMessage `json:"tool_args,omitempty" doc:"Tool arguments as a JSON object"`
		IdempotencyKey string          `json:"idempotency_key,omitempty" doc:"64-hex dedup key; derived from thread, tool and args when omitted"`
		Checkpoint     []byte          `json:"checkpoint,omitempty" doc:"Workflow snapshot, stored encrypted (base64)"`
		TTLSeconds     int             `json:"ttl_seconds,omitempty" minimum:"0" maximum:"604800" doc:"Override the approval lifetime"`
	}
}

type CreateApprovalOutput struct {
	Status int
	Body   struct {
		Approval *domain.Approval `json:"approval"`
		Created  bool             `json:"created" doc:"False when an existing approval with the same idempotency key was returned"`
	}
}

type ListApprovalsInput struct {
	ThreadID string `query:"thread_id" doc:"Filter by workflow thread"`
	Limit    int    `query:"limit" minimum:"0" maximum:"500" doc:"Page size"`
}

type ListApprovalsOutput struct {
	Body []*domain.Approval
}

type GetApprovalInput struct {
	ID uuid.UUID `path:"id" doc:"Approval ID"`
}

type GetApprovalOutput struct {
	Body *domain.Approval
}

type ClaimApprovalInput struct {
	ID uuid.UUID `path:"id" doc:"Approval ID"`
}

type ClaimApprovalOutput struct {
	Body *domain.Approval
}

type ApproveApprovalInput struct {
	ID uuid.UUID `path:"id" doc:"Approval ID"`
}

type ApproveApprovalOutput struct {
	Body struct {
		Approval  *domain.Approval      `json:"approval"`
		Execution *domain.ToolExecution `json:"execution"`
	}
}

type RejectApprovalInput struct {
	ID   uuid.UUID `path:"id" doc:"Approval ID"`
	Body struct {
		Reason string `json:"reason,omitempty" maxLength:"2000" doc:"Why the tool call was rejected"`
	}
}

type RejectApprovalOutput struct {
	Body *domain.Approval
}

func RegisterApprovalRoutes(api huma.API, svc ApprovalService) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-approval",
		Method:        http.MethodPost,
		Path:          "/approvals",
		Summary:       "Submit a tool call for human review",
		Tags:          []string{"Approvals"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateApprovalInput) (*CreateApprovalOutput, error) {
		actorID, err := requireActor(ctx, middleware.RoleAgent)
		if err != nil {
			return nil, err
		}

		a, created, err := svc.CreateApproval(ctx, gateway.CreateApprovalRequest{
			ThreadID:       input.Body.ThreadID,
			CheckpointID:   input.Body.CheckpointID,
			ToolName:       input.Body.ToolName,
			ToolArgs:       input.Body.ToolArgs,
			ActorID:        actorID,
			IdempotencyKey: input.Body.IdempotencyKey,
			Checkpoint:     input.Body.Checkpoint,
			TTL:            time.Duration(input.Body.TTLSeconds) * time.Second,
		})
		if err != nil {
			if errors.Is(err, gateway.ErrInvalidRequest) {
				return nil, huma.Error422UnprocessableEntity("invalid approval request", err)
			}
			return nil, huma.Error500InternalServerError("failed to create approval", err)
		}

		out := &CreateApprovalOutput{Status: http.StatusCreated}
		if !created {
			out.Status = http.StatusOK
		}
		out.Body.Approval = a
		out.Body.Created = created

		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals",
		Summary:     "List pending approvals",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, input *ListApprovalsInput) (*ListApprovalsOutput, error) {
		approvals, err := svc.ListPending(ctx, input.ThreadID, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list approvals", err)
		}

		return &ListApprovalsOutput{Body: approvals}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/approvals/{id}",
		Summary:     "Get an approval by ID",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, input *GetApprovalInput) (*GetApprovalOutput, error) {
		a, err := svc.GetApproval(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("approval not found")
			}
			return nil, huma.Error500InternalServerError("failed to get approval", err)
		}

		return &GetApprovalOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/claim",
		Summary:     "Claim a pending approval for review",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, input *ClaimApprovalInput) (*ClaimApprovalOutput, error) {
		actorID, err := requireActor(ctx, middleware.RoleApprover)
		if err != nil {
			return nil, err
		}

		a, err := svc.Claim(ctx, input.ID, actorID)
		if err != nil {
			return nil, claimError(err)
		}

		return &ClaimApprovalOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/approve",
		Summary:     "Approve a claimed tool call and execute it",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, input *ApproveApprovalInput) (*ApproveApprovalOutput, error) {
		actorID, err := requireActor(ctx, middleware.RoleApprover)
		if err != nil {
			return nil, err
		}

		a, exec, err := svc.Approve(ctx, input.ID, actorID)
		if err != nil {
			return nil, resolveError(err)
		}

		out := &ApproveApprovalOutput{}
		out.Body.Approval = a
		out.Body.Execution = exec

		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/reject",
		Summary:     "Reject a claimed tool call",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, input *RejectApprovalInput) (*RejectApprovalOutput, error) {
		actorID, err := requireActor(ctx, middleware.RoleApprover)
		if err != nil {
			return nil, err
		}

		a, err := svc.Reject(ctx, input.ID, actorID, input.Body.Reason)
		if err != nil {
			return nil, resolveError(err)
		}

		return &RejectApprovalOutput{Body: a}, nil
	})
}

// requireActor extracts the actor identity and checks the role. Admins
// pass every role check.
func requireActor(ctx context.Context, role string) (string, error) {
	actorID, ok := middleware.ActorIDFromContext(ctx)
	if !ok {
		return "", huma.Error401Unauthorized("missing actor identity")
	}

	got, _ := middleware.RoleFromContext(ctx)
	if got != role && got != middleware.RoleAdmin {
		return "", huma.Error403Forbidden("role " + role + " required")
	}

	return actorID, nil
}

func claimError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("approval not found")
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return huma.Error409Conflict("approval already claimed by another approver")
	case errors.Is(err, domain.ErrExpired):
		return huma.Error410Gone("approval expired")
	case errors.Is(err, domain.ErrInvalidState):
		return huma.Error409Conflict("approval is not pending")
	default:
		return huma.Error500InternalServerError("failed to claim approval", err)
	}
}

func resolveError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("approval not found")
	case errors.Is(err, domain.ErrExpired):
		return huma.Error410Gone("approval expired")
	case errors.Is(err, domain.ErrInvalidState):
		return huma.Error409Conflict("approval is not claimed by you")
	default:
		return huma.Error500InternalServerError("failed to resolve approval", err)
	}
}
